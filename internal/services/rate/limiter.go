package rate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const downloadWindow = time.Minute

type WindowStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter is disabled when perMinute is zero.
type Limiter struct {
	store     WindowStore
	perMinute int
}

func NewLimiter(store WindowStore, perMinute int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}

	return &Limiter{
		store:     store,
		perMinute: perMinute,
	}
}

func (l *Limiter) AllowDownload(ctx context.Context, remoteAddr string) (int64, bool, error) {
	if l == nil || l.perMinute == 0 {
		return 0, true, nil
	}
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return 0, false, fmt.Errorf("invalid remote address")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	count, ttl, err := l.store.Hit(ctx, downloadKey(remoteAddr), downloadWindow)
	if err != nil {
		return 0, false, err
	}
	if count > int64(l.perMinute) {
		return ceilSeconds(ttl), false, nil
	}

	return 0, true, nil
}

func downloadKey(remoteAddr string) string {
	return "rate:downloads:min:" + remoteAddr
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}

package expire

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

const defaultPendingTTL = 24 * time.Hour

type expirer interface {
	Expire(ctx context.Context, cutoff time.Time) ([]model.Purchase, error)
}

type Job struct {
	ledger     expirer
	pendingTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func New(ledger expirer, pendingTTL time.Duration, logger *zap.Logger) *Job {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		ledger:     ledger,
		pendingTTL: pendingTTL,
		now:        time.Now,
		logger:     logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.ledger == nil {
		return fmt.Errorf("purchase ledger is nil")
	}

	cutoff := j.now().UTC().Add(-j.pendingTTL)
	expired, err := j.ledger.Expire(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire open purchases: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(expired))
	for _, p := range expired {
		ids = append(ids, p.ID)
	}
	j.logger.Info("expire sweep completed",
		zap.Int("expired", len(expired)),
		zap.Int64s("purchase_ids", ids),
		zap.Time("cutoff", cutoff),
	)
	return nil
}

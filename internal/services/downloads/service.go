package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrFileNotFound = errors.New("publication file not found")
	ErrRateLimited  = errors.New("too many downloads")
	ErrLimitReached = errors.New("download limit reached")
)

const defaultContentType = "application/octet-stream"

type TooFastError struct {
	RetryAfterSec int64
}

func (e TooFastError) Error() string {
	return "too many downloads"
}

func (e TooFastError) Is(target error) bool {
	return target == ErrRateLimited
}

func (e TooFastError) RetryAfter() int64 {
	if e.RetryAfterSec <= 0 {
		return 1
	}
	return e.RetryAfterSec
}

func IsTooFast(err error) (*TooFastError, bool) {
	var tf TooFastError
	if errors.As(err, &tf) {
		return &tf, true
	}
	return nil, false
}

type ObjectStorage interface {
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

type DownloadStore interface {
	Record(ctx context.Context, purchaseID int64, remoteAddr string, at time.Time, limit int) (model.Download, error)
	CountByPurchase(ctx context.Context, purchaseID int64) (int, error)
}

type Catalog interface {
	Publication(ctx context.Context, publicationID int64) (model.Publication, error)
}

type RateLimiter interface {
	AllowDownload(ctx context.Context, remoteAddr string) (int64, bool, error)
}

type Observer interface {
	Download(kind string)
}

type Dependencies struct {
	Storage   ObjectStorage
	Downloads DownloadStore
	Catalog   Catalog
	Limiter   RateLimiter
	Observer  Observer
	Logger    *zap.Logger
}

type Service struct {
	storage   ObjectStorage
	downloads DownloadStore
	catalog   Catalog
	limiter   RateLimiter
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
}

// File is a publication ready to be streamed. Body must be closed.
type File struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		storage:   deps.Storage,
		downloads: deps.Downloads,
		catalog:   deps.Catalog,
		limiter:   deps.Limiter,
		observer:  deps.Observer,
		logger:    log,
		now:       time.Now,
	}
}

// Serve opens the publication file of an entitled purchase and records one
// download. Every successful call counts, retries included. The record is
// refused with ErrLimitReached once limit downloads exist.
func (s *Service) Serve(ctx context.Context, p model.Purchase, limit int, remoteAddr string) (File, error) {
	if p.ID <= 0 || p.Status != enums.PurchaseStatusReady {
		return File{}, ErrValidation
	}
	if s.storage == nil || s.downloads == nil || s.catalog == nil {
		return File{}, fmt.Errorf("downloads service is not configured")
	}

	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.AllowDownload(ctx, remoteAddr)
		if err != nil {
			s.logger.Warn("download rate check failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
		} else if !allowed {
			return File{}, TooFastError{RetryAfterSec: retryAfter}
		}
	}

	pub, err := s.catalog.Publication(ctx, p.PublicationID)
	if err != nil {
		return File{}, fmt.Errorf("load publication: %w", err)
	}

	body, size, err := s.storage.Open(ctx, pub.ObjectKey)
	if err != nil {
		return File{}, err
	}

	if _, err := s.downloads.Record(ctx, p.ID, remoteAddr, s.now().UTC(), limit); err != nil {
		_ = body.Close()
		if errors.Is(err, pgrepo.ErrDownloadLimitReached) {
			return File{}, ErrLimitReached
		}
		return File{}, err
	}
	if s.observer != nil {
		s.observer.Download(string(p.Kind))
	}

	if size <= 0 {
		size = pub.SizeBytes
	}
	contentType := strings.TrimSpace(pub.Format.MimeType)
	if contentType == "" {
		contentType = defaultContentType
	}

	return File{
		Body:          body,
		ContentType:   contentType,
		ContentLength: size,
		Filename:      Filename(pub),
	}, nil
}

func (s *Service) DownloadCount(ctx context.Context, purchaseID int64) (int, error) {
	if purchaseID <= 0 {
		return 0, ErrValidation
	}
	if s.downloads == nil {
		return 0, fmt.Errorf("download store is nil")
	}
	return s.downloads.CountByPurchase(ctx, purchaseID)
}

func Filename(pub model.Publication) string {
	title := sanitize(pub.BookTitle)
	if title == "" {
		title = "publication-" + strconv.FormatInt(pub.ID, 10)
	}
	if pub.PublishDate != nil && !pub.PublishDate.IsZero() {
		title += " (" + strconv.Itoa(pub.PublishDate.Year()) + ")"
	}
	if ext := sanitize(strings.TrimPrefix(strings.TrimSpace(pub.Format.Extension), ".")); ext != "" {
		title += "." + ext
	}
	return title
}

func sanitize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

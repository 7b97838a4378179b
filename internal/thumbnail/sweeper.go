package thumbnail

import (
	"context"
	"time"

	"github.com/abduss/imagevault/internal/asset"
	"go.uber.org/zap"
)

type retryLister interface {
	ListRetryable(ctx context.Context, before time.Time) ([]asset.Asset, error)
}

// Sweeper re-enqueues pending assets that nobody is working on, e.g. after a
// restart dropped the in-memory queue and backoff timers.
type Sweeper struct {
	repo       retryLister
	queue      asset.Queue
	interval   time.Duration
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewSweeper builds a sweeper.
func NewSweeper(repo retryLister, queue asset.Queue, interval, staleAfter time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		repo:       repo,
		queue:      queue,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("thumbnail recovery sweep", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce enqueues every retryable asset untouched for staleAfter and
// reports how many were enqueued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.repo.ListRetryable(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, a := range stale {
		if err := s.queue.Enqueue(ctx, a.ID); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		s.log.Info("recovered pending thumbnails", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

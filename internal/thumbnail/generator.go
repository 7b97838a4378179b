package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abduss/imagevault/internal/asset"
	"github.com/abduss/imagevault/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Enqueue once the generator is shutting down.
var ErrStopped = errors.New("thumbnail generator stopped")

// Outcome is the result of a single generation attempt.
type Outcome string

const (
	OutcomeReady   Outcome = "ready"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Config parameterizes a Generator.
type Config struct {
	Render         RenderOptions
	Retry          RetryPolicy
	Workers        int
	QueueSize      int
	AttemptTimeout time.Duration
}

// Generator renders thumbnails for pending assets on a bounded worker pool
// and reschedules failed attempts with exponential backoff.
type Generator struct {
	repo  asset.MetadataStore
	blobs asset.BlobStore
	locks *asset.Coordinator
	cfg   Config
	log   *zap.Logger
	now   func() time.Time

	jobs chan uuid.UUID
	// sendMu guards sends on jobs against the close in Stop.
	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	group   *errgroup.Group
	cancel  context.CancelCauseFunc
}

var errShutdown = errors.New("generator shutting down")

// NewGenerator builds a generator. locks may be shared with the upload
// pipeline; nil creates a private coordinator.
func NewGenerator(repo asset.MetadataStore, blobs asset.BlobStore, locks *asset.Coordinator, cfg Config, log *zap.Logger) *Generator {
	if locks == nil {
		locks = asset.NewCoordinator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Render.Width <= 0 || cfg.Render.Height <= 0 {
		cfg.Render.Width, cfg.Render.Height = 150, 150
	}
	if cfg.Render.Quality <= 0 {
		cfg.Render.Quality = 85
	}
	return &Generator{
		repo:   repo,
		blobs:  blobs,
		locks:  locks,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		jobs:   make(chan uuid.UUID, cfg.QueueSize),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Start launches the worker pool. Workers run until Stop.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.group != nil {
		return
	}

	// Attempts are not cancelled by the caller; Stop drains the queue instead.
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	g.cancel = cancel
	g.group = &errgroup.Group{}
	for i := 0; i < g.cfg.Workers; i++ {
		g.group.Go(func() error {
			g.work(ctx)
			return nil
		})
	}
}

// Enqueue schedules generation for an asset. It blocks while the queue is full.
func (g *Generator) Enqueue(ctx context.Context, id uuid.UUID) error {
	g.sendMu.RLock()
	defer g.sendMu.RUnlock()
	if g.closed {
		return ErrStopped
	}

	select {
	case g.jobs <- id:
		metrics.SetQueueDepth(len(g.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work, cancels pending retries and waits for the
// workers to drain the queue. Assets whose retries were cancelled stay
// PENDING for the recovery sweep.
func (g *Generator) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	for t := range g.timers {
		t.Stop()
	}
	g.timers = nil
	group, cancel := g.group, g.cancel
	g.mu.Unlock()

	g.sendMu.Lock()
	g.closed = true
	close(g.jobs)
	g.sendMu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel(nil)
		return nil
	case <-ctx.Done():
		cancel(errShutdown)
		<-done
		return ctx.Err()
	}
}

func (g *Generator) work(ctx context.Context) {
	for id := range g.jobs {
		metrics.SetQueueDepth(len(g.jobs))
		g.process(ctx, id)
	}
}

func (g *Generator) process(ctx context.Context, id uuid.UUID) {
	attemptCtx := ctx
	if g.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()
	}

	outcome, delay, err := g.generate(attemptCtx, id)
	switch outcome {
	case OutcomeRetry:
		g.log.Warn("thumbnail attempt failed, retrying",
			zap.String("asset_id", id.String()),
			zap.Duration("delay", delay),
			zap.Error(err))
		g.scheduleRetry(id, delay)
	case OutcomeFailed:
		g.log.Error("thumbnail generation failed permanently",
			zap.String("asset_id", id.String()),
			zap.Error(err))
	case OutcomeSkipped:
		if err != nil {
			g.log.Info("thumbnail generation skipped", zap.String("asset_id", id.String()), zap.Error(err))
		}
	}
}

func (g *Generator) scheduleRetry(id uuid.UUID, delay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		g.mu.Lock()
		if g.timers != nil {
			delete(g.timers, t)
		}
		g.mu.Unlock()

		g.sendMu.RLock()
		defer g.sendMu.RUnlock()
		if g.closed {
			return
		}
		select {
		case g.jobs <- id:
		default:
			g.log.Warn("thumbnail queue full, leaving retry to sweeper", zap.String("asset_id", id.String()))
		}
	})
	g.timers[t] = struct{}{}
}

// Generate runs one attempt for an asset and persists its outcome. The
// returned error explains retry, failed and skipped outcomes.
func (g *Generator) Generate(ctx context.Context, id uuid.UUID) (Outcome, error) {
	outcome, _, err := g.generate(ctx, id)
	return outcome, err
}

func (g *Generator) generate(ctx context.Context, id uuid.UUID) (outcome Outcome, delay time.Duration, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveGeneration(string(outcome), time.Since(start))
	}()

	// Serialise duplicate deliveries for the same asset.
	lock, err := g.locks.Acquire(ctx, asset.AssetKey(id))
	if err != nil {
		return OutcomeSkipped, 0, fmt.Errorf("acquire asset lock: %w", err)
	}
	defer lock.Release()

	current, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return OutcomeSkipped, 0, err
	}
	if !current.Active() {
		return OutcomeSkipped, 0, asset.ErrNotFound
	}
	if !current.Retryable() {
		return OutcomeSkipped, 0, nil
	}

	derivedKey, renderErr := g.render(ctx, current)

	// Outcomes are persisted even when the attempt ran out of time.
	persistCtx := context.WithoutCancel(ctx)
	if renderErr == nil {
		if _, err := g.repo.Update(persistCtx, current.MarkReady(derivedKey, g.now())); err != nil {
			return g.handleLostWrite(persistCtx, current, derivedKey, err)
		}
		g.log.Info("thumbnail ready",
			zap.String("asset_id", id.String()),
			zap.String("derived_key", derivedKey))
		return OutcomeReady, 0, nil
	}

	if errors.Is(context.Cause(ctx), errShutdown) {
		return OutcomeSkipped, 0, fmt.Errorf("attempt interrupted by shutdown: %w", renderErr)
	}

	failed := current.MarkAttemptFailed(g.now())
	stored, err := g.repo.Update(persistCtx, failed)
	if err != nil {
		if errors.Is(err, asset.ErrConflict) || errors.Is(err, asset.ErrNotFound) {
			return OutcomeSkipped, 0, fmt.Errorf("asset changed during generation: %w", err)
		}
		// The failure could not be recorded; retry on the in-memory count so
		// the attempt is not lost.
		g.log.Error("record thumbnail failure", zap.String("asset_id", id.String()), zap.Error(err))
		stored = failed
	}

	if stored.Status == asset.StatusFailed {
		return OutcomeFailed, 0, fmt.Errorf("%w after %d attempts: %w", asset.ErrRetryExhausted, stored.RetryCount, renderErr)
	}
	return OutcomeRetry, g.cfg.Retry.Delay(stored.RetryCount), renderErr
}

func (g *Generator) render(ctx context.Context, a asset.Asset) (string, error) {
	data, err := g.blobs.Get(ctx, a.StorageKey)
	if err != nil {
		return "", fmt.Errorf("download source: %w: %w", asset.ErrStorage, err)
	}

	thumb, err := Render(data, g.cfg.Render)
	if err != nil {
		return "", err
	}

	derivedKey := asset.ThumbnailKey(a.StorageKey)
	if err := g.blobs.Put(ctx, derivedKey, thumb, ContentType); err != nil {
		return "", fmt.Errorf("upload thumbnail: %w: %w", asset.ErrStorage, err)
	}
	return derivedKey, nil
}

// handleLostWrite runs when the READY write did not land. If the asset moved
// on to other bytes or was deleted, the thumbnail just uploaded is orphaned.
func (g *Generator) handleLostWrite(ctx context.Context, snapshot asset.Asset, derivedKey string, writeErr error) (Outcome, time.Duration, error) {
	if !errors.Is(writeErr, asset.ErrConflict) && !errors.Is(writeErr, asset.ErrNotFound) {
		return g.recordWriteFailure(ctx, snapshot, writeErr)
	}

	latest, err := g.repo.GetByID(ctx, snapshot.ID)
	if err != nil || !latest.Active() || latest.StorageKey != snapshot.StorageKey {
		if delErr := g.blobs.Delete(ctx, derivedKey); delErr != nil {
			g.log.Warn("remove orphaned thumbnail", zap.String("derived_key", derivedKey), zap.Error(delErr))
		}
	}
	return OutcomeSkipped, 0, fmt.Errorf("asset changed during generation: %w", writeErr)
}

// recordWriteFailure counts a failed READY write as a failed attempt.
func (g *Generator) recordWriteFailure(ctx context.Context, snapshot asset.Asset, writeErr error) (Outcome, time.Duration, error) {
	failed := snapshot.MarkAttemptFailed(g.now())
	if _, err := g.repo.Update(ctx, failed); err != nil {
		g.log.Error("record thumbnail failure", zap.String("asset_id", snapshot.ID.String()), zap.Error(err))
	}
	err := fmt.Errorf("persist thumbnail status: %w", writeErr)
	if failed.Status == asset.StatusFailed {
		return OutcomeFailed, 0, fmt.Errorf("%w: %w", asset.ErrRetryExhausted, err)
	}
	return OutcomeRetry, g.cfg.Retry.Delay(failed.RetryCount), err
}

var _ asset.Queue = (*Generator)(nil)

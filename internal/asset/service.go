package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/imagevault/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadSize = 20 * 1024 * 1024 // 20MB
	defaultPageSize      = 20
	maxPageSize          = 100
	maxUpdateAttempts    = 3
)

// Service is the upload pipeline: dedup, blob writes, metadata and scheduling.
type Service struct {
	repo    MetadataStore
	blobs   BlobStore
	queue   Queue
	locks   *Coordinator
	log     *zap.Logger
	maxSize int64
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxSize caps accepted payload sizes. Zero or negative disables the cap.
func WithMaxSize(n int64) Option {
	return func(s *Service) { s.maxSize = n }
}

// WithCoordinator shares a coordinator with other components.
func WithCoordinator(c *Coordinator) Option {
	return func(s *Service) {
		if c != nil {
			s.locks = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the upload pipeline. queue may be nil, in which case
// new assets wait for the recovery sweep.
func NewService(repo MetadataStore, blobs BlobStore, queue Queue, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		blobs:   blobs,
		queue:   queue,
		locks:   NewCoordinator(),
		log:     zap.NewNop(),
		maxSize: defaultMaxUploadSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores content for a project, returning the existing asset when the
// project already holds identical bytes.
func (s *Service) Upload(ctx context.Context, in Content) (UploadResult, error) {
	if err := validateProject(in.ProjectID); err != nil {
		return UploadResult{}, err
	}
	if err := s.validatePayload(in.Data); err != nil {
		return UploadResult{}, err
	}

	hash := ContentHash(in.Data)
	lock, err := s.locks.Acquire(ctx, DedupKey(in.ProjectID, hash))
	if err != nil {
		return UploadResult{}, fmt.Errorf("acquire upload lock: %w", err)
	}
	defer lock.Release()

	existing, err := s.repo.GetActiveByProjectAndHash(ctx, in.ProjectID, hash)
	if err == nil {
		s.log.Info("duplicate upload",
			zap.String("project_id", in.ProjectID),
			zap.String("asset_id", existing.ID.String()),
			zap.String("content_hash", hash))
		metrics.ObserveUpload(metrics.UploadDeduplicated)
		return UploadResult{Asset: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return UploadResult{}, fmt.Errorf("lookup duplicate: %w", err)
	}

	rev := s.revision(in, hash)
	if err := s.blobs.Put(ctx, rev.StorageKey, in.Data, rev.ContentType); err != nil {
		return UploadResult{}, storageError("store object", err)
	}

	created, err := s.repo.Create(ctx, NewPending(in.ProjectID, rev, s.now()))
	if err != nil {
		// The fresh key is referenced by nothing, so drop it.
		s.removeBlob(ctx, rev.StorageKey)
		if errors.Is(err, ErrConflict) {
			return s.resolveLostRace(ctx, in.ProjectID, hash)
		}
		return UploadResult{}, err
	}

	s.log.Info("asset uploaded",
		zap.String("project_id", created.ProjectID),
		zap.String("asset_id", created.ID.String()),
		zap.String("storage_key", created.StorageKey),
		zap.Int64("size", created.Size))
	metrics.ObserveUpload(metrics.UploadCreated)
	s.enqueue(ctx, created.ID)
	return UploadResult{Asset: created}, nil
}

// Replace swaps the primary bytes of an asset and restarts generation.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, in Content) (Asset, error) {
	if err := s.validatePayload(in.Data); err != nil {
		return Asset{}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Asset{}, err
	}

	hash := ContentHash(in.Data)
	lock, err := s.locks.Acquire(ctx, DedupKey(current.ProjectID, hash))
	if err != nil {
		return Asset{}, fmt.Errorf("acquire upload lock: %w", err)
	}
	defer lock.Release()

	owner, err := s.repo.GetActiveByProjectAndHash(ctx, current.ProjectID, hash)
	switch {
	case err == nil && owner.ID != id:
		return Asset{}, ErrContentExists
	case err != nil && !errors.Is(err, ErrNotFound):
		return Asset{}, fmt.Errorf("lookup duplicate: %w", err)
	}

	in.ProjectID = current.ProjectID
	rev := s.revision(in, hash)
	if err := s.blobs.Put(ctx, rev.StorageKey, in.Data, rev.ContentType); err != nil {
		return Asset{}, storageError("store object", err)
	}

	updated, previous, err := s.updateWithRetry(ctx, current, func(a Asset) (Asset, error) {
		if !a.Active() {
			return Asset{}, ErrNotFound
		}
		return a.Reopen(rev, s.now()), nil
	})
	if err != nil {
		s.removeBlob(ctx, rev.StorageKey)
		return Asset{}, err
	}

	s.log.Info("asset replaced",
		zap.String("asset_id", id.String()),
		zap.String("storage_key", updated.StorageKey),
		zap.String("previous_key", previous.StorageKey))
	s.enqueue(ctx, id)

	s.removeBlob(ctx, previous.StorageKey)
	s.removeDerived(ctx, previous)
	return updated, nil
}

// Delete removes an asset's blobs and soft-deletes its record.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	s.removeBlob(ctx, current.StorageKey)
	s.removeDerived(ctx, current)

	if _, _, err := s.updateWithRetry(ctx, current, func(a Asset) (Asset, error) {
		if !a.Active() {
			return Asset{}, ErrNotFound
		}
		return a.Tombstone(s.now()), nil
	}); err != nil {
		return err
	}
	s.log.Info("asset deleted", zap.String("asset_id", id.String()))
	return nil
}

// Get returns an active asset.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Asset, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Asset{}, err
	}
	if !a.Active() {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

// List pages through a project's active assets, newest first. page starts at 1.
func (s *Service) List(ctx context.Context, projectID string, page, size int) ([]Asset, error) {
	if err := validateProject(projectID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return s.repo.ListActiveByProject(ctx, projectID, page, size)
}

func (s *Service) resolveLostRace(ctx context.Context, projectID, hash string) (UploadResult, error) {
	winner, err := s.repo.GetActiveByProjectAndHash(ctx, projectID, hash)
	if err != nil {
		return UploadResult{}, fmt.Errorf("resolve duplicate upload: %w", err)
	}
	s.log.Info("duplicate upload resolved after conflict",
		zap.String("project_id", projectID),
		zap.String("asset_id", winner.ID.String()))
	metrics.ObserveUpload(metrics.UploadDeduplicated)
	return UploadResult{Asset: winner, Deduplicated: true}, nil
}

// updateWithRetry applies mutate to the freshest snapshot until the optimistic
// write lands. It returns the stored result and the snapshot it replaced.
func (s *Service) updateWithRetry(ctx context.Context, current Asset, mutate func(Asset) (Asset, error)) (Asset, Asset, error) {
	for attempt := 1; ; attempt++ {
		next, err := mutate(current)
		if err != nil {
			return Asset{}, Asset{}, err
		}
		stored, err := s.repo.Update(ctx, next)
		if err == nil {
			return stored, current, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxUpdateAttempts {
			return Asset{}, Asset{}, fmt.Errorf("update asset: %w", err)
		}
		if current, err = s.repo.GetByID(ctx, current.ID); err != nil {
			return Asset{}, Asset{}, err
		}
	}
}

func (s *Service) revision(in Content, hash string) Revision {
	return Revision{
		ContentHash:  hash,
		StorageKey:   NewStorageKey(in.ProjectID, in.OriginalName),
		OriginalName: sanitizeFilename(in.OriginalName),
		ContentType:  detectContentType(in.ContentType),
		Size:         int64(len(in.Data)),
	}
}

func (s *Service) validatePayload(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return ErrTooLarge
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, id uuid.UUID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.log.Warn("enqueue thumbnail generation", zap.String("asset_id", id.String()), zap.Error(err))
	}
}

func (s *Service) removeDerived(ctx context.Context, a Asset) {
	thumb := ThumbnailKey(a.StorageKey)
	s.removeBlob(ctx, thumb)
	if a.DerivedKey != "" && a.DerivedKey != thumb {
		s.removeBlob(ctx, a.DerivedKey)
	}
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.log.Warn("remove object", zap.String("storage_key", key), zap.Error(err))
	}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func validateProject(projectID string) error {
	if strings.TrimSpace(projectID) == "" || strings.ContainsAny(projectID, "/\\") {
		return ErrInvalidProject
	}
	return nil
}

func detectContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}

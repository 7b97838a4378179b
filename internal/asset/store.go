package asset

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MetadataStore persists asset records.
//
// Update is optimistic: it succeeds only when the stored version equals the
// snapshot's, returns the snapshot with the bumped version, and otherwise
// fails with ErrConflict. Create fails with ErrConflict when another active
// asset in the project already carries the content hash.
type MetadataStore interface {
	Create(ctx context.Context, a Asset) (Asset, error)
	GetByID(ctx context.Context, id uuid.UUID) (Asset, error)
	GetActiveByProjectAndHash(ctx context.Context, projectID, contentHash string) (Asset, error)
	Update(ctx context.Context, a Asset) (Asset, error)
	ListActiveByProject(ctx context.Context, projectID string, page, size int) ([]Asset, error)
	ListRetryable(ctx context.Context, before time.Time) ([]Asset, error)
}

// BlobStore holds primary and derived bytes by key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Queue accepts thumbnail generation requests. Delivery is at-least-once.
type Queue interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

package asset

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process MetadataStore with the same uniqueness and
// versioning rules as the PostgreSQL repository. Used by tests and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	assets map[uuid.UUID]Asset
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[uuid.UUID]Asset)}
}

func (m *MemoryStore) Create(ctx context.Context, a Asset) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.activeByHashLocked(a.ProjectID, a.ContentHash); ok {
		return Asset{}, ErrConflict
	}
	if _, exists := m.assets[a.ID]; exists {
		return Asset{}, ErrConflict
	}
	a.Version = 1
	a.SoftDeleted = false
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	m.assets[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[id]
	if !ok {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) GetActiveByProjectAndHash(ctx context.Context, projectID, contentHash string) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.activeByHashLocked(projectID, contentHash)
	if !ok {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) Update(ctx context.Context, a Asset) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.assets[a.ID]
	if !ok {
		return Asset{}, ErrNotFound
	}
	if stored.Version != a.Version {
		return Asset{}, ErrConflict
	}
	if !a.SoftDeleted {
		if other, ok := m.activeByHashLocked(a.ProjectID, a.ContentHash); ok && other.ID != a.ID {
			return Asset{}, ErrContentExists
		}
	}
	a.ProjectID = stored.ProjectID
	a.CreatedAt = stored.CreatedAt
	a.Version = stored.Version + 1
	m.assets[a.ID] = a
	return a, nil
}

func (m *MemoryStore) ListActiveByProject(ctx context.Context, projectID string, page, size int) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []Asset
	for _, a := range m.assets {
		if a.ProjectID == projectID && a.Active() {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	start := (page - 1) * size
	if start >= len(list) || start < 0 {
		return nil, nil
	}
	end := start + size
	if end > len(list) {
		end = len(list)
	}
	return list[start:end], nil
}

func (m *MemoryStore) ListRetryable(ctx context.Context, before time.Time) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []Asset
	for _, a := range m.assets {
		if a.Retryable() && a.CreatedAt.Before(before) && a.UpdatedAt.Before(before) {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// Count reports how many records exist, soft-deleted included.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assets)
}

func (m *MemoryStore) activeByHashLocked(projectID, contentHash string) (Asset, bool) {
	for _, a := range m.assets {
		if a.ProjectID == projectID && a.ContentHash == contentHash && a.Active() {
			return a, true
		}
	}
	return Asset{}, false
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string
	puts  int
}

// NewMemoryBlobStore builds an empty blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	m.puts++
	return nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	delete(m.types, key)
	return nil
}

// Has reports whether key is stored.
func (m *MemoryBlobStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}

// ContentType returns the content type recorded for key.
func (m *MemoryBlobStore) ContentType(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[key]
}

// Puts counts successful writes.
func (m *MemoryBlobStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Len reports how many blobs are stored.
func (m *MemoryBlobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

var (
	_ MetadataStore = (*MemoryStore)(nil)
	_ MetadataStore = (*Repository)(nil)
	_ BlobStore     = (*MemoryBlobStore)(nil)
	_ BlobStore     = (*MinIOStore)(nil)
)

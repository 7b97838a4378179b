package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestUploadStoresAssetAndEnqueuesGeneration(t *testing.T) {
	repo := NewMemoryStore()
	blobs := NewMemoryBlobStore()
	queue := &fakeQueue{}
	service := NewService(repo, blobs, queue)

	result, err := service.Upload(context.Background(), Content{
		ProjectID:    "p1",
		Data:         []byte("png-bytes"),
		OriginalName: "cat.png",
		ContentType:  "image/png",
	})
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	got := result.Asset
	if result.Deduplicated {
		t.Fatalf("first upload must not be a dedup hit")
	}
	if got.Status != StatusPending || got.RetryCount != 0 {
		t.Fatalf("expected PENDING/0, got %s/%d", got.Status, got.RetryCount)
	}
	if got.ContentHash != ContentHash([]byte("png-bytes")) {
		t.Fatalf("unexpected content hash %s", got.ContentHash)
	}
	if !blobs.Has(got.StorageKey) || blobs.ContentType(got.StorageKey) != "image/png" {
		t.Fatalf("expected blob stored under %s", got.StorageKey)
	}
	if ids := queue.ids(); len(ids) != 1 || ids[0] != got.ID {
		t.Fatalf("expected one enqueue for %s, got %v", got.ID, ids)
	}
}

func TestConcurrentIdenticalUploadsWriteOnce(t *testing.T) {
	repo := NewMemoryStore()
	blobs := NewMemoryBlobStore()
	queue := &fakeQueue{}
	locks := NewCoordinator()
	service := NewService(repo, blobs, queue, WithCoordinator(locks))

	payload := bytes.Repeat([]byte{0xAB}, 1<<20)
	const callers = 8

	keys := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := service.Upload(context.Background(), Content{ProjectID: "p1", Data: payload, OriginalName: "big.png"})
			if err != nil {
				t.Errorf("Upload %d returned error: %v", i, err)
				return
			}
			keys[i] = res.Asset.StorageKey
		}(i)
	}
	wg.Wait()

	if blobs.Puts() != 1 {
		t.Fatalf("expected exactly one blob write, got %d", blobs.Puts())
	}
	if repo.Count() != 1 {
		t.Fatalf("expected exactly one asset, got %d", repo.Count())
	}
	for i, key := range keys {
		if key != keys[0] {
			t.Fatalf("caller %d got key %s, want %s", i, key, keys[0])
		}
	}
	if len(queue.ids()) != 1 {
		t.Fatalf("expected one generation request, got %d", len(queue.ids()))
	}
	if locks.Len() != 0 {
		t.Fatalf("expected dedup keys reclaimed, %d left", locks.Len())
	}
}

func TestConcurrentDistinctUploadsCreateSeparateAssets(t *testing.T) {
	repo := NewMemoryStore()
	service := NewService(repo, NewMemoryBlobStore(), &fakeQueue{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := service.Upload(context.Background(), Content{ProjectID: "p1", Data: []byte(fmt.Sprintf("payload-%d", i))}); err != nil {
				t.Errorf("Upload %d returned error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if repo.Count() != 4 {
		t.Fatalf("expected 4 assets, got %d", repo.Count())
	}
}

func TestSameContentInDifferentProjectsIsNotDeduplicated(t *testing.T) {
	repo := NewMemoryStore()
	service := NewService(repo, NewMemoryBlobStore(), nil)

	a, err := service.Upload(context.Background(), Content{ProjectID: "p1", Data: []byte("same")})
	if err != nil {
		t.Fatalf("Upload p1: %v", err)
	}
	b, err := service.Upload(context.Background(), Content{ProjectID: "p2", Data: []byte("same")})
	if err != nil {
		t.Fatalf("Upload p2: %v", err)
	}
	if a.Asset.ID == b.Asset.ID || b.Deduplicated {
		t.Fatalf("projects must not share assets")
	}
}

func TestUploadAfterSoftDeleteCreatesNewAsset(t *testing.T) {
	repo := NewMemoryStore()
	service := NewService(repo, NewMemoryBlobStore(), &fakeQueue{})
	ctx := context.Background()
	content := Content{ProjectID: "p1", Data: []byte("again"), OriginalName: "a.png"}

	first, err := service.Upload(ctx, content)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := service.Delete(ctx, first.Asset.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	second, err := service.Upload(ctx, content)
	if err != nil {
		t.Fatalf("re-Upload: %v", err)
	}
	if second.Deduplicated || second.Asset.ID == first.Asset.ID || second.Asset.StorageKey == first.Asset.StorageKey {
		t.Fatalf("expected a brand new asset after soft delete, got %+v", second)
	}
	if repo.Count() != 2 {
		t.Fatalf("expected tombstone to be retained, got %d records", repo.Count())
	}
}

func TestUploadBlobFailureLeavesNoRecord(t *testing.T) {
	repo := NewMemoryStore()
	blobs := &flakyBlobStore{MemoryBlobStore: NewMemoryBlobStore(), putErr: errors.New("minio down")}
	queue := &fakeQueue{}
	service := NewService(repo, blobs, queue)

	_, err := service.Upload(context.Background(), Content{ProjectID: "p1", Data: []byte("x")})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if repo.Count() != 0 || len(queue.ids()) != 0 {
		t.Fatalf("expected no record and no enqueue after blob failure")
	}
}

func TestUploadCreateFailurePropagatesAndDropsBlob(t *testing.T) {
	repo := &failingCreateStore{MemoryStore: NewMemoryStore(), err: errors.New("db down")}
	blobs := NewMemoryBlobStore()
	service := NewService(repo, blobs, &fakeQueue{})

	_, err := service.Upload(context.Background(), Content{ProjectID: "p1", Data: []byte("x")})
	if err == nil || errors.Is(err, ErrConflict) {
		t.Fatalf("expected create failure to propagate, got %v", err)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected unreferenced blob removed, %d left", blobs.Len())
	}
}

func TestUploadLostDurableRaceReturnsWinner(t *testing.T) {
	inner := NewMemoryStore()
	repo := &racingStore{MemoryStore: inner}
	blobs := NewMemoryBlobStore()
	queue := &fakeQueue{}
	service := NewService(repo, blobs, queue)

	res, err := service.Upload(context.Background(), Content{ProjectID: "p1", Data: []byte("contended")})
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if !res.Deduplicated || res.Asset.ID != repo.winner.ID {
		t.Fatalf("expected the other instance's asset, got %+v", res)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected losing blob removed, %d left", blobs.Len())
	}
	if len(queue.ids()) != 0 {
		t.Fatalf("loser must not enqueue generation")
	}
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryBlobStore(), nil, WithMaxSize(4))
	ctx := context.Background()

	if _, err := service.Upload(ctx, Content{ProjectID: "p1"}); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("too long")}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := service.Upload(ctx, Content{ProjectID: "../p", Data: []byte("x")}); !errors.Is(err, ErrInvalidProject) {
		t.Fatalf("expected ErrInvalidProject, got %v", err)
	}
}

func TestReplacePointsAtNewKeysAndDeletesOldBlobs(t *testing.T) {
	repo := NewMemoryStore()
	blobs := NewMemoryBlobStore()
	queue := &fakeQueue{}
	service := NewService(repo, blobs, queue)
	ctx := context.Background()

	res, err := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("v1"), OriginalName: "a.png"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	original := res.Asset

	// Simulate a finished generation.
	thumbKey := ThumbnailKey(original.StorageKey)
	_ = blobs.Put(ctx, thumbKey, []byte("thumb"), "image/jpeg")
	current, _ := repo.GetByID(ctx, original.ID)
	if _, err := repo.Update(ctx, current.MarkReady(thumbKey, current.UpdatedAt)); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	replaced, err := service.Replace(ctx, original.ID, Content{Data: []byte("v2"), OriginalName: "b.jpeg", ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}

	if replaced.StorageKey == original.StorageKey || !blobs.Has(replaced.StorageKey) {
		t.Fatalf("expected new stored key, got %s", replaced.StorageKey)
	}
	if blobs.Has(original.StorageKey) || blobs.Has(thumbKey) {
		t.Fatalf("expected previous primary and thumbnail removed")
	}
	if replaced.Status != StatusPending || replaced.RetryCount != 0 || replaced.DerivedKey != "" {
		t.Fatalf("expected generation reset, got %+v", replaced)
	}
	if replaced.ContentHash != ContentHash([]byte("v2")) || replaced.OriginalName != "b.jpeg" || replaced.Size != 2 {
		t.Fatalf("unexpected replaced metadata: %+v", replaced)
	}
	if ids := queue.ids(); len(ids) != 2 || ids[1] != original.ID {
		t.Fatalf("expected re-enqueue for %s, got %v", original.ID, ids)
	}
}

func TestReplaceRejectsContentOwnedByAnotherAsset(t *testing.T) {
	repo := NewMemoryStore()
	blobs := NewMemoryBlobStore()
	service := NewService(repo, blobs, nil)
	ctx := context.Background()

	a, _ := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("a")})
	if _, err := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("b")}); err != nil {
		t.Fatalf("Upload b: %v", err)
	}

	_, err := service.Replace(ctx, a.Asset.ID, Content{Data: []byte("b")})
	if !errors.Is(err, ErrContentExists) {
		t.Fatalf("expected ErrContentExists, got %v", err)
	}
	if blobs.Len() != 2 {
		t.Fatalf("rejected replace must not write blobs, have %d", blobs.Len())
	}
}

func TestReplaceMissingOrDeletedAsset(t *testing.T) {
	repo := NewMemoryStore()
	service := NewService(repo, NewMemoryBlobStore(), nil)
	ctx := context.Background()

	if _, err := service.Replace(ctx, uuid.New(), Content{Data: []byte("x")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	res, _ := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("x")})
	if err := service.Delete(ctx, res.Asset.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := service.Replace(ctx, res.Asset.ID, Content{Data: []byte("y")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for soft-deleted asset, got %v", err)
	}
}

func TestReplaceRetriesOnVersionConflict(t *testing.T) {
	inner := NewMemoryStore()
	repo := &conflictOnceStore{MemoryStore: inner}
	service := NewService(repo, NewMemoryBlobStore(), nil)
	ctx := context.Background()

	res, _ := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("x")})
	repo.armed = true

	replaced, err := service.Replace(ctx, res.Asset.ID, Content{Data: []byte("y")})
	if err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	if replaced.ContentHash != ContentHash([]byte("y")) {
		t.Fatalf("expected replace to land after retry")
	}
}

func TestDeleteSoftDeletesAndRemovesBlobs(t *testing.T) {
	repo := NewMemoryStore()
	blobs := NewMemoryBlobStore()
	service := NewService(repo, blobs, nil)
	ctx := context.Background()

	res, _ := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("x"), OriginalName: "x.png"})
	_ = blobs.Put(ctx, ThumbnailKey(res.Asset.StorageKey), []byte("t"), "image/jpeg")

	if err := service.Delete(ctx, res.Asset.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected blobs removed, %d left", blobs.Len())
	}

	stored, err := repo.GetByID(ctx, res.Asset.ID)
	if err != nil || !stored.SoftDeleted {
		t.Fatalf("expected tombstoned record, got %+v (%v)", stored, err)
	}
	if _, err := service.Get(ctx, res.Asset.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if err := service.Delete(ctx, res.Asset.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteToleratesBlobFailure(t *testing.T) {
	repo := NewMemoryStore()
	blobs := &flakyBlobStore{MemoryBlobStore: NewMemoryBlobStore()}
	service := NewService(repo, blobs, nil)
	ctx := context.Background()

	res, _ := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte("x")})
	blobs.deleteErr = errors.New("minio down")

	if err := service.Delete(ctx, res.Asset.ID); err != nil {
		t.Fatalf("Delete must not fail on blob errors: %v", err)
	}
	stored, _ := repo.GetByID(ctx, res.Asset.ID)
	if !stored.SoftDeleted {
		t.Fatalf("expected tombstone despite blob failure")
	}
}

func TestListPaginatesActiveAssets(t *testing.T) {
	repo := NewMemoryStore()
	service := NewService(repo, NewMemoryBlobStore(), nil)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		res, err := service.Upload(ctx, Content{ProjectID: "p1", Data: []byte(fmt.Sprintf("%d", i))})
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
		ids = append(ids, res.Asset.ID)
	}
	if err := service.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	page1, err := service.List(ctx, "p1", 1, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	page2, _ := service.List(ctx, "p1", 2, 3)
	if len(page1) != 3 || len(page2) != 1 {
		t.Fatalf("expected 3+1 active assets, got %d+%d", len(page1), len(page2))
	}
	for _, a := range append(page1, page2...) {
		if a.ID == ids[0] {
			t.Fatalf("soft-deleted asset listed")
		}
	}
}

// --- helpers & fakes ---

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (f *fakeQueue) Enqueue(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, id)
	return nil
}

func (f *fakeQueue) ids() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.enqueued...)
}

type flakyBlobStore struct {
	*MemoryBlobStore
	putErr    error
	deleteErr error
}

func (f *flakyBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryBlobStore.Put(ctx, key, data, contentType)
}

func (f *flakyBlobStore) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryBlobStore.Delete(ctx, key)
}

type failingCreateStore struct {
	*MemoryStore
	err error
}

func (f *failingCreateStore) Create(ctx context.Context, a Asset) (Asset, error) {
	return Asset{}, f.err
}

// racingStore lets another instance win the durable insert between the
// dedup lookup and Create.
type racingStore struct {
	*MemoryStore
	winner Asset
	raced  bool
}

func (r *racingStore) GetActiveByProjectAndHash(ctx context.Context, projectID, hash string) (Asset, error) {
	if !r.raced {
		r.raced = true
		winner, err := r.MemoryStore.Create(ctx, NewPending(projectID, Revision{ContentHash: hash, StorageKey: "projects/" + projectID + "/winner.png"}, timeZero))
		if err != nil {
			return Asset{}, err
		}
		r.winner = winner
		return Asset{}, ErrNotFound
	}
	return r.MemoryStore.GetActiveByProjectAndHash(ctx, projectID, hash)
}

type conflictOnceStore struct {
	*MemoryStore
	armed bool
}

func (c *conflictOnceStore) Update(ctx context.Context, a Asset) (Asset, error) {
	if c.armed {
		c.armed = false
		return Asset{}, ErrConflict
	}
	return c.MemoryStore.Update(ctx, a)
}

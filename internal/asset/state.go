package asset

import (
	"time"

	"github.com/google/uuid"
)

// Revision carries the fields that change when an asset's primary bytes change.
type Revision struct {
	ContentHash  string
	StorageKey   string
	OriginalName string
	ContentType  string
	Size         int64
}

// NewPending builds a freshly uploaded asset awaiting thumbnail generation.
func NewPending(projectID string, rev Revision, now time.Time) Asset {
	return Asset{
		ID:           uuid.New(),
		ProjectID:    projectID,
		ContentHash:  rev.ContentHash,
		StorageKey:   rev.StorageKey,
		OriginalName: rev.OriginalName,
		ContentType:  rev.ContentType,
		Size:         rev.Size,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Active reports whether the asset takes part in dedup lookups and listings.
func (a Asset) Active() bool {
	return !a.SoftDeleted
}

// Terminal reports whether generation has settled for the current revision.
func (a Asset) Terminal() bool {
	return a.Status == StatusReady || a.Status == StatusFailed
}

// Retryable reports whether another generation attempt may run.
func (a Asset) Retryable() bool {
	return a.Active() && a.Status == StatusPending && a.RetryCount < MaxGenerationAttempts
}

// MarkReady records a successful generation.
func (a Asset) MarkReady(derivedKey string, now time.Time) Asset {
	a.DerivedKey = derivedKey
	a.Status = StatusReady
	a.UpdatedAt = now
	return a
}

// MarkAttemptFailed records one failed generation attempt. The asset moves to
// FAILED once the attempt budget is spent.
func (a Asset) MarkAttemptFailed(now time.Time) Asset {
	if a.RetryCount < MaxGenerationAttempts {
		a.RetryCount++
	}
	if a.RetryCount >= MaxGenerationAttempts {
		a.Status = StatusFailed
	} else {
		a.Status = StatusPending
	}
	a.UpdatedAt = now
	return a
}

// Reopen points the asset at new primary bytes and restarts generation.
func (a Asset) Reopen(rev Revision, now time.Time) Asset {
	a.ContentHash = rev.ContentHash
	a.StorageKey = rev.StorageKey
	a.OriginalName = rev.OriginalName
	a.ContentType = rev.ContentType
	a.Size = rev.Size
	a.DerivedKey = ""
	a.Status = StatusPending
	a.RetryCount = 0
	a.UpdatedAt = now
	return a
}

// Tombstone soft-deletes the asset. The derived key is kept for auditing.
func (a Asset) Tombstone(now time.Time) Asset {
	a.SoftDeleted = true
	a.UpdatedAt = now
	return a
}

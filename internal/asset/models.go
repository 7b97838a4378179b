package asset

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks thumbnail generation for an asset.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusReady   Status = "READY"
	StatusFailed  Status = "FAILED"
)

// MaxGenerationAttempts bounds thumbnail generation before an asset is marked failed.
const MaxGenerationAttempts = 3

// Asset is the durable record of one logical upload.
type Asset struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    string    `json:"project_id"`
	ContentHash  string    `json:"content_hash"`
	StorageKey   string    `json:"storage_key"`
	DerivedKey   string    `json:"derived_key,omitempty"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	Status       Status    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	SoftDeleted  bool      `json:"soft_deleted"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Content is a payload handed to the upload pipeline.
type Content struct {
	ProjectID    string
	Data         []byte
	OriginalName string
	ContentType  string
}

// UploadResult describes the asset an upload resolved to.
type UploadResult struct {
	Asset        Asset `json:"asset"`
	Deduplicated bool  `json:"deduplicated"`
}

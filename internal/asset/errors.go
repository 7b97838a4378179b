package asset

import "errors"

var (
	// ErrNotFound signals that the asset is absent or soft-deleted.
	ErrNotFound = errors.New("asset not found")
	// ErrConflict is returned when a write lost a race: a stale version or a
	// duplicate (project, content hash) insert.
	ErrConflict = errors.New("asset conflict")
	// ErrContentExists signals that another active asset in the project already holds the content.
	ErrContentExists = errors.New("content already exists in project")
	// ErrStorage wraps blob store failures.
	ErrStorage = errors.New("blob storage failure")
	// ErrBlobNotFound is returned by blob stores for a missing key.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrDecode signals bytes that are not a supported image.
	ErrDecode = errors.New("image decode failure")
	// ErrRetryExhausted marks a generation that failed on every attempt.
	ErrRetryExhausted = errors.New("thumbnail retries exhausted")
	// ErrEmptyPayload rejects zero-length uploads.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrTooLarge signals that the upload exceeds configured limits.
	ErrTooLarge = errors.New("payload too large")
)

// ErrInvalidProject rejects empty project ids and ids that would escape the key prefix.
var ErrInvalidProject = errors.New("invalid project id")

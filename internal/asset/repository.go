package asset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const assetColumns = `id, project_id, content_hash, storage_key, COALESCE(derived_key, ''), original_name, content_type,
       size_bytes, status, retry_count, soft_deleted, version, created_at, updated_at`

// Repository stores asset metadata in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new asset repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new asset. A live asset with the same project and content
// hash makes it fail with ErrConflict.
func (r *Repository) Create(ctx context.Context, a Asset) (Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO assets (id, project_id, content_hash, storage_key, derived_key, original_name, content_type,
                    size_bytes, status, retry_count, soft_deleted, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, FALSE, 1, $11, $11)
RETURNING ` + assetColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		a.ID,
		a.ProjectID,
		a.ContentHash,
		a.StorageKey,
		a.DerivedKey,
		a.OriginalName,
		a.ContentType,
		a.Size,
		string(a.Status),
		a.RetryCount,
		a.CreatedAt,
	)

	stored, err := scanAsset(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Asset{}, ErrConflict
		}
		return Asset{}, fmt.Errorf("create asset: %w", err)
	}
	return stored, nil
}

// GetByID fetches an asset, soft-deleted or not.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1;`

	a, err := scanAsset(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// GetActiveByProjectAndHash finds the live asset carrying the content hash.
func (r *Repository) GetActiveByProjectAndHash(ctx context.Context, projectID, contentHash string) (Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + assetColumns + `
FROM assets
WHERE project_id = $1 AND content_hash = $2 AND NOT soft_deleted;`

	a, err := scanAsset(r.pool.QueryRow(ctx, query, projectID, contentHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, fmt.Errorf("get asset by hash: %w", err)
	}
	return a, nil
}

// Update writes the full row if the stored version still matches.
func (r *Repository) Update(ctx context.Context, a Asset) (Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE assets
SET content_hash  = $3,
    storage_key   = $4,
    derived_key   = NULLIF($5, ''),
    original_name = $6,
    content_type  = $7,
    size_bytes    = $8,
    status        = $9,
    retry_count   = $10,
    soft_deleted  = $11,
    version       = version + 1,
    updated_at    = NOW()
WHERE id = $1 AND version = $2
RETURNING ` + assetColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		a.ID,
		a.Version,
		a.ContentHash,
		a.StorageKey,
		a.DerivedKey,
		a.OriginalName,
		a.ContentType,
		a.Size,
		string(a.Status),
		a.RetryCount,
		a.SoftDeleted,
	)

	stored, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, r.missingOrStale(ctx, a.ID)
		}
		if isUniqueViolation(err) {
			return Asset{}, ErrContentExists
		}
		return Asset{}, fmt.Errorf("update asset: %w", err)
	}
	return stored, nil
}

// ListActiveByProject returns one page of live assets, newest first.
func (r *Repository) ListActiveByProject(ctx context.Context, projectID string, page, size int) ([]Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + assetColumns + `
FROM assets
WHERE project_id = $1 AND NOT soft_deleted
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3;`

	rows, err := r.pool.Query(ctx, query, projectID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return collectAssets(rows)
}

// ListRetryable returns pending assets with attempts left that have not been
// touched since before.
func (r *Repository) ListRetryable(ctx context.Context, before time.Time) ([]Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + assetColumns + `
FROM assets
WHERE status = $1
  AND retry_count < $2
  AND NOT soft_deleted
  AND created_at < $3
  AND updated_at < $3
ORDER BY created_at;`

	rows, err := r.pool.Query(ctx, query, string(StatusPending), MaxGenerationAttempts, before)
	if err != nil {
		return nil, fmt.Errorf("list retryable assets: %w", err)
	}
	return collectAssets(rows)
}

func (r *Repository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE id = $1);`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check asset existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func collectAssets(rows pgx.Rows) ([]Asset, error) {
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

func scanAsset(row pgx.Row) (Asset, error) {
	var (
		a      Asset
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&a.ContentHash,
		&a.StorageKey,
		&a.DerivedKey,
		&a.OriginalName,
		&a.ContentType,
		&a.Size,
		&status,
		&a.RetryCount,
		&a.SoftDeleted,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Asset{}, err
	}
	a.Status = Status(status)
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

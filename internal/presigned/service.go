package presigned

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/abduss/imagevault/internal/asset"
)

// DefaultTTL is used when a Service is built without an expiry.
const DefaultTTL = 15 * time.Minute

// ErrThumbnailUnavailable is returned when a thumbnail link is requested for an
// asset whose generation has not succeeded.
var ErrThumbnailUnavailable = errors.New("thumbnail not available")

// Signer presigns object downloads. *minio.Client satisfies it.
type Signer interface {
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// Links are time-limited download URLs for an asset.
type Links struct {
	AssetID   string    `json:"asset_id"`
	Original  string    `json:"original"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	signer Signer
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(signer Signer, bucket string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		signer: signer,
		bucket: bucket,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Links signs the original and, once READY, the thumbnail of an active asset.
func (s *Service) Links(ctx context.Context, a asset.Asset) (Links, error) {
	if !a.Active() {
		return Links{}, asset.ErrNotFound
	}

	expires := s.now().Add(s.ttl)
	original, err := s.sign(ctx, a.StorageKey, a.OriginalName)
	if err != nil {
		return Links{}, err
	}

	links := Links{AssetID: a.ID.String(), Original: original, ExpiresAt: expires}
	if a.Status == asset.StatusReady && a.DerivedKey != "" {
		if links.Thumbnail, err = s.sign(ctx, a.DerivedKey, ""); err != nil {
			return Links{}, err
		}
	}
	return links, nil
}

// ThumbnailURL signs only the thumbnail.
func (s *Service) ThumbnailURL(ctx context.Context, a asset.Asset) (string, error) {
	if !a.Active() {
		return "", asset.ErrNotFound
	}
	if a.Status != asset.StatusReady || a.DerivedKey == "" {
		return "", fmt.Errorf("%w: status %s", ErrThumbnailUnavailable, a.Status)
	}
	return s.sign(ctx, a.DerivedKey, "")
}

func (s *Service) sign(ctx context.Context, object, downloadName string) (string, error) {
	params := make(url.Values)
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("inline; filename=%q", downloadName))
	}

	u, err := s.signer.PresignedGetObject(ctx, s.bucket, object, s.ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w: %w", object, asset.ErrStorage, err)
	}
	return u.String(), nil
}

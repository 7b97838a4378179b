package presigned

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/abduss/imagevault/internal/asset"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	err     error
	objects []string
	params  []url.Values
	expiry  time.Duration
}

func (f *fakeSigner) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.objects = append(f.objects, object)
	f.params = append(f.params, params)
	f.expiry = expiry
	return &url.URL{Scheme: "https", Host: "minio.local", Path: "/" + bucket + "/" + object}, nil
}

func readyAsset() asset.Asset {
	return asset.Asset{
		ID:           uuid.New(),
		ProjectID:    "acme",
		StorageKey:   "projects/acme/a.png",
		DerivedKey:   "projects/acme/a_thumbnail.jpg",
		OriginalName: "logo.png",
		Status:       asset.StatusReady,
	}
}

func TestLinksSignsOriginalAndThumbnail(t *testing.T) {
	signer := &fakeSigner{}
	svc := NewService(signer, "imagevault", time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	links, err := svc.Links(context.Background(), readyAsset())
	require.NoError(t, err)

	assert.Equal(t, "https://minio.local/imagevault/projects/acme/a.png", links.Original)
	assert.Equal(t, "https://minio.local/imagevault/projects/acme/a_thumbnail.jpg", links.Thumbnail)
	assert.Equal(t, now.Add(time.Minute), links.ExpiresAt)
	assert.Equal(t, time.Minute, signer.expiry)
	assert.Equal(t, `inline; filename="logo.png"`, signer.params[0].Get("response-content-disposition"))
	assert.Empty(t, signer.params[1])
}

func TestLinksOmitThumbnailUntilReady(t *testing.T) {
	signer := &fakeSigner{}
	svc := NewService(signer, "imagevault", 0)

	a := readyAsset()
	a.Status = asset.StatusPending
	a.DerivedKey = ""

	links, err := svc.Links(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, links.Thumbnail)
	assert.Equal(t, []string{a.StorageKey}, signer.objects)
	assert.Equal(t, DefaultTTL, signer.expiry)

	_, err = svc.ThumbnailURL(context.Background(), a)
	assert.ErrorIs(t, err, ErrThumbnailUnavailable)
}

func TestLinksRejectDeletedAssets(t *testing.T) {
	svc := NewService(&fakeSigner{}, "imagevault", time.Minute)
	a := readyAsset()
	a.SoftDeleted = true

	_, err := svc.Links(context.Background(), a)
	assert.ErrorIs(t, err, asset.ErrNotFound)
	_, err = svc.ThumbnailURL(context.Background(), a)
	assert.ErrorIs(t, err, asset.ErrNotFound)
}

func TestSignFailureIsStorageError(t *testing.T) {
	svc := NewService(&fakeSigner{err: errors.New("no credentials")}, "imagevault", time.Minute)

	_, err := svc.Links(context.Background(), readyAsset())
	assert.ErrorIs(t, err, asset.ErrStorage)
}

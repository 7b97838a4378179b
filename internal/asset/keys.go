package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const thumbnailSuffix = "_thumbnail.jpg"

// ContentHash returns the hex SHA-256 digest used as the dedup key.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewStorageKey issues a fresh primary key for a project. Keys are never reused.
func NewStorageKey(projectID, originalName string) string {
	return fmt.Sprintf("projects/%s/%s%s", projectID, uuid.NewString(), extension(originalName))
}

// ThumbnailKey derives the thumbnail key from a primary key so it can be found
// without a lookup.
func ThumbnailKey(storageKey string) string {
	return strings.TrimSuffix(storageKey, path.Ext(storageKey)) + thumbnailSuffix
}

func extension(name string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/"))))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

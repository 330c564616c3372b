// Package images stores uploaded images and hands back the URL they are
// served from.
package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrInvalidImage is returned for payloads that do not decode to an image.
var ErrInvalidImage = errors.New("invalid image payload")

// DefaultMaxBytes caps a decoded image.
const DefaultMaxBytes = 5 << 20

// DiskStore writes images to a local directory served under BaseURL.
type DiskStore struct {
	dir      string
	baseURL  string
	maxBytes int
}

// NewDiskStore creates dir if needed and returns a DiskStore.
func NewDiskStore(dir, baseURL string, maxBytes int) (*DiskStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("internal/images: create upload dir: %w", err)
	}
	return &DiskStore{
		dir:      dir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Dir is the directory images are written to.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save accepts a data URI ("data:image/png;base64,...") or bare base64,
// checks that the bytes really are an image and writes them to disk.
func (s *DiskStore) Save(ctx context.Context, payload string) (string, error) {
	data, err := decodePayload(payload)
	if err != nil {
		return "", err
	}
	if len(data) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), s.maxBytes)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrInvalidImage, mtype.String())
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + mtype.Extension()
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("internal/images: write %s: %w", name, err)
	}

	return s.baseURL + "/" + name, nil
}

func decodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, encoded, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: data URI must be base64 encoded", ErrInvalidImage)
		}
		payload = encoded
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return data, nil
}

package images

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func TestDiskStoreSave(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir, "/uploads/", 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"data_uri", "data:image/png;base64," + pixelPNG, false},
		{"bare_base64", pixelPNG, false},
		{"not_base64", "data:image/png;base64,@@@", true},
		{"data_uri_without_base64", "data:image/png," + pixelPNG, true},
		{"not_an_image", base64.StdEncoding.EncodeToString([]byte("hello, world")), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := s.Save(context.Background(), tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidImage)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "/uploads/"), url)
			assert.True(t, strings.HasSuffix(url, ".png"), url)

			_, err = os.Stat(filepath.Join(dir, strings.TrimPrefix(url, "/uploads/")))
			assert.NoError(t, err)
		})
	}
}

func TestDiskStoreSizeLimit(t *testing.T) {
	s, err := NewDiskStore(t.TempDir(), "/uploads", 10)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), pixelPNG)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Upload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "http://localhost:8080/objects/")
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "generated-images/abc.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/objects/generated-images/abc.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "generated-images", "abc.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	// Same key overwrites.
	_, err = s.Upload(context.Background(), "generated-images/abc.png", []byte("png2"), "image/png")
	require.NoError(t, err)
	data, _ = os.ReadFile(filepath.Join(dir, "generated-images", "abc.png"))
	assert.Equal(t, []byte("png2"), data)
}

func TestFileStore_FileURLWithoutPublicBase(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "a.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"), url)
	assert.True(t, strings.HasSuffix(url, "/a.png"), url)
}

func TestFileStore_Errors(t *testing.T) {
	_, err := NewFileStore("  ", "")
	assert.Error(t, err)

	s, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Upload(ctx, "a.png", nil, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"generated-images/a.png", "generated-images/a.png", false},
		{"/leading/slash.png", "leading/slash.png", false},
		{"./dot/a.png", "dot/a.png", false},
		{`win\path.png`, "win/path.png", false},
		{"a/../b.png", "b.png", false},
		{"", "", true},
		{"..", "", true},
		{"../escape.png", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := sanitizeKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Drivers(t *testing.T) {
	s, err := New(context.Background(), config.ObjectStoreConfig{Driver: "filesystem", FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(context.Background(), config.ObjectStoreConfig{Driver: "gcs"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.ObjectStoreConfig{Driver: "s3"})
	assert.Error(t, err, "bucket is required")
}

package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(src, []byte("pixels"), 0o644))

	dst := filepath.Join(dir, "out", "nested", "photo.png")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
	assert.FileExists(t, src)

	assert.Error(t, CopyFile(filepath.Join(dir, "missing.png"), dst))
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "temp.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))

	dst := filepath.Join(dir, "out", "result.mp4")
	require.NoError(t, MoveFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
	assert.NoFileExists(t, src)

	assert.Error(t, MoveFile(src, dst))
}

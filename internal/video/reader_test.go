package video

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

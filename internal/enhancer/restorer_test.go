package enhancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	for _, name := range []string{"gfpgan_1.4", "gpen_bfr_512", "codeformer"} {
		p, err := ProfileFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name)
		assert.Equal(t, 512, p.Size)
		assert.NotEmpty(t, p.Artifact.Name)
	}

	_, err := ProfileFor("restoreformer")
	assert.Error(t, err)
}

func TestDenormalize(t *testing.T) {
	assert.Equal(t, float32(0), denormalize(-1))
	assert.Equal(t, float32(0), denormalize(-3))
	assert.Equal(t, float32(127.5), denormalize(0))
	assert.Equal(t, float32(255), denormalize(1))
	assert.Equal(t, float32(255), denormalize(2))
}

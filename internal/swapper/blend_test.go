package swapper

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/detector"
)

func TestPasteRegion(t *testing.T) {
	// crop of 128 mapped from a 256-px face at (100, 50)
	m := detector.Affine{{0.5, 0, -50}, {0, 0.5, -25}}
	r := pasteRegion(m, 128, 128, 1000, 1000)
	assert.Equal(t, image.Rect(100, 50, 356, 306), r)

	clipped := pasteRegion(m, 128, 128, 200, 200)
	assert.Equal(t, image.Rect(100, 50, 200, 200), clipped)

	outside := pasteRegion(m.Translate(5000, 0), 128, 128, 200, 200)
	assert.True(t, outside.Empty())
}

func TestFeatherSize(t *testing.T) {
	assert.Equal(t, 16, featherSize(detector.Affine{{0.5, 0, 0}, {0, 0.5, 0}}, 128))
	assert.Equal(t, 1, featherSize(detector.Affine{{10, 0, 0}, {0, 10, 0}}, 128))
	assert.Equal(t, 1, featherSize(detector.Affine{}, 128))
}

func TestClampByte(t *testing.T) {
	assert.Equal(t, uint8(0), clampByte(-4))
	assert.Equal(t, uint8(255), clampByte(300))
	assert.Equal(t, uint8(128), clampByte(127.6))
}

func TestPlanarToBGR(t *testing.T) {
	// 1x1 image: R=1, G=0.5, B=0
	mat, err := PlanarToBGR([]float32{1, 0.5, 0}, 1, func(v float32) float32 { return v * 255 })
	require.NoError(t, err)
	defer mat.Close()

	px := mat.GetVecbAt(0, 0)
	assert.Equal(t, uint8(0), px[0])
	assert.Equal(t, uint8(128), px[1])
	assert.Equal(t, uint8(255), px[2])

	_, err = PlanarToBGR([]float32{1}, 1, func(v float32) float32 { return v })
	assert.Error(t, err)
}

func TestPasteCoversFaceCenter(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 400, 400, gocv.MatTypeCV8UC3)
	defer frame.Close()
	crop := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 128, 128, gocv.MatTypeCV8UC3)
	defer crop.Close()

	m := detector.Affine{{0.5, 0, -50}, {0, 0.5, -25}}
	NewBlender(false).Paste(crop, &frame, m)

	center := frame.GetVecbAt(178, 228)
	assert.InDelta(t, 200, int(center[0]), 2)
	corner := frame.GetVecbAt(5, 5)
	assert.Equal(t, uint8(0), corner[0])
}

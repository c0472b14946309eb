package detector

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// ArcFace112 holds the reference landmarks of a 112x112 ArcFace crop
var ArcFace112 = Template{
	Size: 112,
	Points: []Point{
		{X: 38.2946, Y: 51.6963}, // left eye
		{X: 73.5318, Y: 51.5014}, // right eye
		{X: 56.0252, Y: 71.7366}, // nose
		{X: 41.5493, Y: 92.3655}, // left mouth
		{X: 70.7299, Y: 92.2041}, // right mouth
	},
}

// FFHQ512 holds the reference landmarks of a 512x512 FFHQ crop used by
// face restoration models
var FFHQ512 = Template{
	Size: 512,
	Points: []Point{
		{X: 192.98138, Y: 239.94708},
		{X: 318.90277, Y: 240.19360},
		{X: 256.63416, Y: 314.01935},
		{X: 201.26117, Y: 371.41043},
		{X: 313.08905, Y: 371.15118},
	},
}

// Template is a set of reference landmarks for a square crop
type Template struct {
	Size   int
	Points []Point
}

// Scaled returns the template resized to a square of size px
func (t Template) Scaled(size int) Template {
	k := float32(size) / float32(t.Size)
	pts := make([]Point, len(t.Points))
	for i, p := range t.Points {
		pts[i] = Point{X: p.X * k, Y: p.Y * k}
	}
	return Template{Size: size, Points: pts}
}

// Affine is a 2x3 transform [a b tx; c d ty]
type Affine [2][3]float64

// Apply maps p through the transform
func (m Affine) Apply(p Point) Point {
	x, y := float64(p.X), float64(p.Y)
	return Point{
		X: float32(m[0][0]*x + m[0][1]*y + m[0][2]),
		Y: float32(m[1][0]*x + m[1][1]*y + m[1][2]),
	}
}

// Mat converts the transform to a CV_64F 2x3 matrix owned by the caller
func (m Affine) Mat() gocv.Mat {
	mat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			mat.SetDoubleAt(r, c, m[r][c])
		}
	}
	return mat
}

// EstimateSimilarity computes the least-squares similarity transform
// (rotation, uniform scale, translation) mapping src onto dst.
func EstimateSimilarity(src, dst []Point) Affine {
	n := min(len(src), len(dst))
	if n == 0 {
		return Affine{{1, 0, 0}, {0, 1, 0}}
	}

	// Compute centroids
	var srcCx, srcCy, dstCx, dstCy float64
	for i := 0; i < n; i++ {
		srcCx += float64(src[i].X)
		srcCy += float64(src[i].Y)
		dstCx += float64(dst[i].X)
		dstCy += float64(dst[i].Y)
	}
	srcCx /= float64(n)
	srcCy /= float64(n)
	dstCx /= float64(n)
	dstCy /= float64(n)

	// Cross terms of the centered point sets
	var dot, cross, srcVar float64
	for i := 0; i < n; i++ {
		sx := float64(src[i].X) - srcCx
		sy := float64(src[i].Y) - srcCy
		dx := float64(dst[i].X) - dstCx
		dy := float64(dst[i].Y) - dstCy

		dot += sx*dx + sy*dy
		cross += sx*dy - sy*dx
		srcVar += sx*sx + sy*sy
	}
	if srcVar < 1e-12 {
		return Affine{{1, 0, dstCx - srcCx}, {0, 1, dstCy - srcCy}}
	}

	// s*cos and s*sin of the optimal rotation
	a := dot / srcVar
	b := cross / srcVar

	return Affine{
		{a, -b, dstCx - (a*srcCx - b*srcCy)},
		{b, a, dstCy - (b*srcCx + a*srcCy)},
	}
}

// Invert returns the inverse transform. A singular matrix yields identity.
func (m Affine) Invert() Affine {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if math.Abs(det) < 1e-12 {
		return Affine{{1, 0, 0}, {0, 1, 0}}
	}
	a := m[1][1] / det
	b := -m[0][1] / det
	c := -m[1][0] / det
	d := m[0][0] / det
	return Affine{
		{a, b, -(a*m[0][2] + b*m[1][2])},
		{c, d, -(c*m[0][2] + d*m[1][2])},
	}
}

// Translate returns the transform followed by a shift of (dx, dy)
func (m Affine) Translate(dx, dy float64) Affine {
	m[0][2] += dx
	m[1][2] += dy
	return m
}

// Scale returns the uniform scale factor of a similarity transform
func (m Affine) Scale() float64 {
	return math.Hypot(m[0][0], m[1][0])
}

// AlignFace warps the face described by landmarks into the template crop.
// The caller owns the returned Mat.
func AlignFace(img gocv.Mat, landmarks Landmarks, t Template) (gocv.Mat, Affine) {
	m := EstimateSimilarity(landmarks.Points(), t.Points)
	mat := m.Mat()
	defer mat.Close()

	aligned := gocv.NewMat()
	gocv.WarpAffine(img, &aligned, mat, image.Pt(t.Size, t.Size))
	return aligned, m
}

package detector

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Landmarks represents 5 facial landmark points
type Landmarks struct {
	LeftEye    Point // index 0
	RightEye   Point // index 1
	Nose       Point // index 2
	LeftMouth  Point // index 3
	RightMouth Point // index 4
}

// Points returns the landmarks in template order
func (l Landmarks) Points() []Point {
	return []Point{l.LeftEye, l.RightEye, l.Nose, l.LeftMouth, l.RightMouth}
}

// Embedding is an L2-normalized identity vector
type Embedding []float32

// Dot returns the dot product, which is the cosine similarity for
// normalized embeddings
func (e Embedding) Dot(o Embedding) float32 {
	n := min(len(e), len(o))
	var dot float32
	for i := 0; i < n; i++ {
		dot += e[i] * o[i]
	}
	return dot
}

// Face represents a detected face. Faces are values; transforms never
// modify the face they are given.
type Face struct {
	BoundingBox BoundingBox
	Landmarks   Landmarks // 5-point from SCRFD
	Score       float32
	Embedding   Embedding // nil when no recognizer ran
}

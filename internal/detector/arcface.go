package detector

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/inference"
)

// EmbeddingSize is the ArcFace output dimension
const EmbeddingSize = 512

// ArcFace extracts identity embeddings from aligned 112x112 faces
type ArcFace struct {
	session *inference.Session
}

// NewArcFace creates a new ArcFace recognizer
func NewArcFace(modelPath string) (*ArcFace, error) {
	// ArcFace has 1 input and 1 output; node names differ between exports
	session, err := inference.NewSession(modelPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ArcFace session: %w", err)
	}

	return &ArcFace{
		session: session,
	}, nil
}

// Embed aligns the face and computes its normalized embedding
func (r *ArcFace) Embed(img gocv.Mat, landmarks Landmarks) (Embedding, error) {
	aligned, _ := AlignFace(img, landmarks, ArcFace112)
	defer aligned.Close()
	return r.Extract(aligned)
}

// Extract computes the 512-dim embedding from an aligned 112x112 face
func (r *ArcFace) Extract(alignedFace gocv.Mat) (Embedding, error) {
	if alignedFace.Rows() != 112 || alignedFace.Cols() != 112 {
		return nil, fmt.Errorf("expected 112x112 input, got %dx%d", alignedFace.Cols(), alignedFace.Rows())
	}

	// (x - 127.5) / 127.5, RGB, NCHW
	blob := gocv.BlobFromImage(alignedFace, 1.0/127.5, image.Pt(112, 112),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read ArcFace blob: %w", err)
	}

	outputs, _, err := r.session.RunFloat([]int64{1, 3, 112, 112}, append([]float32(nil), data...))
	if err != nil {
		return nil, fmt.Errorf("ArcFace inference failed: %w", err)
	}
	if len(outputs[0]) < EmbeddingSize {
		return nil, fmt.Errorf("ArcFace returned %d values, want %d", len(outputs[0]), EmbeddingSize)
	}

	return Normalize(outputs[0][:EmbeddingSize]), nil
}

// Close releases recognizer resources
func (r *ArcFace) Close() error {
	return r.session.Destroy()
}

// Normalize returns an L2-normalized copy of v
func Normalize(v []float32) Embedding {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}

	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

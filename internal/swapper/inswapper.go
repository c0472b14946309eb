package swapper

import (
	"errors"
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/detector"
	"github.com/dudu/metalroop/internal/inference"
)

// InputSize is the inswapper crop size
const InputSize = 128

// Inswapper performs face swapping using the inswapper model
type Inswapper struct {
	session  *inference.Session
	emap     *Emap
	template detector.Template
}

// NewInswapper creates a new face swapper. The emap is read from the same
// model file.
func NewInswapper(modelPath string) (*Inswapper, error) {
	emap, err := LoadEmap(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load inswapper emap: %w", err)
	}

	// Inswapper has 2 inputs: target face and source latent
	session, err := inference.NewSession(modelPath, []string{"target", "source"}, []string{"output"})
	if err != nil {
		return nil, fmt.Errorf("failed to create Inswapper session: %w", err)
	}

	return &Inswapper{
		session:  session,
		emap:     emap,
		template: detector.ArcFace112.Scaled(InputSize),
	}, nil
}

// Latent converts a source face embedding into the model's latent space.
// The result can be reused for every target face.
func (s *Inswapper) Latent(source detector.Face) (detector.Embedding, error) {
	if len(source.Embedding) == 0 {
		return nil, errors.New("source face has no embedding")
	}
	return s.emap.TransformEmbedding(source.Embedding)
}

// SwapFace replaces target inside frame with the identity encoded by latent
func (s *Inswapper) SwapFace(frame *gocv.Mat, target detector.Face, latent detector.Embedding, blender *Blender) error {
	aligned, m := detector.AlignFace(*frame, target.Landmarks, s.template)
	defer aligned.Close()

	swapped, err := s.Swap(aligned, latent)
	if err != nil {
		return err
	}
	defer swapped.Close()

	blender.Paste(swapped, frame, m)
	return nil
}

// Swap generates a swapped face from an aligned 128x128 target crop and a
// source latent. Returns the swapped face as 128x128 BGR image.
func (s *Inswapper) Swap(targetFace gocv.Mat, latent detector.Embedding) (gocv.Mat, error) {
	if targetFace.Rows() != InputSize || targetFace.Cols() != InputSize {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d target, got %dx%d", InputSize, InputSize, targetFace.Cols(), targetFace.Rows())
	}

	// Matches insightface preprocessing:
	// blob = cv2.dnn.blobFromImage(aimg, 1.0/255, input_size, (0,0,0), swapRB=True)
	blob := gocv.BlobFromImage(targetFace, 1.0/255.0, image.Pt(InputSize, InputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	targetData, err := blob.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to read target blob: %w", err)
	}

	targetTensor, err := inference.CreateTensor([]int64{1, 3, InputSize, InputSize}, append([]float32(nil), targetData...))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	sourceTensor, err := inference.CreateTensor([]int64{1, int64(len(latent))}, []float32(latent))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create source tensor: %w", err)
	}
	defer sourceTensor.Destroy()

	outputs, _, err := s.session.RunValues([]ort.Value{targetTensor, sourceTensor})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("inswapper inference failed: %w", err)
	}

	return PlanarToBGR(outputs[0], InputSize, func(v float32) float32 { return v * 255 })
}

// Close releases swapper resources
func (s *Inswapper) Close() error {
	return s.session.Destroy()
}

// PlanarToBGR converts NCHW RGB model output to an 8-bit BGR Mat, mapping
// each value to [0,255] with scale
func PlanarToBGR(data []float32, size int, scale func(float32) float32) (gocv.Mat, error) {
	plane := size * size
	if len(data) < 3*plane {
		return gocv.NewMat(), fmt.Errorf("output has %d values, want %d", len(data), 3*plane)
	}

	pixels := make([]byte, plane*3)
	for i := 0; i < plane; i++ {
		pixels[i*3+0] = clampByte(scale(data[2*plane+i])) // B
		pixels[i*3+1] = clampByte(scale(data[1*plane+i])) // G
		pixels[i*3+2] = clampByte(scale(data[0*plane+i])) // R
	}

	return gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC3, pixels)
}

func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

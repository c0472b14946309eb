package detector

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/inference"
)

// SCRFD defaults used by the analyser
const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.5
	DefaultNMSThreshold  = 0.4
)

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	session        *inference.Session
	inputSize      int
	confThreshold  float32
	nmsThreshold   float32
	featureStrides []int
	numAnchors     int
}

// NewSCRFD creates a new SCRFD detector
func NewSCRFD(modelPath string, inputSize int, confThreshold, nmsThreshold float32) (*SCRFD, error) {
	// SCRFD has 1 input and 9 outputs (3 levels × 3 outputs each: score, bbox, kps).
	// Exported graphs name them differently, so the names come from the model.
	session, err := inference.NewSession(modelPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SCRFD session: %w", err)
	}
	if n := len(session.OutputNames()); n != 9 {
		session.Destroy()
		return nil, fmt.Errorf("SCRFD model %s has %d outputs, want 9", modelPath, n)
	}

	return &SCRFD{
		session:        session,
		inputSize:      inputSize,
		confThreshold:  confThreshold,
		nmsThreshold:   nmsThreshold,
		featureStrides: []int{8, 16, 32},
		numAnchors:     2, // anchors per position
	}, nil
}

// Detect finds faces in an image. The result is ordered by descending score.
func (s *SCRFD) Detect(img gocv.Mat) ([]Face, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	// Get original dimensions
	origHeight := img.Rows()
	origWidth := img.Cols()

	// Preprocess: resize and normalize
	input, scale, err := s.preprocess(img)
	if err != nil {
		return nil, err
	}

	size := int64(s.inputSize)
	outputs, _, err := s.session.RunFloat([]int64{1, 3, size, size}, input)
	if err != nil {
		return nil, fmt.Errorf("SCRFD inference failed: %w", err)
	}

	// Decode outputs
	faces := s.postprocess(outputs, scale, origWidth, origHeight)

	// Apply NMS
	faces = nms(faces, s.nmsThreshold)

	return faces, nil
}

// preprocess letterboxes the image into the square input and returns the
// NCHW blob data with the resize scale
func (s *SCRFD) preprocess(img gocv.Mat) ([]float32, float32, error) {
	height := img.Rows()
	width := img.Cols()

	scale := float32(s.inputSize) / float32(max(height, width))

	newWidth := int(float32(width) * scale)
	newHeight := int(float32(height) * scale)

	// Resize
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)

	// Create padded image (letterbox, top-left anchored)
	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), s.inputSize, s.inputSize, gocv.MatTypeCV8UC3)
	defer padded.Close()

	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	resized.CopyTo(&roi)
	roi.Close()

	// (x - 127.5) / 128, RGB, HWC to CHW
	blob := gocv.BlobFromImage(padded, 1.0/128.0, image.Pt(s.inputSize, s.inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read SCRFD blob: %w", err)
	}
	return append([]float32(nil), data...), scale, nil
}

// postprocess decodes model outputs to faces
func (s *SCRFD) postprocess(outputs [][]float32, scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level := 0; level < 3; level++ {
		stride := s.featureStrides[level]
		fmHeight := s.inputSize / stride
		fmWidth := s.inputSize / stride

		scoreData := outputs[level]
		bboxData := outputs[level+3]
		kpsData := outputs[level+6]

		st := float32(stride)
		anchorIdx := 0
		for y := 0; y < fmHeight; y++ {
			for x := 0; x < fmWidth; x++ {
				for a := 0; a < s.numAnchors; a++ {
					if anchorIdx >= len(scoreData) {
						break
					}
					score := scoreData[anchorIdx]
					if score < 0 || score > 1 {
						score = sigmoid(score)
					}

					if score >= s.confThreshold {
						// Anchor center
						cx := float32(x) * st
						cy := float32(y) * st

						// Decode bbox (distance to edges)
						bboxIdx := anchorIdx * 4
						x1 := (cx - bboxData[bboxIdx]*st) / scale
						y1 := (cy - bboxData[bboxIdx+1]*st) / scale
						x2 := (cx + bboxData[bboxIdx+2]*st) / scale
						y2 := (cy + bboxData[bboxIdx+3]*st) / scale

						// Clamp to image bounds
						x1 = clamp(x1, 0, float32(origWidth))
						y1 = clamp(y1, 0, float32(origHeight))
						x2 = clamp(x2, 0, float32(origWidth))
						y2 = clamp(y2, 0, float32(origHeight))

						// Decode keypoints
						kpsIdx := anchorIdx * 10
						kp := func(i int) Point {
							return Point{
								X: (cx + kpsData[kpsIdx+2*i]*st) / scale,
								Y: (cy + kpsData[kpsIdx+2*i+1]*st) / scale,
							}
						}

						faces = append(faces, Face{
							BoundingBox: BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
							Landmarks: Landmarks{
								LeftEye:    kp(0),
								RightEye:   kp(1),
								Nose:       kp(2),
								LeftMouth:  kp(3),
								RightMouth: kp(4),
							},
							Score: score,
						})
					}
					anchorIdx++
				}
			}
		}
	}

	return faces
}

// Close releases detector resources
func (s *SCRFD) Close() error {
	return s.session.Destroy()
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

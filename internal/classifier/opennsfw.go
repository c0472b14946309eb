// Package classifier scores images with the Open-NSFW model.
package classifier

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/inference"
	"github.com/dudu/metalroop/internal/safety"
	"github.com/dudu/metalroop/internal/video"
)

const (
	resizeSize = 256
	inputSize  = 224
)

// Caffe-style BGR channel means
var bgrMean = [3]float32{104, 117, 123}

// OpenNSFW implements safety.Scorer
type OpenNSFW struct {
	session *inference.Session
}

// NewOpenNSFW loads the classifier model
func NewOpenNSFW(modelPath string) (*OpenNSFW, error) {
	session, err := inference.NewSession(modelPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Open-NSFW session: %w", err)
	}
	return &OpenNSFW{session: session}, nil
}

// ScoreImage returns the unsafe probability of an image file
func (c *OpenNSFW) ScoreImage(path string) (float32, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return 0, fmt.Errorf("failed to read image %s", path)
	}
	return c.Score(img)
}

// OpenVideo opens a video for frame scoring
func (c *OpenNSFW) OpenVideo(path string) (safety.VideoScorer, error) {
	r, err := video.Open(path)
	if err != nil {
		return nil, err
	}
	return &videoScorer{classifier: c, reader: r}, nil
}

// Score returns the unsafe probability of a BGR frame
func (c *OpenNSFW) Score(img gocv.Mat) (float32, error) {
	input := Preprocess(img)

	outputs, _, err := c.session.RunFloat([]int64{1, inputSize, inputSize, 3}, input)
	if err != nil {
		return 0, fmt.Errorf("Open-NSFW inference failed: %w", err)
	}
	return Probability(outputs[0])
}

// Close releases classifier resources
func (c *OpenNSFW) Close() error {
	return c.session.Destroy()
}

// Preprocess resizes to 256x256, center-crops 224x224 and subtracts the BGR
// means, producing NHWC float data
func Preprocess(img gocv.Mat) []float32 {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(resizeSize, resizeSize), 0, 0, gocv.InterpolationLinear)

	off := (resizeSize - inputSize) / 2
	region := resized.Region(image.Rect(off, off, off+inputSize, off+inputSize))
	defer region.Close()
	crop := region.Clone()
	defer crop.Close()

	data := crop.ToBytes()
	out := make([]float32, len(data))
	for i, b := range data {
		out[i] = float32(b) - bgrMean[i%3]
	}
	return out
}

// Probability picks the unsafe class from the [safe, unsafe] output
func Probability(output []float32) (float32, error) {
	if len(output) < 2 {
		return 0, fmt.Errorf("Open-NSFW returned %d values, want 2", len(output))
	}
	return output[1], nil
}

type videoScorer struct {
	classifier *OpenNSFW
	reader     *video.Reader
}

func (v *videoScorer) FrameCount() int {
	return v.reader.FrameCount()
}

func (v *videoScorer) ScoreFrame(index int) (float32, error) {
	frame := gocv.NewMat()
	defer frame.Close()
	if err := v.reader.ReadAt(index, &frame); err != nil {
		return 0, err
	}
	return v.classifier.Score(frame)
}

func (v *videoScorer) Close() error {
	return v.reader.Close()
}

package detector

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Detector returns the faces of an image in detector order.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(img gocv.Mat) ([]Face, error)
}

// Analyser pairs the SCRFD detector with the ArcFace recognizer so every
// returned face carries its embedding.
type Analyser struct {
	detector   *SCRFD
	recognizer *ArcFace
}

// NewAnalyser loads both models
func NewAnalyser(detectorPath, recognizerPath string) (*Analyser, error) {
	det, err := NewSCRFD(detectorPath, DefaultInputSize, DefaultConfThreshold, DefaultNMSThreshold)
	if err != nil {
		return nil, err
	}

	rec, err := NewArcFace(recognizerPath)
	if err != nil {
		det.Close()
		return nil, err
	}

	return &Analyser{detector: det, recognizer: rec}, nil
}

// Detect runs detection and computes an embedding for each face
func (a *Analyser) Detect(img gocv.Mat) ([]Face, error) {
	faces, err := a.detector.Detect(img)
	if err != nil {
		return nil, err
	}

	for i := range faces {
		emb, err := a.recognizer.Embed(img, faces[i].Landmarks)
		if err != nil {
			return nil, fmt.Errorf("failed to embed face %d: %w", i, err)
		}
		faces[i].Embedding = emb
	}
	return faces, nil
}

// Close releases both sessions
func (a *Analyser) Close() error {
	return errors.Join(a.detector.Close(), a.recognizer.Close())
}

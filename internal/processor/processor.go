// Package processor implements the frame processors a run applies in order.
package processor

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/detector"
	"github.com/dudu/metalroop/internal/enhancer"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/swapper"
)

// FrameProcessor is one transform stage of a run. A processor is created per
// run and used in the order ReadyCheck, ValidateInputs, then ProcessImage or
// ProcessVideo.
type FrameProcessor interface {
	Name() string
	// ReadyCheck fetches missing model artifacts and checks external tools
	ReadyCheck(ctx context.Context) error
	// ValidateInputs checks preconditions before any frame is touched
	ValidateInputs(ctx context.Context, cfg config.Run) error
	// TransformFrame updates frame in place. source is never modified.
	TransformFrame(source detector.Face, frame *gocv.Mat) error
	ProcessImage(ctx context.Context, source, target, output string) error
	// ProcessVideo overwrites every frame file with its transformed version
	ProcessVideo(ctx context.Context, source string, framePaths []string) error
}

// SwapModel replaces faces with a source identity
type SwapModel interface {
	Latent(source detector.Face) (detector.Embedding, error)
	SwapFace(frame *gocv.Mat, target detector.Face, latent detector.Embedding, blender *swapper.Blender) error
}

// RestoreModel restores single faces in a frame
type RestoreModel interface {
	EnhanceFace(frame *gocv.Mat, face detector.Face, blender *swapper.Blender) error
}

// ArtifactStore resolves model artifacts to local files
type ArtifactStore interface {
	Ensure(ctx context.Context, a models.Artifact) (string, error)
}

// ToolChecker verifies external tools are reachable
type ToolChecker interface {
	Check() error
}

// Deps are the shared collaborators of every processor. Handle providers are
// expected to memoize, processors call them freely.
type Deps struct {
	Artifacts ArtifactStore
	Tools     ToolChecker
	Analyser  func(ctx context.Context) (detector.Detector, error)
	Swapper   func(ctx context.Context) (SwapModel, error)
	Restorer  func(ctx context.Context, profile enhancer.Profile) (RestoreModel, error)
	Log       logrus.FieldLogger
	Progress  io.Writer // frame progress bars, nil for none
}

// New creates the processor registered under name
func New(name string, cfg config.Run, deps Deps) (FrameProcessor, error) {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	switch name {
	case config.ProcessorFaceSwapper:
		return NewFaceSwapper(cfg, deps), nil
	case config.ProcessorFaceEnhancer:
		return NewFaceEnhancer(cfg, deps)
	default:
		return nil, runerr.Errorf(runerr.KindInvalidInput, "create processor", "unknown frame processor %q", name)
	}
}

// NewAll creates the configured processors in configured order
func NewAll(cfg config.Run, deps Deps) ([]FrameProcessor, error) {
	procs := make([]FrameProcessor, 0, len(cfg.Processors))
	for _, name := range cfg.Processors {
		p, err := New(name, cfg, deps)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// readyCheck ensures every artifact and the external tools
func readyCheck(ctx context.Context, name string, deps Deps, artifacts ...models.Artifact) error {
	for _, a := range artifacts {
		if _, err := deps.Artifacts.Ensure(ctx, a); err != nil {
			return runerr.Classify(runerr.KindMissingDependency, name+": fetch "+a.Name, err)
		}
	}
	if deps.Tools != nil {
		if err := deps.Tools.Check(); err != nil {
			return runerr.Classify(runerr.KindMissingDependency, name+": check tools", err)
		}
	}
	return nil
}

// validateTarget accepts image and video targets only
func validateTarget(name, target string) error {
	kind, err := media.Detect(target)
	if err != nil {
		return runerr.New(runerr.KindInvalidInput, name+": read target", err)
	}
	if kind == media.Unknown {
		return runerr.Errorf(runerr.KindInvalidInput, name+": read target", "%s is neither an image nor a video", target)
	}
	return nil
}

// readImage loads path as a BGR image
func readImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("failed to read image %s", path)
	}
	return img, nil
}

// transformImage reads target, applies fn and writes output
func transformImage(target, output string, fn func(frame *gocv.Mat) error) error {
	img, err := readImage(target)
	if err != nil {
		return err
	}
	defer img.Close()

	if err := fn(&img); err != nil {
		return err
	}
	if !gocv.IMWrite(output, img) {
		return fmt.Errorf("failed to write image %s", output)
	}
	return nil
}

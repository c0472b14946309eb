package processor

import (
	"context"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/detector"
	"github.com/dudu/metalroop/internal/enhancer"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/swapper"
)

// FaceEnhancer restores every face of a frame. It needs no source face.
type FaceEnhancer struct {
	deps    Deps
	cfg     config.Run
	profile enhancer.Profile
	blender *swapper.Blender
	log     logrus.FieldLogger

	detector detector.Detector
	model    RestoreModel
}

// NewFaceEnhancer creates the enhancer processor for cfg.EnhancerModel
func NewFaceEnhancer(cfg config.Run, deps Deps) (*FaceEnhancer, error) {
	name := cfg.EnhancerModel
	if name == "" {
		name = config.EnhancerGFPGAN
	}
	profile, err := enhancer.ProfileFor(name)
	if err != nil {
		return nil, runerr.New(runerr.KindInvalidInput, "create "+config.ProcessorFaceEnhancer, err)
	}
	return &FaceEnhancer{
		deps:    deps,
		cfg:     cfg,
		profile: profile,
		blender: swapper.NewBlender(false),
		log: deps.Log.WithFields(logrus.Fields{
			"processor": config.ProcessorFaceEnhancer,
			"model":     profile.Name,
		}),
	}, nil
}

// Name returns the processor name
func (p *FaceEnhancer) Name() string { return config.ProcessorFaceEnhancer }

// ReadyCheck fetches the detector and restoration models
func (p *FaceEnhancer) ReadyCheck(ctx context.Context) error {
	return readyCheck(ctx, p.Name(), p.deps,
		models.ArtifactDetector, models.ArtifactRecognizer, p.profile.Artifact)
}

// ValidateInputs checks the target and loads the models
func (p *FaceEnhancer) ValidateInputs(ctx context.Context, cfg config.Run) error {
	p.cfg = cfg
	if err := validateTarget(p.Name(), cfg.TargetPath); err != nil {
		return err
	}
	return p.loadModels(ctx)
}

func (p *FaceEnhancer) loadModels(ctx context.Context) error {
	if p.detector != nil && p.model != nil {
		return nil
	}
	det, err := p.deps.Analyser(ctx)
	if err != nil {
		return runerr.Classify(runerr.KindMissingDependency, p.Name()+": load analyser", err)
	}
	model, err := p.deps.Restorer(ctx, p.profile)
	if err != nil {
		return runerr.Classify(runerr.KindMissingDependency, p.Name()+": load "+p.profile.Name, err)
	}
	p.detector, p.model = det, model
	return nil
}

// TransformFrame restores each face found in frame, ignoring source
func (p *FaceEnhancer) TransformFrame(_ detector.Face, frame *gocv.Mat) error {
	if p.detector == nil || p.model == nil {
		return runerr.Errorf(runerr.KindFrameProcessingFailure, p.Name(), "models not loaded")
	}

	faces, err := detector.LocateAll(*frame, p.detector)
	if err != nil {
		return err
	}
	for _, face := range faces {
		if err := p.model.EnhanceFace(frame, face, p.blender); err != nil {
			return err
		}
	}
	return nil
}

// ProcessImage enhances target into output
func (p *FaceEnhancer) ProcessImage(ctx context.Context, _, target, output string) error {
	if err := p.loadModels(ctx); err != nil {
		return err
	}
	if err := transformImage(target, output, func(frame *gocv.Mat) error {
		return p.TransformFrame(detector.Face{}, frame)
	}); err != nil {
		return runerr.Classify(runerr.KindFrameProcessingFailure, p.Name()+": process image", err)
	}
	return nil
}

// ProcessVideo enhances every frame in place
func (p *FaceEnhancer) ProcessVideo(ctx context.Context, _ string, framePaths []string) error {
	if err := p.loadModels(ctx); err != nil {
		return err
	}

	bar := newBar(p.deps.Progress, len(framePaths), p.Name())
	err := ProcessFrames(ctx, framePaths, p.cfg.ExecutionThreads, bar, func(_ int, path string) error {
		return transformFile(path, func(frame *gocv.Mat) error {
			return p.TransformFrame(detector.Face{}, frame)
		})
	})
	if err != nil {
		return err
	}

	p.log.WithField("frames", len(framePaths)).Info("Enhanced faces")
	return nil
}

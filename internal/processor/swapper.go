package processor

import (
	"context"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/detector"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/swapper"
)

// FaceSwapper replaces target faces with the face of the source image
type FaceSwapper struct {
	deps    Deps
	cfg     config.Run
	blender *swapper.Blender
	log     logrus.FieldLogger

	detector detector.Detector
	model    SwapModel

	// resolved once by ValidateInputs and reused for every frame
	sourcePath string
	source     detector.Face
	latent     detector.Embedding
}

// NewFaceSwapper creates the swapper processor
func NewFaceSwapper(cfg config.Run, deps Deps) *FaceSwapper {
	return &FaceSwapper{
		deps:    deps,
		cfg:     cfg,
		blender: swapper.NewBlender(cfg.ColorTransfer),
		log:     deps.Log.WithField("processor", config.ProcessorFaceSwapper),
	}
}

// Name returns the processor name
func (p *FaceSwapper) Name() string { return config.ProcessorFaceSwapper }

// ReadyCheck fetches the analyser and swapper models
func (p *FaceSwapper) ReadyCheck(ctx context.Context) error {
	return readyCheck(ctx, p.Name(), p.deps,
		models.ArtifactDetector, models.ArtifactRecognizer, models.ArtifactSwapper)
}

// ValidateInputs loads the models and resolves the source face. A source
// without a face is InvalidInput.
func (p *FaceSwapper) ValidateInputs(ctx context.Context, cfg config.Run) error {
	p.cfg = cfg

	kind, err := media.Detect(cfg.SourcePath)
	if err != nil {
		return runerr.New(runerr.KindInvalidInput, p.Name()+": read source", err)
	}
	if kind != media.Image {
		return runerr.Errorf(runerr.KindInvalidInput, p.Name()+": read source", "%s is not an image", cfg.SourcePath)
	}
	if err := validateTarget(p.Name(), cfg.TargetPath); err != nil {
		return err
	}

	if err := p.loadModels(ctx); err != nil {
		return err
	}

	face, err := p.resolveSource(cfg.SourcePath)
	if err != nil {
		return err
	}
	if err := p.setSource(cfg.SourcePath, face); err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{
		"source": cfg.SourcePath,
		"score":  face.Score,
	}).Debug("Resolved source face")
	return nil
}

func (p *FaceSwapper) loadModels(ctx context.Context) error {
	if p.detector != nil && p.model != nil {
		return nil
	}
	det, err := p.deps.Analyser(ctx)
	if err != nil {
		return runerr.Classify(runerr.KindMissingDependency, p.Name()+": load analyser", err)
	}
	model, err := p.deps.Swapper(ctx)
	if err != nil {
		return runerr.Classify(runerr.KindMissingDependency, p.Name()+": load swapper", err)
	}
	p.detector, p.model = det, model
	return nil
}

// resolveSource picks the leftmost face of the source image
func (p *FaceSwapper) resolveSource(path string) (detector.Face, error) {
	img, err := readImage(path)
	if err != nil {
		return detector.Face{}, runerr.New(runerr.KindInvalidInput, p.Name()+": read source", err)
	}
	defer img.Close()

	face, ok, err := detector.LocateOne(img, p.detector)
	if err != nil {
		return detector.Face{}, runerr.New(runerr.KindInvalidInput, p.Name()+": analyse source", err)
	}
	if !ok {
		return detector.Face{}, runerr.Errorf(runerr.KindInvalidInput, p.Name()+": analyse source", "no face in source image %s", path)
	}
	return face, nil
}

// TransformFrame swaps the leftmost face of frame, or every face when
// many-faces mode is on. Frames without faces are left unchanged.
func (p *FaceSwapper) TransformFrame(source detector.Face, frame *gocv.Mat) error {
	if p.detector == nil || p.model == nil {
		return runerr.Errorf(runerr.KindFrameProcessingFailure, p.Name(), "models not loaded")
	}

	latent, err := p.latentFor(source)
	if err != nil {
		return err
	}

	var targets []detector.Face
	if p.cfg.ManyFaces {
		targets, err = detector.LocateAll(*frame, p.detector)
		if err != nil {
			return err
		}
	} else {
		face, ok, err := detector.LocateOne(*frame, p.detector)
		if err != nil {
			return err
		}
		if ok {
			targets = []detector.Face{face}
		}
	}

	for _, target := range targets {
		if err := p.model.SwapFace(frame, target, latent, p.blender); err != nil {
			return err
		}
	}
	return nil
}

// ProcessImage swaps faces of target into output
func (p *FaceSwapper) ProcessImage(ctx context.Context, source, target, output string) error {
	face, err := p.sourceFace(ctx, source)
	if err != nil {
		return err
	}
	if err := transformImage(target, output, func(frame *gocv.Mat) error {
		return p.TransformFrame(face, frame)
	}); err != nil {
		return runerr.Classify(runerr.KindFrameProcessingFailure, p.Name()+": process image", err)
	}
	return nil
}

// ProcessVideo swaps faces of every frame in place
func (p *FaceSwapper) ProcessVideo(ctx context.Context, source string, framePaths []string) error {
	face, err := p.sourceFace(ctx, source)
	if err != nil {
		return err
	}

	bar := newBar(p.deps.Progress, len(framePaths), p.Name())
	err = ProcessFrames(ctx, framePaths, p.cfg.ExecutionThreads, bar, func(_ int, path string) error {
		return transformFile(path, func(frame *gocv.Mat) error {
			return p.TransformFrame(face, frame)
		})
	})
	if err != nil {
		return err
	}

	p.log.WithField("frames", len(framePaths)).Info("Swapped faces")
	return nil
}

// sourceFace returns the validated source face, resolving it again only for
// a different source path
func (p *FaceSwapper) sourceFace(ctx context.Context, source string) (detector.Face, error) {
	if p.sourcePath == source && p.source.Embedding != nil {
		return p.source, nil
	}
	if err := p.loadModels(ctx); err != nil {
		return detector.Face{}, err
	}
	face, err := p.resolveSource(source)
	if err != nil {
		return detector.Face{}, err
	}
	if err := p.setSource(source, face); err != nil {
		return detector.Face{}, err
	}
	return face, nil
}

// setSource stores the resolved source face together with its latent
func (p *FaceSwapper) setSource(path string, face detector.Face) error {
	latent, err := p.model.Latent(face)
	if err != nil {
		return runerr.New(runerr.KindInvalidInput, p.Name()+": encode source", err)
	}
	p.sourcePath, p.source, p.latent = path, face, latent
	return nil
}

// latentFor returns the cached latent when source is the resolved source
// face and computes it otherwise
func (p *FaceSwapper) latentFor(source detector.Face) (detector.Embedding, error) {
	if p.latent != nil && sameEmbedding(source.Embedding, p.source.Embedding) {
		return p.latent, nil
	}
	return p.model.Latent(source)
}

// sameEmbedding reports whether a and b share the same backing array
func sameEmbedding(a, b detector.Embedding) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}

// Package engine binds model artifacts, the execution target and the handle
// cache into the per-process set of inference handles.
package engine

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dudu/metalroop/internal/classifier"
	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/detector"
	"github.com/dudu/metalroop/internal/enhancer"
	"github.com/dudu/metalroop/internal/inference"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/processor"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/safety"
	"github.com/dudu/metalroop/internal/swapper"
)

// Registry hands out one handle per model kind for the process lifetime.
// The execution target is fixed at construction.
type Registry struct {
	runtime config.Runtime
	store   *models.Store
	cache   *models.Cache
	log     logrus.FieldLogger

	// replaced in tests
	initRuntime func(inference.Options) error
}

// New creates a registry using store for artifacts. CPU sessions use
// rt.SessionThreads intra-op threads, 0 for the runtime default.
func New(rt config.Runtime, store *models.Store, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if rt.Target == "" {
		rt.Target = models.TargetCPU
	}
	return &Registry{
		runtime:     rt,
		store:       store,
		cache:       models.NewCache(),
		log:         log,
		initRuntime: inference.Initialize,
	}
}

// Target returns the execution target of every handle
func (r *Registry) Target() models.Target { return r.runtime.Target }

// Ensure resolves an artifact, applying any configured URL override
func (r *Registry) Ensure(ctx context.Context, a models.Artifact) (string, error) {
	return r.store.Ensure(ctx, r.runtime.Artifact(a))
}

func (r *Registry) key(kind models.Kind, variant string) models.Key {
	return models.Key{Kind: kind, Target: r.runtime.Target, Variant: variant}
}

// prepare ensures artifacts and the inference environment before a handle
// is constructed
func (r *Registry) prepare(ctx context.Context, artifacts ...models.Artifact) ([]string, error) {
	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		p, err := r.Ensure(ctx, a)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}

	err := r.initRuntime(inference.Options{
		LibraryPath: r.runtime.ORTLibrary,
		Target:      r.runtime.Target,
		Threads:     inference.IntraOpThreads(r.runtime.Target, r.runtime.SessionThreads),
		Log:         r.log,
	})
	if err != nil {
		return nil, runerr.New(runerr.KindMissingDependency, "initialize inference", err)
	}
	return paths, nil
}

// construct classifies a failed model load as a missing dependency
func construct[T models.Handle](name string, build func() (T, error)) (T, error) {
	h, err := build()
	if err != nil {
		var zero T
		return zero, runerr.Classify(runerr.KindMissingDependency, "load "+name, err)
	}
	return h, nil
}

// Analyser returns the detector and recognizer pair
func (r *Registry) Analyser(ctx context.Context) (*detector.Analyser, error) {
	return models.Get(r.cache, r.key(models.KindAnalyser, ""), func() (*detector.Analyser, error) {
		paths, err := r.prepare(ctx, models.ArtifactDetector, models.ArtifactRecognizer)
		if err != nil {
			return nil, err
		}
		return construct("face analyser", func() (*detector.Analyser, error) {
			return detector.NewAnalyser(paths[0], paths[1])
		})
	})
}

// Swapper returns the inswapper model
func (r *Registry) Swapper(ctx context.Context) (*swapper.Inswapper, error) {
	return models.Get(r.cache, r.key(models.KindSwapper, ""), func() (*swapper.Inswapper, error) {
		paths, err := r.prepare(ctx, models.ArtifactSwapper)
		if err != nil {
			return nil, err
		}
		return construct("face swapper", func() (*swapper.Inswapper, error) {
			return swapper.NewInswapper(paths[0])
		})
	})
}

// Enhancer returns the restoration model of profile
func (r *Registry) Enhancer(ctx context.Context, profile enhancer.Profile) (*enhancer.Restorer, error) {
	return models.Get(r.cache, r.key(models.KindEnhancer, profile.Name), func() (*enhancer.Restorer, error) {
		paths, err := r.prepare(ctx, profile.Artifact)
		if err != nil {
			return nil, err
		}
		return construct(profile.Name, func() (*enhancer.Restorer, error) {
			return enhancer.NewRestorer(paths[0], profile)
		})
	})
}

// Classifier returns the content safety model
func (r *Registry) Classifier(ctx context.Context) (*classifier.OpenNSFW, error) {
	return models.Get(r.cache, r.key(models.KindClassifier, ""), func() (*classifier.OpenNSFW, error) {
		paths, err := r.prepare(ctx, models.ArtifactClassifier)
		if err != nil {
			return nil, err
		}
		return construct("content classifier", func() (*classifier.OpenNSFW, error) {
			return classifier.NewOpenNSFW(paths[0])
		})
	})
}

// Deps wires the registry into frame processors
func (r *Registry) Deps(tools processor.ToolChecker, progress io.Writer) processor.Deps {
	return processor.Deps{
		Artifacts: r,
		Tools:     tools,
		Analyser: func(ctx context.Context) (detector.Detector, error) {
			return r.Analyser(ctx)
		},
		Swapper: func(ctx context.Context) (processor.SwapModel, error) {
			return r.Swapper(ctx)
		},
		Restorer: func(ctx context.Context, p enhancer.Profile) (processor.RestoreModel, error) {
			return r.Enhancer(ctx, p)
		},
		Log:      r.log,
		Progress: progress,
	}
}

// Gate returns a safety gate whose classifier loads on the first check
func (r *Registry) Gate() *Gate {
	return &Gate{registry: r}
}

// Gate checks targets with the registry's classifier
type Gate struct {
	registry *Registry
}

// ReadyCheck fetches the classifier model
func (g *Gate) ReadyCheck(ctx context.Context) error {
	_, err := g.registry.Ensure(ctx, models.ArtifactClassifier)
	return err
}

// Check classifies target
func (g *Gate) Check(ctx context.Context, target string, kind media.Kind) (safety.Verdict, error) {
	scorer, err := g.registry.Classifier(ctx)
	if err != nil {
		return safety.Verdict{}, runerr.Classify(runerr.KindMissingDependency, "load content classifier", err)
	}
	return safety.NewGate(scorer, g.registry.log).Check(ctx, target, kind)
}

// Close releases every handle and the inference environment
func (r *Registry) Close() error {
	return errors.Join(r.cache.Close(), inference.Shutdown())
}

package engine

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/enhancer"
	"github.com/dudu/metalroop/internal/inference"
	"github.com/dudu/metalroop/internal/logging"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/runerr"
)

type mockFetcher struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *mockFetcher) Fetch(_ context.Context, src *url.URL, dst *os.File) error {
	f.mu.Lock()
	f.urls = append(f.urls, src.String())
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	_, err := dst.WriteString("onnx")
	return err
}

// newTestRegistry routes every artifact to the mock:// scheme
func newTestRegistry(t *testing.T, fetcher *mockFetcher) *Registry {
	t.Helper()
	rt := config.Runtime{Target: models.TargetCPU, SessionThreads: 2, ModelURLs: map[string]string{}}
	for _, a := range []models.Artifact{
		models.ArtifactDetector, models.ArtifactRecognizer, models.ArtifactSwapper,
		models.ArtifactGFPGAN, models.ArtifactClassifier,
	} {
		key := strings.ReplaceAll(strings.TrimSuffix(a.Name, ".onnx"), ".", "_")
		rt.ModelURLs[key] = "mock://models/" + a.Name
	}

	store := models.NewStore(t.TempDir(), logging.Discard())
	store.SetFetcher("mock", fetcher)
	return New(rt, store, logging.Discard())
}

func TestEnsureAppliesOverride(t *testing.T) {
	fetcher := &mockFetcher{}
	r := newTestRegistry(t, fetcher)

	path, err := r.Ensure(context.Background(), models.ArtifactSwapper)
	require.NoError(t, err)
	assert.Equal(t, "inswapper_128.onnx", filepath.Base(path))
	assert.Equal(t, []string{"mock://models/inswapper_128.onnx"}, fetcher.urls)

	// present artifacts are not fetched again
	_, err = r.Ensure(context.Background(), models.ArtifactSwapper)
	require.NoError(t, err)
	assert.Len(t, fetcher.urls, 1)
}

func TestFailedInitializationIsRetried(t *testing.T) {
	r := newTestRegistry(t, &mockFetcher{})

	var opts []inference.Options
	r.initRuntime = func(o inference.Options) error {
		opts = append(opts, o)
		return errors.New("libonnxruntime.so: cannot open shared object file")
	}

	_, err := r.Analyser(context.Background())
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))
	_, err = r.Analyser(context.Background())
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))

	key := models.Key{Kind: models.KindAnalyser, Target: models.TargetCPU}
	assert.Equal(t, 2, r.cache.Initializations(key))
	assert.Zero(t, r.cache.Len())

	require.Len(t, opts, 2)
	assert.Equal(t, models.TargetCPU, opts[0].Target)
	assert.Equal(t, 2, opts[0].Threads)
}

func TestSessionThreadsDefaultToRuntime(t *testing.T) {
	r := newTestRegistry(t, &mockFetcher{})
	r.runtime.SessionThreads = 0

	var opts []inference.Options
	r.initRuntime = func(o inference.Options) error {
		opts = append(opts, o)
		return errors.New("stop")
	}

	_, err := r.Analyser(context.Background())
	require.Error(t, err)
	require.Len(t, opts, 1)
	assert.Zero(t, opts[0].Threads)
}

func TestMissingArtifactSkipsRuntime(t *testing.T) {
	r := newTestRegistry(t, &mockFetcher{err: errors.New("connection refused")})
	called := false
	r.initRuntime = func(inference.Options) error {
		called = true
		return nil
	}

	_, err := r.Enhancer(context.Background(), enhancer.Profiles[config.EnhancerGFPGAN])
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))
	assert.False(t, called)
}

func TestGateReportsMissingClassifier(t *testing.T) {
	r := newTestRegistry(t, &mockFetcher{err: errors.New("403 Forbidden")})
	gate := r.Gate()

	assert.True(t, errors.Is(gate.ReadyCheck(context.Background()), runerr.ErrMissingDependency))

	_, err := gate.Check(context.Background(), "target.png", media.Image)
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))
}

func TestDepsUseRegistry(t *testing.T) {
	fetcher := &mockFetcher{}
	r := newTestRegistry(t, fetcher)
	deps := r.Deps(nil, nil)

	_, err := deps.Artifacts.Ensure(context.Background(), models.ArtifactDetector)
	require.NoError(t, err)
	assert.Equal(t, []string{"mock://models/scrfd_2.5g.onnx"}, fetcher.urls)
	assert.NotNil(t, deps.Analyser)
	assert.NotNil(t, deps.Swapper)
	assert.NotNil(t, deps.Restorer)
}

func TestCloseWithoutHandles(t *testing.T) {
	if inference.Initialized() {
		t.Skip("inference environment owned by another test")
	}
	r := newTestRegistry(t, &mockFetcher{})
	assert.NoError(t, r.Close())
}

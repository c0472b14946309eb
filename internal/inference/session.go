// Package inference owns the ONNX Runtime environment and wraps sessions.
package inference

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/metalroop/internal/models"
)

var (
	initialized bool
	initMu      sync.Mutex

	target  = models.TargetCPU
	threads = 0
)

// Options configure the process-wide environment
type Options struct {
	LibraryPath string        // shared library; empty uses the platform default
	Target      models.Target // execution provider for every session
	Threads     int           // intra-op threads for CPU targets, 0 = runtime default
	Log         logrus.FieldLogger
}

// DefaultLibraryPath returns the usual onnxruntime shared library name
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// Initialize sets up ONNX Runtime environment (call once at startup).
// Later calls are no-ops, the first target wins for the process lifetime.
func Initialize(opts Options) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	lib := opts.LibraryPath
	if lib == "" {
		lib = DefaultLibraryPath()
	}
	ort.SetSharedLibraryPath(lib)

	// GPU providers run one inference thread per session and must not
	// oversubscribe OpenMP.
	if opts.Target.IsGPU() {
		os.Setenv("OMP_NUM_THREADS", "1")
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime from %s: %w", lib, err)
	}

	target = opts.Target
	if target == "" {
		target = models.TargetCPU
	}
	threads = opts.Threads
	initialized = true

	if opts.Log != nil {
		opts.Log.WithFields(logrus.Fields{
			"library":  lib,
			"provider": target,
			"version":  ort.GetVersion(),
		}).Debug("ONNX Runtime initialized")
	}
	return nil
}

// Initialized reports whether Initialize succeeded
func Initialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Shutdown cleans up ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// IntraOpThreads is the per-session thread count for a target
func IntraOpThreads(t models.Target, requested int) int {
	if t.IsGPU() {
		return 1
	}
	if requested < 0 {
		return 0
	}
	return requested
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
	mu          sync.Mutex
}

// NewSession creates a new inference session on the configured execution
// provider. Nil name lists are read from the model itself.
func NewSession(modelPath string, inputNames, outputNames []string) (*Session, error) {
	initMu.Lock()
	ready, t, n := initialized, target, threads
	initMu.Unlock()
	if !ready {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	if inputNames == nil || outputNames == nil {
		ins, outs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read io info of %s: %w", modelPath, err)
		}
		if inputNames == nil {
			inputNames = ioNames(ins)
		}
		if outputNames == nil {
			outputNames = ioNames(outs)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if n := IntraOpThreads(t, n); n > 0 {
		if err := options.SetIntraOpNumThreads(n); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if err := appendProvider(options, t); err != nil {
		return nil, fmt.Errorf("failed to enable %s for %s: %w", t, modelPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func appendProvider(options *ort.SessionOptions, t models.Target) error {
	switch t {
	case models.TargetCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		return options.AppendExecutionProviderCUDA(cuda)
	case models.TargetCoreML:
		// Flag 0 = default settings, use Neural Engine + GPU
		return options.AppendExecutionProviderCoreML(0)
	case models.TargetDirectML:
		return options.AppendExecutionProviderDirectML(0)
	default:
		return nil
	}
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// InputNames returns the bound input names in order
func (s *Session) InputNames() []string { return s.inputNames }

// OutputNames returns the bound output names in order
func (s *Session) OutputNames() []string { return s.outputNames }

// Run executes inference with the given inputs. Nil entries in outputs are
// allocated by the runtime and must be destroyed by the caller.
// Calls are serialized per session.
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Run(inputs, outputs)
}

// RunFloat runs a single float32 input and returns every output as float32 data
// with its shape.
func (s *Session) RunFloat(shape []int64, data []float32) ([][]float32, []ort.Shape, error) {
	input, err := CreateTensor(shape, data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()
	return s.RunValues([]ort.Value{input})
}

// RunValues runs with prepared inputs and copies out every float32 output
func (s *Session) RunValues(inputs []ort.Value) ([][]float32, []ort.Shape, error) {
	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed on %s: %w", s.modelPath, err)
	}
	defer DestroyAll(outputs)

	data := make([][]float32, len(outputs))
	shapes := make([]ort.Shape, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, nil, fmt.Errorf("output %s of %s is not a float32 tensor", s.outputNames[i], s.modelPath)
		}
		data[i] = append([]float32(nil), t.GetData()...)
		shapes[i] = t.GetShape().Clone()
	}
	return data, shapes, nil
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// Close implements models.Handle
func (s *Session) Close() error {
	return s.Destroy()
}

// DestroyAll destroys every non-nil value
func DestroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// CreateTensor creates a float32 tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates an uninitialized tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}


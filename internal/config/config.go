// Package config holds the immutable settings of a run and of the process.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/runerr"
)

// Frame processor names accepted in Run.Processors
const (
	ProcessorFaceSwapper  = "face_swapper"
	ProcessorFaceEnhancer = "face_enhancer"
)

// Supported video encoders
const (
	EncoderH264 = "libx264"
	EncoderH265 = "libx265"
	EncoderVP9  = "libvpx-vp9"
)

// Enhancer model names
const (
	EnhancerGFPGAN     = "gfpgan_1.4"
	EnhancerGPEN       = "gpen_bfr_512"
	EnhancerCodeFormer = "codeformer"
)

// Run is the configuration of a single invocation. It is built once and
// passed by value; nothing mutates it during the run.
type Run struct {
	SourcePath string `validate:"required_if_swapper"`
	TargetPath string `validate:"required"`
	OutputPath string `validate:"required"`

	Processors []string `validate:"min=1,unique,dive,oneof=face_swapper face_enhancer"`

	ManyFaces  bool
	KeepFPS    bool
	KeepAudio  bool
	KeepFrames bool

	Target           models.Target `validate:"oneof=cpu cuda coreml directml"`
	ExecutionThreads int           `validate:"min=1,max=128"`

	VideoEncoder string `validate:"oneof=libx264 libx265 libvpx-vp9"`
	VideoQuality int    `validate:"min=0,max=51"`

	EnhancerModel string `validate:"oneof=gfpgan_1.4 gpen_bfr_512 codeformer"`
	ColorTransfer bool
}

// DefaultRun returns a run with the defaults used by the CLI
func DefaultRun() Run {
	return Run{
		Processors:       []string{ProcessorFaceSwapper},
		KeepFPS:          true,
		KeepAudio:        true,
		Target:           models.TargetCPU,
		ExecutionThreads: 1,
		VideoEncoder:     EncoderH264,
		VideoQuality:     18,
		EnhancerModel:    EnhancerGFPGAN,
	}
}

// Uses reports whether the named processor is configured
func (r Run) Uses(name string) bool {
	for _, p := range r.Processors {
		if p == name {
			return true
		}
	}
	return false
}

// WithProcessors returns a copy with its own processor slice
func (r Run) WithProcessors(names ...string) Run {
	r.Processors = append([]string(nil), names...)
	return r
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// The swapper needs a source image; other processors don't
	v.RegisterValidation("required_if_swapper", func(fl validator.FieldLevel) bool {
		run, ok := fl.Top().Interface().(Run)
		if !ok || !run.Uses(ProcessorFaceSwapper) {
			return true
		}
		return fl.Field().String() != ""
	}, true)
	return v
}

// Validate checks field constraints and the target/output relationship
func (r Run) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return runerr.Errorf(runerr.KindInvalidInput, "validate config", "%s", strings.Join(msgs, "; "))
		}
		return runerr.New(runerr.KindInvalidInput, "validate config", err)
	}

	if sameFile(r.TargetPath, r.OutputPath) {
		return runerr.Errorf(runerr.KindInvalidInput, "validate config", "output path must differ from target path")
	}
	if r.SourcePath != "" && sameFile(r.SourcePath, r.OutputPath) {
		return runerr.Errorf(runerr.KindInvalidInput, "validate config", "output path must differ from source path")
	}
	return nil
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// Runtime holds process-wide settings that outlive a single run
type Runtime struct {
	ModelsDir   string
	ORTLibrary  string
	Target      models.Target
	LogLevel    string
	LogFile     string
	ModelURLs   map[string]string // artifact name -> override URL
	ModelSHA256 map[string]string // artifact name -> pinned hex digest
	FFmpegPath  string
	FFprobePath string

	// SessionThreads is the ONNX Runtime intra-op thread count of CPU
	// sessions, 0 for the runtime default. Frame workers are set per run.
	SessionThreads int
}

// Environment variable names
const (
	EnvModelsDir      = "METALROOP_MODELS_DIR"
	EnvORTLibrary     = "METALROOP_ORT_LIBRARY"
	EnvTarget         = "METALROOP_EXECUTION_PROVIDER"
	EnvThreads        = "METALROOP_EXECUTION_THREADS"
	EnvSessionThreads = "METALROOP_SESSION_THREADS"
	EnvLogLevel       = "METALROOP_LOG_LEVEL"
	EnvLogFile        = "METALROOP_LOG_FILE"
	EnvFFmpeg         = "METALROOP_FFMPEG"
	EnvFFprobe        = "METALROOP_FFPROBE"
	envModelPrefix    = "METALROOP_MODEL_URL_"
	envDigestPrefix   = "METALROOP_MODEL_SHA256_"
)

// LoadDotEnv reads .env files if present. Existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load %v: %w", present, err)
	}
	return nil
}

// RuntimeFromEnv builds the runtime settings from environment variables
func RuntimeFromEnv() (Runtime, error) {
	rt := Runtime{
		ModelsDir:   os.Getenv(EnvModelsDir),
		ORTLibrary:  os.Getenv(EnvORTLibrary),
		Target:      models.TargetCPU,
		LogLevel:    envOr(EnvLogLevel, "info"),
		LogFile:     os.Getenv(EnvLogFile),
		FFmpegPath:  envOr(EnvFFmpeg, "ffmpeg"),
		FFprobePath: envOr(EnvFFprobe, "ffprobe"),
		ModelURLs:   make(map[string]string),
		ModelSHA256: make(map[string]string),
	}
	if rt.ModelsDir == "" {
		rt.ModelsDir = models.DefaultDir()
	}
	if v := os.Getenv(EnvSessionThreads); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Runtime{}, runerr.Errorf(runerr.KindInvalidInput, "read "+EnvSessionThreads, "invalid thread count %q", v)
		}
		rt.SessionThreads = n
	}
	if v := os.Getenv(EnvTarget); v != "" {
		t, err := models.ParseTarget(v)
		if err != nil {
			return Runtime{}, runerr.New(runerr.KindInvalidInput, "read "+EnvTarget, err)
		}
		rt.Target = t
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(key, envModelPrefix):
			rt.ModelURLs[artifactKey(strings.TrimPrefix(key, envModelPrefix))] = value
		case strings.HasPrefix(key, envDigestPrefix):
			rt.ModelSHA256[artifactKey(strings.TrimPrefix(key, envDigestPrefix))] = strings.ToLower(value)
		}
	}
	return rt, nil
}

// ThreadsFromEnv returns the execution thread override, or def
func ThreadsFromEnv(def int) int {
	v := os.Getenv(EnvThreads)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// Artifact applies any URL override and pinned digest configured for a.
// Without a digest the store only checks that the file exists.
func (rt Runtime) Artifact(a models.Artifact) models.Artifact {
	key := artifactKey(a.Name)
	if url, ok := rt.ModelURLs[key]; ok {
		a = a.WithURL(url)
	}
	if sum, ok := rt.ModelSHA256[key]; ok {
		a.SHA256 = sum
	}
	return a
}

// artifactKey normalizes "inswapper_128.onnx" and "INSWAPPER_128" alike
func artifactKey(name string) string {
	name = strings.TrimSuffix(strings.ToLower(name), ".onnx")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

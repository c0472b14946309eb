// Package pipeline drives one run from configuration to output file.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/ffmpeg"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/safety"
)

// State is the lifecycle position of a run
type State int

const (
	StateUninitialized State = iota
	StateReadyChecked
	StateInputsValidated
	StateProcessing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReadyChecked:
		return "ReadyChecked"
	case StateInputsValidated:
		return "InputsValidated"
	case StateProcessing:
		return "Processing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Uninitialized"
	}
}

// Outcome is the externally visible result class of a run
type Outcome int

const (
	Succeeded Outcome = iota
	Rejected
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Result is what a run produced. Err is nil only on success.
type Result struct {
	Outcome    Outcome
	OutputPath string
	Verdict    safety.Verdict
	Err        error
	Duration   time.Duration
}

// ExitCode maps the outcome to a process exit status
func (r Result) ExitCode() int {
	switch r.Outcome {
	case Succeeded:
		return 0
	case Rejected:
		return 2
	default:
		return 1
	}
}

// Runner executes one run. Processors are applied in slice order.
type Runner struct {
	Config     config.Run
	Processors []Processor
	Gate       Gate
	Media      MediaTool
	Log        logrus.FieldLogger

	state State
}

// New creates a runner for cfg
func New(cfg config.Run, processors []Processor, gate Gate, tool MediaTool, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		Config:     cfg,
		Processors: processors,
		Gate:       gate,
		Media:      tool,
		Log:        log,
	}
}

// State returns where the run currently is
func (r *Runner) State() State { return r.state }

// Run validates, gates and processes the target. It never panics on bad
// input; every failure comes back as a classified Result.Err.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	res := r.run(ctx)
	res.Duration = time.Since(start)

	entry := r.Log.WithFields(logrus.Fields{
		"outcome":  res.Outcome,
		"duration": res.Duration.Round(time.Millisecond),
	})
	switch res.Outcome {
	case Succeeded:
		r.state = StateDone
		entry.WithField("output", res.OutputPath).Info("Run finished")
	case Rejected:
		r.state = StateFailed
		entry.WithError(res.Err).Warn("Run rejected")
	default:
		r.state = StateFailed
		entry.WithError(res.Err).Error("Run failed")
	}
	return res
}

func (r *Runner) run(ctx context.Context) Result {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return failed(err)
	}
	if len(r.Processors) == 0 {
		return failed(runerr.Errorf(runerr.KindInvalidInput, "validate config", "no frame processors"))
	}

	kind, err := media.Detect(cfg.TargetPath)
	if err != nil {
		return failed(runerr.New(runerr.KindInvalidInput, "read target", err))
	}
	if kind == media.Unknown {
		return failed(runerr.Errorf(runerr.KindInvalidInput, "read target", "%s is neither an image nor a video", cfg.TargetPath))
	}

	if err := r.readyCheck(ctx, kind); err != nil {
		return failed(err)
	}
	r.state = StateReadyChecked

	for _, p := range r.Processors {
		if err := p.ValidateInputs(ctx, cfg); err != nil {
			return failed(runerr.Classify(runerr.KindInvalidInput, p.Name()+": validate inputs", err))
		}
	}
	r.state = StateInputsValidated

	verdict, err := r.Gate.Check(ctx, cfg.TargetPath, kind)
	if err != nil {
		return failed(runerr.Classify(runerr.KindInvalidInput, "check content", err))
	}
	if !verdict.Passed {
		return Result{Outcome: Rejected, Verdict: verdict, Err: verdict.Err(cfg.TargetPath)}
	}
	r.state = StateProcessing

	output := media.OutputPath(cfg.SourcePath, cfg.TargetPath, cfg.OutputPath)
	r.Log.WithFields(logrus.Fields{
		"target": cfg.TargetPath,
		"kind":   kind,
		"output": output,
	}).Info("Processing")

	if kind == media.Image {
		err = r.processImage(ctx, output)
	} else {
		err = r.processVideo(ctx, output)
	}
	if err != nil {
		return Result{Outcome: Failed, Verdict: verdict, Err: err}
	}
	return Result{Outcome: Succeeded, OutputPath: output, Verdict: verdict}
}

func (r *Runner) readyCheck(ctx context.Context, kind media.Kind) error {
	for _, p := range r.Processors {
		if err := p.ReadyCheck(ctx); err != nil {
			return runerr.Classify(runerr.KindMissingDependency, p.Name()+": ready check", err)
		}
	}
	if err := r.Gate.ReadyCheck(ctx); err != nil {
		return runerr.Classify(runerr.KindMissingDependency, "content classifier", err)
	}
	if kind == media.Video {
		if err := r.Media.Check(); err != nil {
			return runerr.Classify(runerr.KindMissingDependency, "check tools", err)
		}
	}
	return nil
}

// processImage copies the target to output and lets every processor rewrite
// output in place
func (r *Runner) processImage(ctx context.Context, output string) error {
	cfg := r.Config
	if err := media.CopyFile(cfg.TargetPath, output); err != nil {
		return runerr.New(runerr.KindInvalidInput, "write output", err)
	}
	for _, p := range r.Processors {
		r.Log.WithField("processor", p.Name()).Info("Processing image")
		if err := p.ProcessImage(ctx, cfg.SourcePath, output, output); err != nil {
			return runerr.Classify(runerr.KindFrameProcessingFailure, p.Name(), err)
		}
	}
	return nil
}

// processVideo extracts frames, runs every processor over the full set and
// rebuilds the video. Temporary files are kept on failure only with
// KeepFrames.
func (r *Runner) processVideo(ctx context.Context, output string) error {
	cfg := r.Config

	info, err := r.Media.Probe(ctx, cfg.TargetPath)
	if err != nil {
		return runerr.Classify(runerr.KindExternalToolFailure, "probe target", err)
	}

	dir, err := ffmpeg.CreateTempDir(cfg.TargetPath)
	if err != nil {
		return runerr.New(runerr.KindExternalToolFailure, "create temp directory", err)
	}
	defer func() {
		if cfg.KeepFrames {
			r.Log.WithField("dir", dir).Info("Keeping frames")
			return
		}
		if cerr := ffmpeg.CleanTemp(cfg.TargetPath); cerr != nil {
			r.Log.WithError(cerr).Warn("Failed to clean temp directory")
		}
	}()

	extractFPS, outputFPS := 0.0, info.FPS
	if !cfg.KeepFPS || info.FPS <= 0 {
		extractFPS, outputFPS = ffmpeg.NormalizedFPS, ffmpeg.NormalizedFPS
	}

	frames, err := r.Media.Extract(ctx, cfg.TargetPath, dir, extractFPS)
	if err != nil {
		return runerr.Classify(runerr.KindExternalToolFailure, "extract frames", err)
	}

	for _, p := range r.Processors {
		r.Log.WithFields(logrus.Fields{
			"processor": p.Name(),
			"frames":    len(frames),
		}).Info("Processing video")
		if err := p.ProcessVideo(ctx, cfg.SourcePath, frames); err != nil {
			return runerr.Classify(runerr.KindFrameProcessingFailure, p.Name(), err)
		}
	}

	opts := ffmpeg.ReassembleOptions{
		FrameDir:   dir,
		FPS:        outputFPS,
		Encoder:    cfg.VideoEncoder,
		Quality:    cfg.VideoQuality,
		TempVideo:  ffmpeg.TempVideoPath(cfg.TargetPath),
		OutputPath: output,
		HasAudio:   info.HasAudio,
	}
	if cfg.KeepAudio {
		opts.AudioSource = cfg.TargetPath
	}
	if err := r.Media.Reassemble(ctx, opts); err != nil {
		return runerr.Classify(runerr.KindExternalToolFailure, "reassemble video", err)
	}
	return nil
}

func failed(err error) Result {
	return Result{Outcome: Failed, Err: err}
}

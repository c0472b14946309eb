package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/engine"
	"github.com/dudu/metalroop/internal/ffmpeg"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/pipeline"
	"github.com/dudu/metalroop/internal/processor"
)

// RunOptions are the flags of the run command
type RunOptions struct {
	Source            string
	Target            string
	Output            string
	Processors        []string
	ManyFaces         bool
	KeepFPS           bool
	KeepAudio         bool
	KeepFrames        bool
	ExecutionProvider string
	ExecutionThreads  int
	VideoEncoder      string
	VideoQuality      int
	EnhancerModel     string
	ColorTransfer     bool
}

var runOpts RunOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a target image or video",
	Example: `  metalroop run -s face.jpg -t clip.mp4 -o out.mp4
  metalroop run -s face.jpg -t photo.png -o out/ --frame-processor face_swapper,face_enhancer
  metalroop run -t clip.mp4 -o restored.mp4 --frame-processor face_enhancer --enhancer-model codeformer`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildRunConfig(cmd, runOpts)
		if err != nil {
			return err
		}

		res := runPipeline(cmd, cfg)
		report(res)
		exitCode = res.ExitCode()
		return nil
	},
}

// buildRunConfig layers flags over the defaults and the environment
func buildRunConfig(cmd *cobra.Command, opts RunOptions) (config.Run, error) {
	cfg := config.DefaultRun()
	cfg.SourcePath = opts.Source
	cfg.TargetPath = opts.Target
	cfg.OutputPath = opts.Output
	cfg = cfg.WithProcessors(opts.Processors...)
	cfg.ManyFaces = opts.ManyFaces
	cfg.KeepFPS = opts.KeepFPS
	cfg.KeepAudio = opts.KeepAudio
	cfg.KeepFrames = opts.KeepFrames
	cfg.VideoEncoder = opts.VideoEncoder
	cfg.VideoQuality = opts.VideoQuality
	cfg.EnhancerModel = opts.EnhancerModel
	cfg.ColorTransfer = opts.ColorTransfer

	cfg.Target = rtConfig.Target
	if cmd.Flags().Changed("execution-provider") {
		t, err := models.ParseTarget(opts.ExecutionProvider)
		if err != nil {
			return config.Run{}, err
		}
		cfg.Target = t
	}

	cfg.ExecutionThreads = config.ThreadsFromEnv(cfg.ExecutionThreads)
	if cmd.Flags().Changed("execution-threads") {
		cfg.ExecutionThreads = opts.ExecutionThreads
	}
	return cfg, nil
}

// runPipeline wires the registry, processors and media tool for one run
func runPipeline(cmd *cobra.Command, cfg config.Run) pipeline.Result {
	entry := log.WithField("run_id", uuid.NewString())

	rt := rtConfig
	rt.Target = cfg.Target

	registry := engine.New(rt, newStore(entry), entry)
	defer func() {
		if err := registry.Close(); err != nil {
			entry.WithError(err).Warn("Failed to release models")
		}
	}()

	tool := ffmpeg.New(rt.FFmpegPath, rt.FFprobePath, entry)

	procs, err := processor.NewAll(cfg, registry.Deps(tool, os.Stderr))
	if err != nil {
		return pipeline.Result{Outcome: pipeline.Failed, Err: err}
	}

	entry.WithFields(logrus.Fields{
		"processors": strings.Join(cfg.Processors, ","),
		"provider":   cfg.Target,
		"threads":    cfg.ExecutionThreads,
	}).Debug("Starting run")

	runner := pipeline.New(cfg, asPipeline(procs), registry.Gate(), tool, entry)
	return runner.Run(cmd.Context())
}

func asPipeline(procs []processor.FrameProcessor) []pipeline.Processor {
	out := make([]pipeline.Processor, len(procs))
	for i, p := range procs {
		out[i] = p
	}
	return out
}

// report prints the single user-facing line of a run
func report(res pipeline.Result) {
	switch res.Outcome {
	case pipeline.Succeeded:
		fmt.Fprintf(os.Stdout, "Output written to %s\n", res.OutputPath)
	case pipeline.Rejected:
		fmt.Fprintf(os.Stderr, "Rejected: %v\n", res.Err)
	default:
		fmt.Fprintf(os.Stderr, "Failed: %v\n", res.Err)
	}
}

func init() {
	def := config.DefaultRun()
	flags := runCmd.Flags()
	flags.StringVarP(&runOpts.Source, "source", "s", "", "Source face image")
	flags.StringVarP(&runOpts.Target, "target", "t", "", "Target image or video")
	flags.StringVarP(&runOpts.Output, "output", "o", "", "Output file or directory")
	flags.StringSliceVar(&runOpts.Processors, "frame-processor", def.Processors, "Frame processors in order: face_swapper, face_enhancer")
	flags.BoolVar(&runOpts.ManyFaces, "many-faces", false, "Swap every face instead of the leftmost one")
	flags.BoolVar(&runOpts.KeepFPS, "keep-fps", def.KeepFPS, "Keep the target frame rate instead of 30 fps")
	flags.BoolVar(&runOpts.KeepAudio, "keep-audio", def.KeepAudio, "Copy the target audio track")
	flags.BoolVar(&runOpts.KeepFrames, "keep-frames", false, "Keep extracted frames after the run")
	flags.StringVar(&runOpts.ExecutionProvider, "execution-provider", string(def.Target), "Execution provider: cpu, cuda, coreml, directml")
	flags.IntVar(&runOpts.ExecutionThreads, "execution-threads", def.ExecutionThreads, "Frames processed in parallel")
	flags.StringVar(&runOpts.VideoEncoder, "video-encoder", def.VideoEncoder, "Video encoder: libx264, libx265, libvpx-vp9")
	flags.IntVar(&runOpts.VideoQuality, "video-quality", def.VideoQuality, "Video quality as CRF, 0-51 (lower is better)")
	flags.StringVar(&runOpts.EnhancerModel, "enhancer-model", def.EnhancerModel, "Face enhancer model: gfpgan_1.4, gpen_bfr_512, codeformer")
	flags.BoolVar(&runOpts.ColorTransfer, "color-transfer", false, "Match swapped face colors to the target")

	runCmd.MarkFlagRequired("target")
	runCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(runCmd)
}

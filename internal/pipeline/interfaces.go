package pipeline

import (
	"context"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/ffmpeg"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/safety"
)

// Processor is the part of a frame processor the runner drives
type Processor interface {
	Name() string
	ReadyCheck(ctx context.Context) error
	ValidateInputs(ctx context.Context, cfg config.Run) error
	ProcessImage(ctx context.Context, source, target, output string) error
	ProcessVideo(ctx context.Context, source string, framePaths []string) error
}

// Gate classifies a target before processing
type Gate interface {
	ReadyCheck(ctx context.Context) error
	Check(ctx context.Context, target string, kind media.Kind) (safety.Verdict, error)
}

// MediaTool decomposes and rebuilds videos
type MediaTool interface {
	Check() error
	Probe(ctx context.Context, path string) (ffmpeg.Info, error)
	Extract(ctx context.Context, video, dir string, fps float64) ([]string, error)
	Reassemble(ctx context.Context, opts ffmpeg.ReassembleOptions) error
}

package processor

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/dudu/metalroop/internal/runerr"
)

// FrameFunc processes the frame file at ordinal index (0-based) of a sequence
type FrameFunc func(index int, path string) error

// ProcessFrames runs fn over paths with the given number of workers. Each
// frame is handled by exactly one worker, so file names keep their ordinal.
// The first failure stops the remaining frames and is returned as a
// FrameProcessingFailure.
func ProcessFrames(ctx context.Context, paths []string, workers int, bar *progressbar.ProgressBar, fn FrameFunc) error {
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, max(len(paths), 1))

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range paths {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if err := fn(i, paths[i]); err != nil {
					return runerr.Classify(runerr.KindFrameProcessingFailure, fmt.Sprintf("frame %d", i+1), err)
				}
				if bar != nil {
					bar.Add(1)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// transformFile rewrites the frame at path in place
func transformFile(path string, fn func(frame *gocv.Mat) error) error {
	return transformImage(path, path, fn)
}

// newBar creates a frame progress bar, or nil when w is nil
func newBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	if w == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

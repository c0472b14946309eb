package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/runerr"
)

// Extraction and encoding constants
const (
	FramePattern     = "%04d.png"
	FrameExt         = ".png"
	PixelFormat      = "rgb24"
	ExtractThreads   = 16
	NormalizedFPS    = 30.0
	tempDirName      = "temp"
	tempVideoName    = "temp.mp4"
	outputPixelFomat = "yuv420p"
)

// TempDir is the per-target working directory:
// <target dir>/temp/<target name without extension>
func TempDir(target string) string {
	base := filepath.Base(target)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(target), tempDirName, name)
}

// TempVideoPath is the intermediate video written before audio muxing
func TempVideoPath(target string) string {
	return filepath.Join(TempDir(target), tempVideoName)
}

// CreateTempDir creates the working directory of target
func CreateTempDir(target string) (string, error) {
	dir := TempDir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return dir, nil
}

// CleanTemp removes the working directory of target, and its parent when it
// is left empty
func CleanTemp(target string) error {
	dir := TempDir(target)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	parent := filepath.Dir(dir)
	if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
		os.Remove(parent)
	}
	return nil
}

// ExtractArgs builds the frame extraction arguments. fps <= 0 keeps the
// source frame rate.
func ExtractArgs(video, dir string, fps float64) []string {
	args := []string{
		"-hwaccel", "auto",
		"-i", video,
		"-threads", strconv.Itoa(ExtractThreads),
		"-pix_fmt", PixelFormat,
	}
	if fps > 0 {
		args = append(args, "-vf", "fps="+formatFPS(fps))
	}
	return append(args, filepath.Join(dir, FramePattern))
}

// Extract decomposes video into dir/0001.png... and returns the frame paths
// in ordinal order
func (t *Tool) Extract(ctx context.Context, video, dir string, fps float64) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, runerr.New(runerr.KindExternalToolFailure, "extract frames", err)
	}
	if err := t.run(ctx, "extract frames", ExtractArgs(video, dir, fps)); err != nil {
		return nil, err
	}

	paths, err := FramePaths(dir)
	if err != nil {
		return nil, runerr.New(runerr.KindExternalToolFailure, "extract frames", err)
	}

	t.Log.WithFields(logrus.Fields{
		"video":  video,
		"frames": len(paths),
	}).Info("Extracted frames")
	return paths, nil
}

// FramePaths lists the numbered frames of dir in ordinal order and checks
// they run 1..F without gaps
func FramePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type frame struct {
		n    int
		path string
	}
	var frames []frame
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != FrameExt {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, FrameExt))
		if err != nil {
			continue
		}
		frames = append(frames, frame{n: n, path: filepath.Join(dir, name)})
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames extracted")
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].n < frames[j].n })

	paths := make([]string, len(frames))
	for i, f := range frames {
		if f.n != i+1 {
			return nil, fmt.Errorf("frame sequence broken at %d: found %s", i+1, filepath.Base(f.path))
		}
		paths[i] = f.path
	}
	return paths, nil
}

// ReassembleOptions describe one encode of a frame directory
type ReassembleOptions struct {
	FrameDir    string
	FPS         float64
	Encoder     string // libx264, libx265 or libvpx-vp9
	Quality     int    // CRF
	TempVideo   string
	OutputPath  string
	AudioSource string // original video; empty drops audio
	HasAudio    bool
}

// EncodeArgs builds the frame-to-video arguments
func EncodeArgs(o ReassembleOptions) []string {
	args := []string{
		"-hwaccel", "auto",
		"-r", formatFPS(o.FPS),
		"-i", filepath.Join(o.FrameDir, FramePattern),
		"-c:v", o.Encoder,
		"-crf", strconv.Itoa(o.Quality),
	}
	if o.Encoder == "libvpx-vp9" {
		// constant quality mode
		args = append(args, "-b:v", "0")
	}
	return append(args,
		"-pix_fmt", outputPixelFomat,
		"-vf", "colorspace=bt709:iall=bt601-6-625:fast=1",
		"-y", o.TempVideo,
	)
}

// MuxArgs builds the audio restore arguments: video from the encode, first
// audio track from the source
func MuxArgs(o ReassembleOptions) []string {
	return []string{
		"-i", o.TempVideo,
		"-i", o.AudioSource,
		"-c:v", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-y", o.OutputPath,
	}
}

// Reassemble encodes the frames to TempVideo, then either muxes the source
// audio into OutputPath or moves TempVideo there
func (t *Tool) Reassemble(ctx context.Context, o ReassembleOptions) error {
	if o.FPS <= 0 {
		return runerr.Errorf(runerr.KindInvalidInput, "reassemble video", "invalid frame rate %v", o.FPS)
	}
	if err := t.run(ctx, "encode video", EncodeArgs(o)); err != nil {
		return err
	}

	if o.AudioSource != "" && o.HasAudio {
		if err := t.run(ctx, "restore audio", MuxArgs(o)); err != nil {
			return err
		}
		t.Log.WithField("output", o.OutputPath).Info("Restored audio")
		return nil
	}

	if err := media.MoveFile(o.TempVideo, o.OutputPath); err != nil {
		return runerr.New(runerr.KindExternalToolFailure, "move video", err)
	}
	return nil
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

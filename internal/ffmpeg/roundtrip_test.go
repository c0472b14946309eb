package ffmpeg

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/metalroop/internal/logging"
)

func requireFFmpeg(t *testing.T) *Tool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ffmpeg integration test in short mode")
	}
	tool := New("", "", logging.Discard())
	if err := tool.Check(); err != nil {
		t.Skip("ffmpeg not available:", err)
	}
	out, err := exec.Command(tool.FFmpeg, "-hide_banner", "-encoders").Output()
	if err != nil || !strings.Contains(string(out), "libx264") {
		t.Skip("ffmpeg built without libx264")
	}
	return tool
}

func TestExtractReassembleRoundTrip(t *testing.T) {
	tool := requireFFmpeg(t)
	ctx := context.Background()
	const frames = 12

	dir := t.TempDir()
	target := filepath.Join(dir, "clip.mp4")
	err := tool.run(ctx, "generate clip", []string{
		"-f", "lavfi", "-i", "testsrc=size=64x64:rate=10",
		"-frames:v", "12", "-c:v", "libx264", "-pix_fmt", "yuv420p", "-y", target,
	})
	require.NoError(t, err)

	info, err := tool.Probe(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 10.0, info.FPS)
	assert.False(t, info.HasAudio)

	frameDir, err := CreateTempDir(target)
	require.NoError(t, err)
	t.Cleanup(func() { CleanTemp(target) })

	paths, err := tool.Extract(ctx, target, frameDir, 0)
	require.NoError(t, err)
	require.Len(t, paths, frames)
	assert.Equal(t, "0001.png", filepath.Base(paths[0]))
	assert.Equal(t, "0012.png", filepath.Base(paths[frames-1]))

	output := filepath.Join(dir, "out.mp4")
	err = tool.Reassemble(ctx, ReassembleOptions{
		FrameDir:    frameDir,
		FPS:         info.FPS,
		Encoder:     "libx264",
		Quality:     18,
		TempVideo:   TempVideoPath(target),
		OutputPath:  output,
		AudioSource: target,
		HasAudio:    info.HasAudio,
	})
	require.NoError(t, err)

	out, err := tool.Probe(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, frames, out.FrameCount)
	assert.Equal(t, 10.0, out.FPS)
}

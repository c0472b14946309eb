package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/metalroop/internal/logging"
	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/video"
)

type fakeScorer struct {
	image   float32
	frames  int
	decoded int // readable frames, 0 for all of them, negative for none
	scores  map[int]float32
	openErr error

	mu     sync.Mutex
	scored []int
}

func (f *fakeScorer) ScoreImage(string) (float32, error) {
	return f.image, nil
}

func (f *fakeScorer) OpenVideo(string) (VideoScorer, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeVideo{f}, nil
}

type fakeVideo struct{ f *fakeScorer }

func (v *fakeVideo) FrameCount() int { return v.f.frames }

func (v *fakeVideo) ScoreFrame(i int) (float32, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	if v.f.decoded != 0 && i >= v.f.decoded {
		return 0, fmt.Errorf("failed to read frame %d: %w", i, video.ErrEndOfStream)
	}
	v.f.scored = append(v.f.scored, i)
	return v.f.scores[i], nil
}

func (v *fakeVideo) Close() error { return nil }

func check(t *testing.T, s Scorer, kind media.Kind) Verdict {
	t.Helper()
	v, err := NewGate(s, logging.Discard()).Check(context.Background(), "target", kind)
	require.NoError(t, err)
	return v
}

func TestImageVerdict(t *testing.T) {
	tests := []struct {
		score  float32
		passed bool
	}{
		{0.90, false},
		{0.85, false},
		{0.80, true},
		{0.0, true},
	}
	for _, tt := range tests {
		v := check(t, &fakeScorer{image: tt.score}, media.Image)
		assert.Equal(t, tt.passed, v.Passed, "score %.2f", tt.score)
		assert.Equal(t, float32(Threshold), v.Threshold)
		assert.Equal(t, -1, v.FrameIndex)
	}
}

func TestVideoSampledFrameRejects(t *testing.T) {
	s := &fakeScorer{frames: 400, scores: map[int]float32{300: 0.90}}
	v := check(t, s, media.Video)
	assert.False(t, v.Passed)
	assert.Equal(t, 300, v.FrameIndex)
	assert.Equal(t, []int{0, 100, 200, 300}, s.scored)

	err := v.Err("clip.mp4")
	assert.True(t, errors.Is(err, runerr.ErrSafetyRejected))
	assert.Contains(t, err.Error(), "frame 300")
}

func TestVideoUnsampledFramePasses(t *testing.T) {
	s := &fakeScorer{frames: 400, scores: map[int]float32{250: 0.90}}
	v := check(t, s, media.Video)
	assert.True(t, v.Passed)
	assert.NoError(t, v.Err("clip.mp4"))
	assert.Equal(t, []int{0, 100, 200, 300}, s.scored)
	assert.Equal(t, 4, v.Sampled)
}

func TestVideoStopsAtFirstRejection(t *testing.T) {
	s := &fakeScorer{frames: 1000, scores: map[int]float32{100: 0.95}}
	v := check(t, s, media.Video)
	assert.False(t, v.Passed)
	assert.Equal(t, []int{0, 100}, s.scored)
}

func TestVideoUnknownLengthSamplesFirstFrame(t *testing.T) {
	s := &fakeScorer{frames: 0, scores: map[int]float32{0: 0.2}}
	v := check(t, s, media.Video)
	assert.True(t, v.Passed)
	assert.Equal(t, []int{0}, s.scored)
	assert.InDelta(t, 0.2, v.Probability, 1e-6)
}

func TestVideoShorterThanReported(t *testing.T) {
	s := &fakeScorer{frames: 302, decoded: 298, scores: map[int]float32{200: 0.40}}
	v := check(t, s, media.Video)
	assert.True(t, v.Passed)
	assert.Equal(t, []int{0, 100, 200}, s.scored)
	assert.Equal(t, 3, v.Sampled)
	assert.Equal(t, 200, v.FrameIndex)
	assert.InDelta(t, 0.40, v.Probability, 1e-6)

	s = &fakeScorer{frames: 302, decoded: 298, scores: map[int]float32{200: 0.90}}
	v = check(t, s, media.Video)
	assert.False(t, v.Passed)
	assert.Equal(t, 200, v.FrameIndex)
}

func TestVideoWithoutFirstFrame(t *testing.T) {
	s := &fakeScorer{frames: 50, decoded: -1}
	_, err := NewGate(s, logging.Discard()).Check(context.Background(), "clip.webm", media.Video)
	assert.True(t, errors.Is(err, runerr.ErrInvalidInput))
}

func TestCheckErrors(t *testing.T) {
	gate := NewGate(&fakeScorer{openErr: errors.New("corrupt")}, logging.Discard())

	_, err := gate.Check(context.Background(), "clip.mp4", media.Video)
	assert.True(t, errors.Is(err, runerr.ErrInvalidInput))

	_, err = gate.Check(context.Background(), "notes.txt", media.Unknown)
	assert.True(t, errors.Is(err, runerr.ErrInvalidInput))
}

func TestVerdictErrForImage(t *testing.T) {
	v := Verdict{Probability: 0.9, Threshold: Threshold, FrameIndex: -1}
	err := v.Err("face.png")
	assert.True(t, errors.Is(err, runerr.ErrSafetyRejected))
	assert.NotContains(t, err.Error(), "frame")
}

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		count, stride int
		want          []int
	}{
		{0, 100, nil},
		{1, 100, []int{0}},
		{100, 100, []int{0}},
		{101, 100, []int{0, 100}},
		{301, 100, []int{0, 100, 200, 300}},
		{10, 0, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SampleIndices(tt.count, tt.stride), "count=%d stride=%d", tt.count, tt.stride)
	}
}

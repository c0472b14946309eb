// Package safety rejects disallowed targets before any processing starts.
package safety

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dudu/metalroop/internal/media"
	"github.com/dudu/metalroop/internal/runerr"
	"github.com/dudu/metalroop/internal/video"
)

// Fixed gate parameters. They are not configurable.
const (
	Threshold   = 0.85
	FrameStride = 100
)

// Scorer returns the probability that content is disallowed.
// Implementations must be safe for concurrent use.
type Scorer interface {
	ScoreImage(path string) (float32, error)
	OpenVideo(path string) (VideoScorer, error)
}

// VideoScorer scores single frames of an opened video. ScoreFrame wraps
// video.ErrEndOfStream when the index lies past the last decodable frame.
type VideoScorer interface {
	FrameCount() int
	ScoreFrame(index int) (float32, error)
	Close() error
}

// Verdict is the outcome of one gate check
type Verdict struct {
	Probability float32 // highest sampled probability
	Threshold   float32
	Passed      bool
	FrameIndex  int // sampled frame that decided the verdict, -1 for images
	Sampled     int // frames classified
}

// Err returns the SafetyRejected error of a failing verdict, or nil
func (v Verdict) Err(target string) error {
	if v.Passed {
		return nil
	}
	if v.FrameIndex >= 0 {
		return runerr.Errorf(runerr.KindSafetyRejected, "check "+target,
			"frame %d scored %.2f, threshold %.2f", v.FrameIndex, v.Probability, v.Threshold)
	}
	return runerr.Errorf(runerr.KindSafetyRejected, "check "+target,
		"scored %.2f, threshold %.2f", v.Probability, v.Threshold)
}

// Gate classifies targets with a Scorer
type Gate struct {
	scorer Scorer
	log    logrus.FieldLogger
}

// NewGate creates a gate over scorer
func NewGate(scorer Scorer, log logrus.FieldLogger) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gate{scorer: scorer, log: log}
}

// Check classifies target. A rejection is a Verdict with Passed false and a
// nil error; errors mean the target could not be classified at all.
func (g *Gate) Check(ctx context.Context, target string, kind media.Kind) (Verdict, error) {
	var (
		v   Verdict
		err error
	)
	switch kind {
	case media.Image:
		v, err = g.checkImage(target)
	case media.Video:
		v, err = g.checkVideo(ctx, target)
	default:
		return Verdict{}, runerr.Errorf(runerr.KindInvalidInput, "check "+target, "not an image or video")
	}
	if err != nil {
		return Verdict{}, err
	}

	entry := g.log.WithFields(logrus.Fields{
		"target":      target,
		"probability": v.Probability,
		"sampled":     v.Sampled,
	})
	if v.Passed {
		entry.Debug("Safety check passed")
	} else {
		entry.WithField("frame", v.FrameIndex).Warn("Safety check rejected target")
	}
	return v, nil
}

func (g *Gate) checkImage(target string) (Verdict, error) {
	p, err := g.scorer.ScoreImage(target)
	if err != nil {
		return Verdict{}, runerr.New(runerr.KindInvalidInput, "classify "+target, err)
	}
	return Verdict{
		Probability: p,
		Threshold:   Threshold,
		Passed:      p < Threshold,
		FrameIndex:  -1,
		Sampled:     1,
	}, nil
}

func (g *Gate) checkVideo(ctx context.Context, target string) (Verdict, error) {
	vs, err := g.scorer.OpenVideo(target)
	if err != nil {
		return Verdict{}, runerr.New(runerr.KindInvalidInput, "classify "+target, err)
	}
	defer vs.Close()

	count := vs.FrameCount()
	if count <= 0 {
		// Unknown length: the first frame is always sampled
		count = 1
	}

	v := Verdict{Threshold: Threshold, Passed: true, FrameIndex: 0}
	for _, i := range SampleIndices(count, FrameStride) {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}

		p, err := vs.ScoreFrame(i)
		if i > 0 && errors.Is(err, video.ErrEndOfStream) {
			// Reported length overshoots the stream
			g.log.WithFields(logrus.Fields{
				"target":   target,
				"frame":    i,
				"reported": count,
			}).Debug("Video ended before reported frame count")
			break
		}
		if err != nil {
			return Verdict{}, runerr.New(runerr.KindInvalidInput, fmt.Sprintf("classify %s frame %d", target, i), err)
		}
		v.Sampled++

		if p > v.Probability || v.Sampled == 1 {
			v.Probability = p
			v.FrameIndex = i
		}
		if p >= Threshold {
			v.Probability = p
			v.FrameIndex = i
			v.Passed = false
			return v, nil
		}
	}
	return v, nil
}

// SampleIndices returns 0, stride, 2*stride, ... below count
func SampleIndices(count, stride int) []int {
	if count <= 0 || stride <= 0 {
		return nil
	}
	indices := make([]int, 0, (count+stride-1)/stride)
	for i := 0; i < count; i += stride {
		indices = append(indices, i)
	}
	return indices
}

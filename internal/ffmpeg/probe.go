package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/dudu/metalroop/internal/runerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Info is what the pipeline needs to know about a video
type Info struct {
	FPS        float64
	FrameCount int // 0 when the container does not say
	HasAudio   bool
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe reads frame rate, frame count and audio presence with ffprobe
func (t *Tool) Probe(ctx context.Context, path string) (Info, error) {
	cmd := NewSafeCommand(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "stream=codec_type,r_frame_rate,avg_frame_rate,nb_frames",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Info{}, runerr.New(runerr.KindMissingDependency, "probe "+path, err)
		}
		if tail := cmd.Tail(3); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return Info{}, runerr.New(runerr.KindExternalToolFailure, "probe "+path, err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return Info{}, runerr.New(runerr.KindInvalidInput, "probe "+path, err)
	}
	return info, nil
}

func parseProbe(data []byte) (Info, error) {
	var res probeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}

	var info Info
	foundVideo := false
	for _, s := range res.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			info.FPS = parseRate(s.RFrameRate)
			if info.FPS <= 0 {
				info.FPS = parseRate(s.AvgFrameRate)
			}
			if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
				info.FrameCount = n
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if !foundVideo {
		return Info{}, errors.New("no video stream")
	}
	// FPS stays 0 when the container does not declare a rate
	return info, nil
}

// parseRate parses "30000/1001" or "25" style rates, 0 on failure
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

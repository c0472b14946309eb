// Package video reads individual frames from video files.
package video

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrEndOfStream is wrapped by ReadAt when no frame exists at the index.
// Container frame counts are often estimates, so it can occur below
// FrameCount.
var ErrEndOfStream = errors.New("end of stream")

// Reader gives random access to the frames of a video file
type Reader struct {
	capture    *gocv.VideoCapture
	path       string
	frameCount int
	fps        float64
	width      int
	height     int
	mu         sync.Mutex
}

// Open opens a video file for frame reads
func Open(path string) (*Reader, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}

	return &Reader{
		capture:    capture,
		path:       path,
		frameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		fps:        capture.Get(gocv.VideoCaptureFPS),
		width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// FrameCount returns the container's frame count
func (r *Reader) FrameCount() int {
	return r.frameCount
}

// FPS returns the container's frame rate
func (r *Reader) FPS() float64 {
	return r.fps
}

// Width returns frame width
func (r *Reader) Width() int {
	return r.width
}

// Height returns frame height
func (r *Reader) Height() int {
	return r.height
}

// ReadAt seeks to the zero-based frame index and decodes it into frame
func (r *Reader) ReadAt(index int, frame *gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return fmt.Errorf("video %s is closed", r.path)
	}
	if index < 0 {
		return fmt.Errorf("frame %d out of range", index)
	}
	if r.frameCount > 0 && index >= r.frameCount {
		return fmt.Errorf("frame %d of %s: %w", index, r.path, ErrEndOfStream)
	}

	r.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	if !r.capture.Read(frame) || frame.Empty() {
		return fmt.Errorf("failed to read frame %d of %s: %w", index, r.path, ErrEndOfStream)
	}
	return nil
}

// Close releases the capture
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		err := r.capture.Close()
		r.capture = nil
		return err
	}
	return nil
}

package runerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindInvalidInput, "validate source", errors.New("no face"))

	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrMissingDependency))

	wrapped := fmt.Errorf("run: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))
	assert.Equal(t, KindInvalidInput, KindOf(wrapped))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := New(KindExternalToolFailure, "ffmpeg", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	inner := New(KindSafetyRejected, "gate", nil)
	assert.Equal(t, KindSafetyRejected, KindOf(Classify(KindFrameProcessingFailure, "frame", inner)))
	assert.Equal(t, KindFrameProcessingFailure, KindOf(Classify(KindFrameProcessingFailure, "frame", errors.New("boom"))))
	assert.Nil(t, Classify(KindInvalidInput, "noop", nil))
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"op and cause", &Error{Kind: KindInvalidInput, Op: "source", Err: errors.New("no face")}, "InvalidInput: source: no face"},
		{"cause only", &Error{Kind: KindMissingDependency, Err: errors.New("ffmpeg not found")}, "MissingDependency: ffmpeg not found"},
		{"op only", &Error{Kind: KindSafetyRejected, Op: "image"}, "SafetyRejected: image"},
		{"bare", &Error{Kind: KindFrameProcessingFailure}, "FrameProcessingFailure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "Unknown", KindUnknown.String())
}

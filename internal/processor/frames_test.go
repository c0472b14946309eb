package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/metalroop/internal/runerr"
)

func writeText(path string) error {
	return os.WriteFile(path, []byte("plain text, not media\n"), 0o644)
}

func framePaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("%04d.png", i+1)
	}
	return paths
}

func TestProcessFramesSequentialOrder(t *testing.T) {
	var seen []int
	err := ProcessFrames(context.Background(), framePaths(25), 1, nil, func(i int, path string) error {
		assert.Equal(t, fmt.Sprintf("%04d.png", i+1), path)
		seen = append(seen, i)
		return nil
	})
	require.NoError(t, err)

	want := make([]int, 25)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, seen)
}

func TestProcessFramesEachFrameOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	bar := progressbar.DefaultSilent(300)
	err := ProcessFrames(context.Background(), framePaths(300), 8, bar, func(i int, _ string) error {
		mu.Lock()
		seen = append(seen, i)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	sort.Ints(seen)
	require.Len(t, seen, 300)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(300), bar.State().CurrentNum)
}

func TestProcessFramesStopsOnFailure(t *testing.T) {
	var seen []int
	err := ProcessFrames(context.Background(), framePaths(20), 1, nil, func(i int, _ string) error {
		seen = append(seen, i)
		if i == 5 {
			return errors.New("no memory")
		}
		return nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrFrameProcessingFailure))
	assert.ErrorContains(t, err, "frame 6")
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
}

func TestProcessFramesKeepsClassifiedErrors(t *testing.T) {
	err := ProcessFrames(context.Background(), framePaths(3), 2, nil, func(int, string) error {
		return runerr.New(runerr.KindMissingDependency, "load", errors.New("gone"))
	})
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))
}

func TestProcessFramesEmpty(t *testing.T) {
	called := false
	err := ProcessFrames(context.Background(), nil, 4, nil, func(int, string) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

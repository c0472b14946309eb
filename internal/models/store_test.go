package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/metalroop/internal/logging"
	"github.com/dudu/metalroop/internal/runerr"
)

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestEnsureDownloadsOnce(t *testing.T) {
	payload := []byte("onnx-weights")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), logging.Discard())
	a := Artifact{Name: "model.onnx", URL: srv.URL + "/model.onnx", SHA256: digest(payload)}

	path, err := store.Ensure(context.Background(), a)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = store.Ensure(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "cached artifact must not be fetched again")
	assert.True(t, store.Present(a))
}

func TestEnsureRejectsChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), logging.Discard())
	a := Artifact{Name: "model.onnx", URL: srv.URL, SHA256: digest([]byte("genuine"))}

	_, err := store.Ensure(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))
}

func TestEnsureHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := NewStore(dir, logging.Discard())
	_, err := store.Ensure(context.Background(), Artifact{Name: "missing.onnx", URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, runerr.KindMissingDependency, runerr.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial downloads must be removed")
}

func TestEnsureWithoutSource(t *testing.T) {
	store := NewStore(t.TempDir(), logging.Discard())
	_, err := store.Ensure(context.Background(), Artifact{Name: "local-only.onnx"})
	assert.True(t, errors.Is(err, runerr.ErrMissingDependency))
}

func TestEnsureUsesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre.onnx"), []byte("x"), 0o644))

	store := NewStore(dir, logging.Discard())
	path, err := store.Ensure(context.Background(), Artifact{Name: "pre.onnx", URL: "https://invalid.example/pre.onnx"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pre.onnx"), path)
}

type fakeFetcher struct {
	data []byte
	got  *url.URL
}

func (f *fakeFetcher) Fetch(ctx context.Context, src *url.URL, dst *os.File) error {
	f.got = src
	_, err := dst.Write(f.data)
	return err
}

func TestEnsureS3Scheme(t *testing.T) {
	store := NewStore(t.TempDir(), logging.Discard())
	fetcher := &fakeFetcher{data: []byte("weights")}
	store.SetFetcher("s3", fetcher)

	_, err := store.Ensure(context.Background(), Artifact{Name: "inswapper_128.onnx", URL: "s3://models-bucket/roop/inswapper_128.onnx"})
	require.NoError(t, err)
	assert.Equal(t, "models-bucket", fetcher.got.Host)
	assert.Equal(t, "/roop/inswapper_128.onnx", fetcher.got.Path)
}

func TestEnsureUnsupportedScheme(t *testing.T) {
	store := NewStore(t.TempDir(), logging.Discard())
	_, err := store.Ensure(context.Background(), Artifact{Name: "m.onnx", URL: "ftp://host/m.onnx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported model url scheme")
}

func TestArtifactWithURL(t *testing.T) {
	a := Artifact{Name: "m.onnx", URL: "https://a/m.onnx", SHA256: "abc"}
	b := a.WithURL("s3://bucket/m.onnx")
	assert.Equal(t, "s3://bucket/m.onnx", b.URL)
	assert.Empty(t, b.SHA256)
	assert.Equal(t, a, a.WithURL(""))
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want Target
		err  bool
	}{
		{"cpu", TargetCPU, false},
		{"CUDAExecutionProvider", TargetCUDA, false},
		{" CoreML ", TargetCoreML, false},
		{"directml", TargetDirectML, false},
		{"tpu", "", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.False(t, TargetCPU.IsGPU())
	assert.True(t, TargetCUDA.IsGPU())
}

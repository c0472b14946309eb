package swapper

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dudu/metalroop/internal/detector"
)

func rawTensor(name string, dims []int64, values []float32) []byte {
	var t []byte
	var packed []byte
	for _, d := range dims {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	t = protowire.AppendTag(t, tensorDimsField, protowire.BytesType)
	t = protowire.AppendBytes(t, packed)
	t = protowire.AppendTag(t, tensorDataTypeField, protowire.VarintType)
	t = protowire.AppendVarint(t, onnxFloat)
	t = protowire.AppendTag(t, 8, protowire.BytesType)
	t = protowire.AppendString(t, name)

	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	t = protowire.AppendTag(t, tensorRawDataField, protowire.BytesType)
	t = protowire.AppendBytes(t, raw)
	return t
}

func floatDataTensor(dims []int64, values []float32) []byte {
	var t []byte
	for _, d := range dims {
		t = protowire.AppendTag(t, tensorDimsField, protowire.VarintType)
		t = protowire.AppendVarint(t, uint64(d))
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	t = protowire.AppendTag(t, tensorFloatDataField, protowire.BytesType)
	t = protowire.AppendBytes(t, packed)
	return t
}

func model(initializers ...[]byte) []byte {
	var graph []byte
	graph = protowire.AppendTag(graph, 2, protowire.BytesType) // graph name
	graph = protowire.AppendString(graph, "inswapper")
	for _, init := range initializers {
		graph = protowire.AppendTag(graph, graphInitializerField, protowire.BytesType)
		graph = protowire.AppendBytes(graph, init)
	}

	var m []byte
	m = protowire.AppendTag(m, 1, protowire.VarintType) // ir_version
	m = protowire.AppendVarint(m, 8)
	m = protowire.AppendTag(m, modelGraphField, protowire.BytesType)
	m = protowire.AppendBytes(m, graph)
	return m
}

func TestParseEmapUsesLastInitializer(t *testing.T) {
	weights := rawTensor("conv.weight", []int64{3}, []float32{9, 9, 9})
	emap := rawTensor("emap", []int64{2, 2}, []float32{0, 1, 1, 0})

	e, err := ParseEmap(model(weights, emap))
	require.NoError(t, err)
	assert.Equal(t, 2, e.Size())

	// swap the two axes
	latent, err := e.TransformEmbedding(detector.Embedding{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, latent[0], 1e-6)
	assert.InDelta(t, 1, latent[1], 1e-6)
}

func TestParseEmapFloatData(t *testing.T) {
	e, err := ParseEmap(model(floatDataTensor([]int64{2, 2}, []float32{2, 0, 0, 2})))
	require.NoError(t, err)

	latent, err := e.TransformEmbedding(detector.Embedding{0.6, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, latent[0], 1e-6)
	assert.InDelta(t, 0.8, latent[1], 1e-6)
}

func TestParseEmapErrors(t *testing.T) {
	_, err := ParseEmap(nil)
	assert.ErrorContains(t, err, "no graph")

	_, err = ParseEmap(model())
	assert.ErrorContains(t, err, "no initializers")

	_, err = ParseEmap(model(rawTensor("emap", []int64{2, 3}, make([]float32, 6))))
	assert.ErrorContains(t, err, "square")

	_, err = ParseEmap([]byte{0xff})
	assert.Error(t, err)
}

func TestLoadEmapFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inswapper_128.onnx")
	require.NoError(t, os.WriteFile(path, model(rawTensor("emap", []int64{1, 1}, []float32{3})), 0o644))

	e, err := LoadEmap(path)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Size())

	_, err = e.TransformEmbedding(detector.Embedding{1, 2})
	assert.Error(t, err)
}

package swapper

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dudu/metalroop/internal/detector"
)

// ONNX protobuf field numbers
const (
	modelGraphField       = 7 // ModelProto.graph
	graphInitializerField = 5 // GraphProto.initializer
	tensorDimsField       = 1 // TensorProto.dims
	tensorDataTypeField   = 2 // TensorProto.data_type
	tensorFloatDataField  = 4 // TensorProto.float_data
	tensorRawDataField    = 9 // TensorProto.raw_data

	onnxFloat = 1 // TensorProto.DataType FLOAT
)

// Emap is the square matrix mapping ArcFace embeddings into the inswapper
// latent space
type Emap struct {
	n    int
	data []float32 // row-major n×n
}

// Size returns the matrix dimension
func (e *Emap) Size() int { return e.n }

// NewEmap wraps row-major n×n data
func NewEmap(n int, data []float32) (*Emap, error) {
	if n <= 0 || len(data) != n*n {
		return nil, fmt.Errorf("emap needs %d values, got %d", n*n, len(data))
	}
	return &Emap{n: n, data: data}, nil
}

// LoadEmap reads the emap stored as the last graph initializer of the
// inswapper ONNX model
func LoadEmap(modelPath string) (*Emap, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseEmap(data)
}

// ParseEmap extracts the emap from serialized ONNX model bytes
func ParseEmap(model []byte) (*Emap, error) {
	graph, err := lastBytesField(model, modelGraphField)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph: %w", err)
	}
	if graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}

	tensor, err := lastBytesField(graph, graphInitializerField)
	if err != nil {
		return nil, fmt.Errorf("failed to read initializers: %w", err)
	}
	if tensor == nil {
		return nil, fmt.Errorf("graph has no initializers")
	}

	dims, values, err := parseFloatTensor(tensor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode emap tensor: %w", err)
	}
	if len(dims) != 2 || dims[0] != dims[1] {
		return nil, fmt.Errorf("emap must be square, got dims %v", dims)
	}
	return NewEmap(int(dims[0]), values)
}

// lastBytesField returns the payload of the last length-delimited field num
func lastBytesField(b []byte, num protowire.Number) ([]byte, error) {
	var last []byte
	for len(b) > 0 {
		n, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return nil, protowire.ParseError(tagLen)
		}
		b = b[tagLen:]

		if n == num && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			last = v
			b = b[m:]
			continue
		}

		m := protowire.ConsumeFieldValue(n, typ, b)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		b = b[m:]
	}
	return last, nil
}

func parseFloatTensor(b []byte) ([]int64, []float32, error) {
	var (
		dims     []int64
		values   []float32
		raw      []byte
		dataType uint64 = onnxFloat
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == tensorDimsField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			dims = append(dims, int64(v))
			b = b[m:]

		case num == tensorDimsField && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return nil, nil, protowire.ParseError(k)
				}
				dims = append(dims, int64(v))
				packed = packed[k:]
			}
			b = b[m:]

		case num == tensorDataTypeField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			dataType = v
			b = b[m:]

		case num == tensorFloatDataField && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			values = append(values, math.Float32frombits(v))
			b = b[m:]

		case num == tensorFloatDataField && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			for len(packed) >= 4 {
				v, k := protowire.ConsumeFixed32(packed)
				if k < 0 {
					return nil, nil, protowire.ParseError(k)
				}
				values = append(values, math.Float32frombits(v))
				packed = packed[k:]
			}
			b = b[m:]

		case num == tensorRawDataField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			raw = v
			b = b[m:]

		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}

	if dataType != onnxFloat {
		return nil, nil, fmt.Errorf("unsupported tensor data type %d", dataType)
	}

	// raw_data is little-endian and takes precedence
	if raw != nil {
		if len(raw)%4 != 0 {
			return nil, nil, fmt.Errorf("raw data length %d is not a multiple of 4", len(raw))
		}
		values = make([]float32, len(raw)/4)
		for i := range values {
			v, _ := protowire.ConsumeFixed32(raw[i*4:])
			values[i] = math.Float32frombits(v)
		}
	}
	return dims, values, nil
}

// TransformEmbedding applies the emap transformation to convert an ArcFace
// embedding to the latent space expected by inswapper:
//
//	latent = normalize(embedding @ emap)
func (e *Emap) TransformEmbedding(embedding detector.Embedding) (detector.Embedding, error) {
	if len(embedding) != e.n {
		return nil, fmt.Errorf("embedding has %d values, emap expects %d", len(embedding), e.n)
	}

	latent := make([]float32, e.n)
	for i, x := range embedding {
		if x == 0 {
			continue
		}
		row := e.data[i*e.n : (i+1)*e.n]
		for j, w := range row {
			latent[j] += x * w
		}
	}

	return detector.Normalize(latent), nil
}

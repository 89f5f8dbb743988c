package graphite

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	ogorek "github.com/kisielk/og-rek"

	"wgmetrics/internal/model"
)

const (
	EncodingPickle = "pickle"
	EncodingCBOR   = "cbor"
)

// Encoder serializes a batch of points into one payload. The byte layout is
// a contract with the collector; framing is applied separately by Frame.
type Encoder interface {
	Encode(points []model.Point) ([]byte, error)
}

// NewEncoder returns the encoder registered under name.
func NewEncoder(name string) (Encoder, error) {
	switch name {
	case EncodingPickle:
		return PickleEncoder{}, nil
	case EncodingCBOR:
		enc, err := NewCBOREncoder()
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown graphite encoding %q", name)
	}
}

// PickleEncoder produces the payload carbon's pickle receiver expects:
// a protocol 2 pickled list of (path, (timestamp, value)) tuples.
type PickleEncoder struct{}

func (PickleEncoder) Encode(points []model.Point) ([]byte, error) {
	list := make([]interface{}, 0, len(points))
	for _, p := range points {
		list = append(list, ogorek.Tuple{p.Path, ogorek.Tuple{p.Timestamp, p.Value}})
	}
	var buf bytes.Buffer
	enc := ogorek.NewEncoderWithConfig(&buf, &ogorek.EncoderConfig{Protocol: 2})
	if err := enc.Encode(list); err != nil {
		return nil, fmt.Errorf("pickle batch: %w", err)
	}
	return buf.Bytes(), nil
}

// cborPoint mirrors the pickle tuple shape as nested CBOR arrays:
// [path, [timestamp, value]].
type cborPoint struct {
	_      struct{} `cbor:",toarray"`
	Path   string
	Sample cborSample
}

type cborSample struct {
	_         struct{} `cbor:",toarray"`
	Timestamp int64
	Value     float64
}

// CBOREncoder encodes batches with Core Deterministic Encoding so the same
// points always produce the same bytes.
type CBOREncoder struct {
	mode cbor.EncMode
}

func NewCBOREncoder() (*CBOREncoder, error) {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	return &CBOREncoder{mode: mode}, nil
}

func (e *CBOREncoder) Encode(points []model.Point) ([]byte, error) {
	items := make([]cborPoint, 0, len(points))
	for _, p := range points {
		items = append(items, cborPoint{Path: p.Path, Sample: cborSample{Timestamp: p.Timestamp, Value: p.Value}})
	}
	data, err := e.mode.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("cbor batch: %w", err)
	}
	return data, nil
}

package codec

import (
	"bytes"
	"encoding/gob"
	"time"
)

func init() {
	// register the canonical value domain so snapshots round-trip
	// through the map[string]any interface values
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(time.Time{})
}

// NewGOBCodec creates a new codec using Go's binary gob format.
// Gob preserves the canonical value types exactly, so decoded snapshots
// need no re-coercion. This is the default codec for in-process stores.
func NewGOBCodec() ICodec {
	return &gobCodecImpl{}
}

// gobCodecImpl implements the ICodec interface using gob encoding
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) Encode(props map[string]any) ([]byte, error) {
	// gob refuses nil interface values, so absent properties are
	// dropped here and restored as nil on the decode side
	set := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			set[k] = v
		}
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(set); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) Decode(b []byte) (map[string]any, error) {
	var props map[string]any
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	return props, nil
}

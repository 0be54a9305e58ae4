package codec

import (
	"encoding/json"
)

// NewJSONCodec creates a new codec using json encoding.
//
// JSON flattens the value domain (ints decode as float64, byte slices as
// base64 strings), so decoded snapshots must be re-coerced against the
// declared schema before use. unit.FromProps does exactly that.
func NewJSONCodec() ICodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the ICodec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Encode(props map[string]any) ([]byte, error) {
	return json.Marshal(props)
}

func (j jsonCodecImpl) Decode(b []byte) (map[string]any, error) {
	var props map[string]any
	if err := json.Unmarshal(b, &props); err != nil {
		return nil, err
	}
	return props, nil
}

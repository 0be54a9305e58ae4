package codec

// ICodec is the interface for all property-snapshot codecs
type ICodec interface {
	// Encode serializes a property snapshot into a byte array
	// It returns the serialized byte array and an error if any
	Encode(props map[string]any) ([]byte, error)
	// Decode deserializes a byte array into a property snapshot
	// It returns the decoded snapshot and an error if any
	Decode(b []byte) (map[string]any, error)
}

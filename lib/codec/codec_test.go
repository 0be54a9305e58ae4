package codec

import (
	"reflect"
	"testing"
	"time"

	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() ICodec{
	"JSON": NewJSONCodec,
	"GOB":  NewGOBCodec,
}

func snapshotType() *schema.Type {
	return schema.NewType("snapshot",
		schema.Property{Name: "name", Type: schema.KindString},
		schema.Property{Name: "count", Type: schema.KindInt},
		schema.Property{Name: "ratio", Type: schema.KindFloat},
		schema.Property{Name: "active", Type: schema.KindBool},
		schema.Property{Name: "blob", Type: schema.KindBytes},
		schema.Property{Name: "seen", Type: schema.KindTime},
		schema.Property{Name: "note", Type: schema.KindString},
	)
}

// TestCodecRoundTrip tests that snapshots survive an encode/decode cycle
// once re-coerced against the declared schema
func TestCodecRoundTrip(t *testing.T) {
	typ := snapshotType()
	props := map[string]any{
		"name":   "lancelot",
		"count":  int64(12),
		"ratio":  0.75,
		"active": true,
		"blob":   []byte{0xde, 0xad},
		"seen":   time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
		"note":   nil,
	}

	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			b, err := c.Encode(props)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			// schema-aware coercion restores the canonical domain
			// for codecs that flatten it (JSON)
			u, err := unit.FromProps(typ, decoded)
			if err != nil {
				t.Fatalf("FromProps failed: %v", err)
			}
			got := u.Properties()
			if got["seen"].(time.Time).Equal(props["seen"].(time.Time)) {
				got["seen"] = props["seen"]
			}
			if !reflect.DeepEqual(got, props) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, props)
			}
		})
	}
}

// TestDecodeGarbage tests that malformed input yields an error, not a panic
func TestDecodeGarbage(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			if _, err := factory().Decode([]byte("\x00not a snapshot")); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

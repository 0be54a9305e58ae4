package schema

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// Identity is the ordered tuple of identifier values for an instance,
// read from its current property values.
type Identity []any

// Key returns a canonical string form of the identity, suitable for use
// as a cache or index key. Values outside the canonical domain make keys
// that are stable but not portable; Coerce inputs first.
func (id Identity) Key() string {
	parts := make([]string, len(id))
	for i, v := range id {
		switch x := v.(type) {
		case nil:
			parts[i] = "_"
		case string:
			parts[i] = "s:" + x
		case int64:
			parts[i] = fmt.Sprintf("i:%d", x)
		case float64:
			parts[i] = fmt.Sprintf("f:%g", x)
		case bool:
			parts[i] = fmt.Sprintf("b:%t", x)
		case []byte:
			parts[i] = "x:" + hex.EncodeToString(x)
		case time.Time:
			parts[i] = "t:" + x.UTC().Format(time.RFC3339Nano)
		default:
			parts[i] = fmt.Sprintf("?:%v", x)
		}
	}
	return strings.Join(parts, "\x1f")
}

// Equal reports whether two identities hold the same values.
func (id Identity) Equal(other Identity) bool {
	if len(id) != len(other) {
		return false
	}
	return id.Key() == other.Key()
}

// --------------------------------------------------------------------------
// Sequencer Contract
// --------------------------------------------------------------------------

// Sequencer is the identifier-generation strategy for an entity type.
//
// Backends that allocate identifiers client-side call Assign with all
// currently known identities for the type; Assign mutates the instance
// to hold a fresh identity.
type Sequencer interface {
	// ValidID reports whether the identity counts as assigned.
	ValidID(id Identity) bool
	// Assign mutates the instance to hold a fresh, unused identity.
	Assign(inst Instance, existing []Identity) error
}

// ManualSequencer expects the application to assign identifiers itself.
type ManualSequencer struct{}

func (ManualSequencer) ValidID(id Identity) bool {
	if len(id) == 0 {
		return false
	}
	for _, v := range id {
		if v == nil {
			return false
		}
	}
	return true
}

func (ManualSequencer) Assign(inst Instance, existing []Identity) error {
	return fmt.Errorf("schema: manual sequencer cannot assign an identifier for type %q", inst.Type().Name)
}

// IntSequencer auto-increments a single int64 identifier, starting at 1.
type IntSequencer struct{}

func (IntSequencer) ValidID(id Identity) bool {
	if len(id) != 1 {
		return false
	}
	n, ok := id[0].(int64)
	return ok && n > 0
}

func (IntSequencer) Assign(inst Instance, existing []Identity) error {
	ids := inst.Type().Identifiers()
	if len(ids) != 1 {
		return fmt.Errorf("schema: integer sequencer requires exactly one identifier, type %q has %d", inst.Type().Name, len(ids))
	}
	var max int64
	for _, e := range existing {
		if len(e) != 1 {
			continue
		}
		if n, ok := e[0].(int64); ok && n > max {
			max = n
		}
	}
	return inst.Set(ids[0], max+1)
}

// UUIDSequencer assigns a random UUID string to a single identifier.
// This is the "dynamic" strategy: identifiers need no coordination with
// existing identities, so it suits stores that cannot enumerate them.
type UUIDSequencer struct{}

func (UUIDSequencer) ValidID(id Identity) bool {
	if len(id) != 1 {
		return false
	}
	s, ok := id[0].(string)
	return ok && s != ""
}

func (UUIDSequencer) Assign(inst Instance, existing []Identity) error {
	ids := inst.Type().Identifiers()
	if len(ids) != 1 {
		return fmt.Errorf("schema: uuid sequencer requires exactly one identifier, type %q has %d", inst.Type().Name, len(ids))
	}
	return inst.Set(ids[0], uuid.NewString())
}

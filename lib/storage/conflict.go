package storage

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Conflict Modes
// --------------------------------------------------------------------------

// Conflict is the policy governing DDL-mismatch handling. It threads
// through every schema-mutation call and must produce identical externally
// observable effects on every backend.
type Conflict int

const (
	// ConflictError raises a mapping error on the first mismatch.
	ConflictError Conflict = iota
	// ConflictWarn logs every detected mismatch, skips the DDL and
	// returns nil.
	ConflictWarn
	// ConflictRepair mutates the storage structure to match the
	// declared model.
	ConflictRepair
	// ConflictIgnore silently skips mismatched DDL.
	ConflictIgnore
)

func (c Conflict) String() string {
	switch c {
	case ConflictError:
		return "error"
	case ConflictWarn:
		return "warn"
	case ConflictRepair:
		return "repair"
	case ConflictIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ParseConflict maps the wire-level mode names onto the enum.
func ParseConflict(s string) (Conflict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "":
		return ConflictError, nil
	case "warn":
		return ConflictWarn, nil
	case "repair":
		return ConflictRepair, nil
	case "ignore":
		return ConflictIgnore, nil
	default:
		return ConflictError, Errorf(CodeInvalid, "unknown conflict mode %q", s)
	}
}

// Resolve settles a set of detected DDL mismatches for the non-repair
// modes: error raises one mapping error carrying every issue, warn logs
// every issue and returns nil, ignore returns nil. Callers branch on
// ConflictRepair themselves before calling Resolve; reaching Resolve in
// repair mode means the backend has no repair for these issues.
//
// An empty issue set is never an error.
func (c Conflict) Resolve(lg *Logger, issues ...string) error {
	if len(issues) == 0 {
		return nil
	}
	switch c {
	case ConflictIgnore:
		return nil
	case ConflictWarn:
		// surface every issue, not just the first
		for _, issue := range issues {
			lg.Log(LogDDL, "warning: %s", issue)
		}
		return nil
	case ConflictRepair:
		return Errorf(CodeMapping, "cannot repair: %s", strings.Join(issues, "; "))
	default:
		return Errorf(CodeMapping, "%s", strings.Join(issues, "; "))
	}
}

// ResolveOne is Resolve for the single-issue case with formatting.
func (c Conflict) ResolveOne(lg *Logger, format string, args ...any) error {
	return c.Resolve(lg, fmt.Sprintf(format, args...))
}

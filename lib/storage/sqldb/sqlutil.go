package sqldb

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
)

// --------------------------------------------------------------------------
// SQL Rendering Helpers
// --------------------------------------------------------------------------

// quote renders an identifier for use in SQL text.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnType maps a semantic kind onto a SQLite column affinity. Times
// and dates are stored as text so lexical order matches chronological
// order.
func columnType(k schema.Kind) string {
	switch k {
	case schema.KindInt, schema.KindBool:
		return "INTEGER"
	case schema.KindFloat:
		return "REAL"
	case schema.KindBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// toSQL converts a canonical property value into its bound SQL argument.
// Times are normalised to UTC before formatting so text ordering stays
// chronological across zones.
func toSQL(k schema.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case schema.KindTime:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339Nano)
		}
	case schema.KindDate:
		if d, ok := v.(time.Time); ok {
			return d.Format("2006-01-02")
		}
	case schema.KindBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	}
	return v
}

// fromSQL restores a scanned SQL value into the canonical domain of the
// kind. The driver hands TEXT columns back as []byte in some paths, so
// non-byte kinds see strings.
func fromSQL(k schema.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && k != schema.KindBytes {
		v = string(b)
	}
	out, err := k.Coerce(v)
	if err != nil {
		return nil, storage.WrapErr(storage.CodeMapping, err, "reading %s column", k)
	}
	return out, nil
}

// literal renders a default value as a SQL literal. DDL statements cannot
// carry bound parameters.
func literal(k schema.Kind, v any) (string, error) {
	v = toSQL(k, v)
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case int64:
		return fmt.Sprintf("%d", x), nil
	case float64:
		return fmt.Sprintf("%g", x), nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'", nil
	default:
		return "", storage.Errorf(storage.CodeMapping, "no SQL literal for %T", v)
	}
}

// bindArgs converts a property map into bound arguments in column order.
func bindArgs(t *schema.Type, props map[string]any) []any {
	cols := t.Properties()
	args := make([]any, len(cols))
	for i, p := range cols {
		args[i] = toSQL(p.Type, props[p.Name])
	}
	return args
}

// columnList renders the quoted, comma-joined property names of a type.
func columnList(t *schema.Type) string {
	names := t.PropertyNames()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

// matchClause renders a WHERE fragment matching the named properties
// with IS, which treats NULL like an ordinary value.
func matchClause(names []string) string {
	terms := make([]string, len(names))
	for i, n := range names {
		terms[i] = quote(n) + " IS ?"
	}
	return strings.Join(terms, " AND ")
}

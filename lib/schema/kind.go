package schema

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Semantic Value Kinds
// --------------------------------------------------------------------------

// Kind is the semantic type of a property value.
//
// Property values live in a closed canonical domain: nil, bool, int64,
// float64, string, []byte and time.Time. Coerce normalises arbitrary
// inputs (application values, decoded JSON, strings parsed from file
// names) into that domain so identity keys and round trips stay stable
// across backends.
type Kind int

const (
	KindString Kind = iota
	KindBytes
	KindInt
	KindFloat
	KindBool
	KindTime
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Discrete reports whether the kind forms a discrete ordered domain.
// Discrete kinds support dense interval expansion in Range queries.
func (k Kind) Discrete() bool {
	return k == KindInt || k == KindDate
}

// Coerce normalises v into the canonical value domain for this kind.
// A nil input stays nil for every kind.
func (k Kind) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case KindBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			// JSON renders []byte as base64; fall back to raw bytes.
			if b, err := base64.StdEncoding.DecodeString(x); err == nil {
				return b, nil
			}
			return []byte(x), nil
		}
	case KindInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case uint64:
			if x <= math.MaxInt64 {
				return int64(x), nil
			}
		case float64:
			if x == float64(int64(x)) {
				return int64(x), nil
			}
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n, nil
			}
		}
	case KindFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, nil
			}
		}
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b, nil
			}
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		}
	case KindTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return ts, nil
			}
		}
	case KindDate:
		switch x := v.(type) {
		case time.Time:
			return time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, time.UTC), nil
		case string:
			if d, err := time.Parse("2006-01-02", x); err == nil {
				return d, nil
			}
			if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return nil, fmt.Errorf("schema: cannot coerce %T value %v to %s", v, v, k)
}

package docstore

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"time"
)

// String reads a string field; missing or non-string values yield "".
func String(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// Int reads an integral field. Firestore yields int64, JSON decoding yields
// float64 or json.Number, and callers writing maps directly use int.
func Int(data map[string]any, key string) (int, bool) {
	return AsInt(data[key])
}

// AsInt converts a single decoded value to int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Bool reads a boolean field.
func Bool(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

// Time reads a timestamp stored natively or as an RFC 3339 string.
func Time(data map[string]any, key string) time.Time {
	return AsTime(data[key])
}

// AsTime converts a single decoded value to time.Time; unknown shapes yield the zero time.
func AsTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t == nil {
			return time.Time{}
		}
		return *t
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
		return time.Time{}
	case map[string]any:
		// {seconds, nanoseconds} as produced by client SDK exports
		sec, ok := AsInt(t["seconds"])
		if !ok {
			return time.Time{}
		}
		nsec, _ := AsInt(t["nanoseconds"])
		return time.Unix(int64(sec), int64(nsec)).UTC()
	default:
		return time.Time{}
	}
}

// Slice reads an array field.
func Slice(data map[string]any, key string) []any {
	s, _ := data[key].([]any)
	return s
}

// Map reads a nested map field.
func Map(data map[string]any, key string) map[string]any {
	m, _ := data[key].(map[string]any)
	return m
}

// Merge returns a copy of base with fields applied on top, matching Set semantics.
func Merge(base, fields map[string]any) map[string]any {
	out := CloneMap(base)
	if out == nil {
		out = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		out[k] = CloneValue(v)
	}
	return out
}

// Union appends each value not already present (deep equality) to existing.
func Union(existing []any, values ...any) []any {
	out := make([]any, 0, len(existing)+len(values))
	for _, v := range existing {
		out = append(out, CloneValue(v))
	}
	for _, v := range values {
		found := false
		for _, have := range out {
			if reflect.DeepEqual(have, v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, CloneValue(v))
		}
	}
	return out
}

// CloneMap deep-copies a document body.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices; other values are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Equal compares a stored field value with a query value, treating the numeric
// representations produced by the different backends as interchangeable.
func Equal(stored, want any) bool {
	if a, ok := AsNumber(stored); ok {
		if b, ok := AsNumber(want); ok {
			return a == b
		}
	}
	return reflect.DeepEqual(stored, want)
}

// AsNumber widens the numeric kinds found in documents to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

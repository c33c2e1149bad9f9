package transcript

import (
	"encoding/json"
	"strconv"
	"strings"
)

// GetPath walks a decoded JSON value by a dotted path and reports whether the
// path resolved. Segments index into objects by key; numeric segments (and
// trailing [n] brackets) index into arrays. An empty path resolves to the
// value itself. A resolved null is a defined value: found is true, v is nil.
func GetPath(value any, path string) (v any, found bool) {
	if path == "" {
		return value, true
	}

	cur := value
	for _, seg := range strings.Split(path, ".") {
		for _, part := range splitBrackets(seg) {
			next, ok := step(cur, part)
			if !ok {
				return nil, false
			}
			cur = next
		}
	}
	return cur, true
}

// splitBrackets expands a segment like "content[0][1]" into
// ["content", "0", "1"]. A bare segment comes back unchanged.
func splitBrackets(seg string) []string {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return []string{seg}
	}

	parts := make([]string, 0, 2)
	if open > 0 {
		parts = append(parts, seg[:open])
	}
	rest := seg[open:]
	for strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			// Malformed bracket: treat the remainder as a literal key.
			parts = append(parts, rest)
			return parts
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// step descends one level into an object or array.
func step(cur any, key string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

// Stringify renders a JSON value the way match constraints see it: strings
// pass through, numbers drop insignificant zeros, booleans are "true"/"false",
// null is empty, and composites render as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ValueEquals compares two decoded values with numeric normalization, so a
// YAML int constraint equals a JSON float64 field. Arrays compare
// element-wise, objects key-wise.
func ValueEquals(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}

	switch at := a.(type) {
	case nil:
		return b == nil
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	case []any:
		bl, ok := b.([]any)
		if !ok || len(at) != len(bl) {
			return false
		}
		for i := range at {
			if !ValueEquals(at[i], bl[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bm, ok := b.(map[string]any)
		if !ok || len(at) != len(bm) {
			return false
		}
		for k, av := range at {
			bv, present := bm[k]
			if !present || !ValueEquals(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Package dynval implements dotted-path traversal over the engine's dynamic
// value type (map[string]interface{}/[]interface{}/primitives), used
// wherever the spec calls for "open objects": event data, action payloads,
// lookup results.
//
// Grounded in the teacher's semantic/runtime/fields.go getNestedField /
// setNestedField, generalized to operate on plain maps instead of a fixed
// RuntimeAction/Event struct.
package dynval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Get traverses path (dot-separated segments) through root, returning the
// value found and true, or (nil, false) if any segment is missing or the
// traversal passes through a non-object (§4.5: "traversal through a
// non-object yields undefined").
func Get(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}
	segments := strings.Split(path, ".")
	cur := root
	for _, seg := range segments {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur interface{}, seg string) (interface{}, bool) {
	switch v := cur.(type) {
	case map[string]interface{}:
		val, ok := v[seg]
		return val, ok
	case []interface{}:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	default:
		return nil, false
	}
}

// Set writes value at path within root, creating intermediate maps as
// needed. root must be a map[string]interface{}.
func Set(root map[string]interface{}, path string, value interface{}) error {
	if path == "" {
		return fmt.Errorf("dynval: empty path")
	}
	segments := strings.Split(path, ".")
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg]
		if !ok {
			m := make(map[string]interface{})
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("dynval: segment %q in path %q is not an object", seg, path)
		}
		cur = m
	}
	return nil
}

// Canonical produces a stable, key-order-independent JSON-like string
// representation of v, used for cache keys and hot-reload diff hashing
// (§4.4.1, §4.11): map keys are sorted, arrays preserve order, primitives
// are preserved.
func Canonical(v interface{}) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	case string:
		b.WriteString(strconv.Quote(val))
	case nil:
		b.WriteString("null")
	default:
		b.WriteString(fmt.Sprintf("%v", val))
	}
}

// AsFloat coerces the engine's numeric JSON-decoded types (float64, float32,
// int, int64, int32) to float64, failing on anything else.
func AsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Stringify renders v the way ${...} interpolation stringifies a resolved
// value (§4.6): numbers without locale formatting, nil as empty string,
// everything else via fmt.Sprint.
func Stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

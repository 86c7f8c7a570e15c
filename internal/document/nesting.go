package document

import (
	"sort"
	"strings"
)

// Expand turns a flat map whose keys may be dotted accessors into a nested
// object graph: {"contact.email": x} becomes {"contact": {"email": x}}.
// Keys are applied in sorted order so that a plain key and a dotted key
// sharing a root resolve deterministically (the dotted key wins).
func Expand(flat map[string]any) map[string]any {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(flat))
	for _, k := range keys {
		if !strings.Contains(k, ".") {
			if _, exists := out[k]; !exists {
				out[k] = flat[k]
			}
			continue
		}
		p, err := ParsePath(k)
		if err != nil {
			out[k] = flat[k]
			continue
		}
		p.Set(out, flat[k])
	}
	return out
}

// Flatten is the inverse of Expand: nested objects become dotted keys.
// Arrays are leaves.
func Flatten(doc map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// Clone returns a deep copy of doc. Maps and slices are copied; other
// values are shared.
func Clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	case []map[string]any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Package document holds the helpers the table engine uses to address
// values inside schemaless records: dotted accessor paths, flat/nested
// conversion and secret redaction.
package document

import (
	"fmt"
	"strings"
)

// Path is an ordered list of keys into a nested record, parsed from an
// accessor such as "contact.email".
type Path []string

// ParsePath splits a dotted accessor into a Path. Empty segments are rejected.
func ParsePath(accessor string) (Path, error) {
	if accessor == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(accessor, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid path %q: empty segment", accessor)
		}
	}
	return Path(parts), nil
}

// MustPath is ParsePath for accessors known at compile time.
func MustPath(accessor string) Path {
	p, err := ParsePath(accessor)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the dotted form of the path.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Root returns the top-level key.
func (p Path) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Last returns the final key.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// HasPrefix reports whether prefix addresses p or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// IsIdentifier reports whether every segment is a plain identifier
// ([A-Za-z_][A-Za-z0-9_]*). SQL backends embed paths into JSON path
// literals and only accept identifier paths.
func (p Path) IsIdentifier() bool {
	if len(p) == 0 {
		return false
	}
	for _, seg := range p {
		if !isIdentifier(seg) {
			return false
		}
	}
	return true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Get returns the value at the path. ok is false when any segment is
// absent or an intermediate value is not an object.
func (p Path) Get(doc map[string]any) (any, bool) {
	if len(p) == 0 || doc == nil {
		return nil, false
	}
	var cur any = doc
	for _, key := range p {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		v, exists := m[key]
		if !exists {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Set writes value at the path, creating intermediate objects as needed.
// A non-object intermediate value is replaced by a new object.
func (p Path) Set(doc map[string]any, value any) {
	if len(p) == 0 || doc == nil {
		return
	}
	cur := doc
	for _, key := range p[:len(p)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[p.Last()] = value
}

// Delete removes the value at the path. Missing paths are a no-op.
func (p Path) Delete(doc map[string]any) {
	if len(p) == 0 || doc == nil {
		return
	}
	cur := doc
	for _, key := range p[:len(p)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, p.Last())
}

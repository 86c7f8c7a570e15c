package store

import (
	"reflect"
	"strconv"
	"strings"
)

// Match evaluates f against doc with the same semantics the SQL dialects
// compile to. A nil filter matches everything.
func Match(doc map[string]any, f Filter) bool {
	switch f := f.(type) {
	case nil:
		return true
	case And:
		for _, child := range f {
			if !Match(doc, child) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range f {
			if Match(doc, child) {
				return true
			}
		}
		return false
	case Cond:
		return matchCond(doc, f)
	}
	return false
}

func matchCond(doc map[string]any, c Cond) bool {
	v, ok := c.Path.Get(doc)
	switch c.Op {
	case OpEq:
		return ok && equalValues(v, c.Value)
	case OpNe:
		return !ok || !equalValues(v, c.Value)
	case OpContains:
		return ok && containsFold(textOf(v), textOf(c.Value))
	case OpNotContains:
		return !ok || !containsFold(textOf(v), textOf(c.Value))
	case OpIn:
		if !ok {
			return false
		}
		values, _ := c.Value.([]any)
		for _, want := range values {
			if equalValues(v, want) {
				return true
			}
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// textOf renders a value the way the SQL backends expose it to LIKE:
// scalars as plain text, objects and arrays as JSON.
func textOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	default:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if _, ok := toFloat(b); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

// compareValues orders values with missing and null first, then booleans,
// numbers, strings and finally composite values by their JSON text.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(textOf(a), textOf(b))
}

// lessBySort orders two documents by the query's sort fields, falling back
// to id so that ordering is total.
func lessBySort(a, b map[string]any, sort []SortField) bool {
	for _, s := range sort {
		va, _ := s.Path.Get(a)
		vb, _ := s.Path.Get(b)
		c := compareValues(va, vb)
		if c == 0 {
			continue
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	}
	ia, _ := a["id"].(string)
	ib, _ := b["id"].(string)
	return ia < ib
}

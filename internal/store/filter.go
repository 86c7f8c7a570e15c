package store

import "resume-backend/internal/document"

// Op is a comparison applied to the value at a document path.
type Op int

const (
	// OpEq matches an exact value. Missing fields never match.
	OpEq Op = iota
	// OpNe negates OpEq. Missing fields match.
	OpNe
	// OpContains is a case-insensitive literal substring match.
	OpContains
	// OpNotContains negates OpContains. Missing fields match.
	OpNotContains
	// OpIn matches any of a list of values.
	OpIn
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpContains:
		return "contains"
	case OpNotContains:
		return "notContains"
	case OpIn:
		return "in"
	}
	return "unknown"
}

// Filter is a predicate tree over documents: And, Or or Cond.
type Filter interface {
	isFilter()
}

// Cond compares the value at Path. For OpIn, Value is a []any.
type Cond struct {
	Path  document.Path
	Op    Op
	Value any
}

// And matches when every child matches. An empty And matches everything.
type And []Filter

// Or matches when any child matches. An empty Or matches nothing.
type Or []Filter

func (Cond) isFilter() {}
func (And) isFilter()  {}
func (Or) isFilter()   {}

// Eq, Ne, Contains, NotContains and In build single conditions.
func Eq(p document.Path, v any) Cond          { return Cond{Path: p, Op: OpEq, Value: v} }
func Ne(p document.Path, v any) Cond          { return Cond{Path: p, Op: OpNe, Value: v} }
func Contains(p document.Path, s string) Cond { return Cond{Path: p, Op: OpContains, Value: s} }
func NotContains(p document.Path, s string) Cond {
	return Cond{Path: p, Op: OpNotContains, Value: s}
}

// IDIn matches documents whose id is one of ids.
func IDIn(ids []string) Cond {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return Cond{Path: document.Path{"id"}, Op: OpIn, Value: values}
}

// SortField orders results by the value at Path.
type SortField struct {
	Path document.Path
	Desc bool
}

// Query selects, orders and windows documents. Limit <= 0 means no limit.
type Query struct {
	Filter Filter
	Sort   []SortField
	Skip   int
	Limit  int
}

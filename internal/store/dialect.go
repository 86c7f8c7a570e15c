package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"resume-backend/internal/document"
)

// Dialect abstracts database-specific SQL generation over the
// (id, doc) collection tables.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Init runs connection setup statements after open.
	Init(ctx context.Context, db *sql.DB) error

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// CreateCollectionSQL returns the DDL for a collection table.
	CreateCollectionSQL(table string) string

	// UniqueIndexSQL returns the DDL for a unique expression index on path.
	UniqueIndexSQL(table string, p document.Path) string

	// JSONValue returns an expression yielding the comparable value at p.
	JSONValue(p document.Path) string

	// JSONText returns an expression yielding the value at p as text, with
	// objects and arrays rendered as JSON.
	JSONText(p document.Path) string

	// JSONParam wraps a placeholder bound to a JSON-encoded operand so it
	// compares with JSONValue.
	JSONParam(ph string) string

	// DistinctOp is the null-safe inequality operator.
	DistinctOp() string

	// LikeOp is the case-insensitive LIKE operator.
	LikeOp() string

	// OrderExpr returns an ORDER BY term with nulls sorting first.
	OrderExpr(expr string, desc bool) string

	// LockSuffix returns the row-locking clause for read-modify-write, or "".
	LockSuffix() string

	// InExpr builds a SQL expression for the IN operator.
	InExpr(field string, pb ParamBuilder, values []any) string

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any

	// Count returns the number of parameters added so far.
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

type paramBuilder struct {
	params []any
	format string
}

func (p *paramBuilder) Add(v any) string {
	p.params = append(p.params, v)
	return fmt.Sprintf(p.format, len(p.params))
}

func (p *paramBuilder) Params() []any { return p.params }
func (p *paramBuilder) Count() int    { return len(p.params) }

func inExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(phs, ", "))
}

// escapeLike escapes LIKE metacharacters so the term matches literally
// with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// quoteIdent quotes a validated collection name.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// validateCollectionName accepts [A-Za-z_][A-Za-z0-9_]*, which is safe to
// embed in DDL.
func validateCollectionName(name string) error {
	if !(document.Path{name}).IsIdentifier() {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

func indexName(table string, p document.Path) string {
	return "uq_" + table + "_" + strings.Join(p, "_")
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"resume-backend/internal/document"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx stdlib. Records
// live in a JSONB column.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Init(context.Context, *sql.DB) error { return nil }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &paramBuilder{format: "$%d"}
}

func (d *PostgresDialect) CreateCollectionSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id   TEXT PRIMARY KEY,
    doc  JSONB NOT NULL
)`, quoteIdent(table))
}

func (d *PostgresDialect) UniqueIndexSQL(table string, p document.Path) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((%s))",
		quoteIdent(indexName(table, p)), quoteIdent(table), d.JSONText(p))
}

func pgPathLiteral(p document.Path) string {
	return "'{" + strings.Join(p, ",") + "}'"
}

func (d *PostgresDialect) JSONValue(p document.Path) string {
	return "doc #> " + pgPathLiteral(p)
}

func (d *PostgresDialect) JSONText(p document.Path) string {
	return "doc #>> " + pgPathLiteral(p)
}

func (d *PostgresDialect) JSONParam(ph string) string { return ph + "::jsonb" }
func (d *PostgresDialect) DistinctOp() string         { return "IS DISTINCT FROM" }
func (d *PostgresDialect) LikeOp() string             { return "ILIKE" }
func (d *PostgresDialect) LockSuffix() string         { return " FOR UPDATE" }

func (d *PostgresDialect) OrderExpr(expr string, desc bool) string {
	if desc {
		return expr + " DESC NULLS LAST"
	}
	return expr + " ASC NULLS FIRST"
}

func (d *PostgresDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	return inExpr(field, pb, values)
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// Check for unique constraint violation via error string
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

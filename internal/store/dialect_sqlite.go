package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"resume-backend/internal/document"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
// Records live in a TEXT column read through the JSON1 functions.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

// Init enables WAL and a busy timeout. SQLite LIKE is case-insensitive
// for ASCII only.
func (d *SQLiteDialect) Init(ctx context.Context, db *sql.DB) error {
	// SQLite: single writer, WAL mode for concurrent reads
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &paramBuilder{format: "?%d"}
}

func (d *SQLiteDialect) CreateCollectionSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id   TEXT PRIMARY KEY,
    doc  TEXT NOT NULL
)`, quoteIdent(table))
}

func (d *SQLiteDialect) UniqueIndexSQL(table string, p document.Path) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(indexName(table, p)), quoteIdent(table), d.JSONValue(p))
}

func sqlitePathLiteral(p document.Path) string {
	return "'$." + strings.Join(p, ".") + "'"
}

func (d *SQLiteDialect) JSONValue(p document.Path) string {
	return "json_extract(doc, " + sqlitePathLiteral(p) + ")"
}

// JSONText is json_extract as well: it already yields scalars as SQL
// values and objects/arrays as JSON text.
func (d *SQLiteDialect) JSONText(p document.Path) string {
	return d.JSONValue(p)
}

func (d *SQLiteDialect) JSONParam(ph string) string { return "json_extract(" + ph + ", '$')" }
func (d *SQLiteDialect) DistinctOp() string         { return "IS NOT" }
func (d *SQLiteDialect) LikeOp() string             { return "LIKE" }
func (d *SQLiteDialect) LockSuffix() string         { return "" }

func (d *SQLiteDialect) OrderExpr(expr string, desc bool) string {
	if desc {
		return expr + " DESC NULLS LAST"
	}
	return expr + " ASC NULLS FIRST"
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	return inExpr(field, pb, values)
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

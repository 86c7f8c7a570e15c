package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver

	"resume-backend/internal/config"
	"resume-backend/internal/document"
)

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLStore keeps each collection in a two-column (id, doc) table and
// compiles filters to JSON path expressions of its dialect.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect
	now     func() time.Time
}

// NewSQLStore opens the database described by cfg.
func NewSQLStore(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if driver == "sqlite" && cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dialect := NewDialect(driver)
	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "postgres" && cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}
	if err := dialect.Init(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return NewSQLStoreFromDB(db, dialect), nil
}

// NewSQLStoreFromDB wraps an already opened database.
func NewSQLStoreFromDB(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{DB: db, Dialect: dialect, now: time.Now}
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}

func (s *SQLStore) EnsureCollection(ctx context.Context, name string, unique []string) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, s.Dialect.CreateCollectionSQL(name)); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	for _, accessor := range unique {
		p, err := identifierPath(accessor)
		if err != nil {
			return err
		}
		if _, err := s.DB.ExecContext(ctx, s.Dialect.UniqueIndexSQL(name, p)); err != nil {
			return fmt.Errorf("create unique index %s.%s: %w", name, accessor, s.Dialect.MapError(err))
		}
	}
	return nil
}

func identifierPath(accessor string) (document.Path, error) {
	p, err := document.ParsePath(accessor)
	if err != nil {
		return nil, err
	}
	if !p.IsIdentifier() {
		return nil, fmt.Errorf("path %q is not addressable in SQL", accessor)
	}
	return p, nil
}

func (s *SQLStore) Find(ctx context.Context, coll string, q Query) ([]map[string]any, error) {
	if err := validateCollectionName(coll); err != nil {
		return nil, err
	}
	pb := s.Dialect.NewParamBuilder()
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %s", quoteIdent(coll))

	where, err := s.compileFilter(pb, q.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		b.WriteString(" WHERE " + where)
	}

	terms := make([]string, 0, len(q.Sort)+1)
	for _, sf := range q.Sort {
		expr, err := s.valueExpr(sf.Path)
		if err != nil {
			return nil, err
		}
		terms = append(terms, s.Dialect.OrderExpr(expr, sf.Desc))
	}
	terms = append(terms, "id ASC")
	b.WriteString(" ORDER BY " + strings.Join(terms, ", "))

	if q.Limit > 0 {
		b.WriteString(" LIMIT " + pb.Add(q.Limit))
	} else if q.Skip > 0 && s.Dialect.Name() == "sqlite" {
		b.WriteString(" LIMIT -1")
	}
	if q.Skip > 0 {
		b.WriteString(" OFFSET " + pb.Add(q.Skip))
	}

	return queryDocs(ctx, s.DB, b.String(), pb.Params()...)
}

func (s *SQLStore) Count(ctx context.Context, coll string, f Filter) (int, error) {
	if err := validateCollectionName(coll); err != nil {
		return 0, err
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := "SELECT COUNT(*) FROM " + quoteIdent(coll)
	where, err := s.compileFilter(pb, f)
	if err != nil {
		return 0, err
	}
	if where != "" {
		sqlStr += " WHERE " + where
	}
	var n int
	if err := s.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

func (s *SQLStore) FindByID(ctx context.Context, coll, id string) (map[string]any, error) {
	if err := validateCollectionName(coll); err != nil {
		return nil, err
	}
	return s.findByID(ctx, s.DB, coll, id, "")
}

func (s *SQLStore) findByID(ctx context.Context, q Querier, coll, id, suffix string) (map[string]any, error) {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT doc FROM %s WHERE id = %s%s", quoteIdent(coll), pb.Add(id), suffix)
	docs, err := queryDocs(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (s *SQLStore) FindByIDs(ctx context.Context, coll string, ids []string) ([]map[string]any, error) {
	return s.Find(ctx, coll, Query{Filter: IDIn(ids)})
}

func (s *SQLStore) Insert(ctx context.Context, coll string, doc map[string]any) (map[string]any, error) {
	docs, err := s.InsertMany(ctx, coll, []map[string]any{doc})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (s *SQLStore) InsertMany(ctx context.Context, coll string, docs []map[string]any) ([]map[string]any, error) {
	if err := validateCollectionName(coll); err != nil {
		return nil, err
	}
	now := s.now()
	prepared := make([]map[string]any, len(docs))
	for i, doc := range docs {
		p, err := prepareInsert(doc, now)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range prepared {
			raw, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			pb := s.Dialect.NewParamBuilder()
			sqlStr := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (%s, %s)",
				quoteIdent(coll), pb.Add(doc["id"]), pb.Add(string(raw)))
			if _, err := tx.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
				return s.Dialect.MapError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

func (s *SQLStore) UpdateByID(ctx context.Context, coll, id string, set map[string]any) (map[string]any, error) {
	if err := validateCollectionName(coll); err != nil {
		return nil, err
	}
	var updated map[string]any
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.updateOne(ctx, tx, coll, id, set, s.now())
		updated = doc
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLStore) updateOne(ctx context.Context, tx *sql.Tx, coll, id string, set map[string]any, now time.Time) (map[string]any, error) {
	current, err := s.findByID(ctx, tx, coll, id, s.Dialect.LockSuffix())
	if err != nil {
		return nil, err
	}
	updated, err := applySet(current, set, now)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("UPDATE %s SET doc = %s WHERE id = %s", quoteIdent(coll), pb.Add(string(raw)), pb.Add(id))
	if _, err := tx.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return nil, s.Dialect.MapError(err)
	}
	return updated, nil
}

func (s *SQLStore) UpdateMany(ctx context.Context, coll string, ids []string, set map[string]any) ([]string, error) {
	if err := validateCollectionName(coll); err != nil {
		return nil, err
	}
	var updated []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		for _, id := range ids {
			if _, err := s.updateOne(ctx, tx, coll, id, set, now); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			updated = append(updated, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLStore) DeleteByID(ctx context.Context, coll, id string) (bool, error) {
	if err := validateCollectionName(coll); err != nil {
		return false, err
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE id = %s", quoteIdent(coll), pb.Add(id))
	n, err := Exec(ctx, s.DB, sqlStr, pb.Params()...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) DeleteMany(ctx context.Context, coll string, ids []string) ([]string, error) {
	if err := validateCollectionName(coll); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING id",
		quoteIdent(coll), s.Dialect.InExpr("id", pb, values))
	rows, err := s.DB.QueryContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	defer rows.Close()
	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.Dialect.MapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// valueExpr returns the SQL expression for the value at p. The id is a
// real column.
func (s *SQLStore) valueExpr(p document.Path) (string, error) {
	if len(p) == 1 && p[0] == "id" {
		return "id", nil
	}
	if !p.IsIdentifier() {
		return "", fmt.Errorf("path %q is not addressable in SQL", p)
	}
	return s.Dialect.JSONValue(p), nil
}

func (s *SQLStore) jsonOperand(pb ParamBuilder, v any) (string, error) {
	raw, err := json.Marshal(normalizeValue(v))
	if err != nil {
		return "", fmt.Errorf("encode operand: %w", err)
	}
	return s.Dialect.JSONParam(pb.Add(string(raw))), nil
}

// compileFilter renders f as a WHERE clause body, or "" for no filter.
func (s *SQLStore) compileFilter(pb ParamBuilder, f Filter) (string, error) {
	switch f := f.(type) {
	case nil:
		return "", nil
	case And:
		return s.compileGroup(pb, f, " AND ", "1=1")
	case Or:
		return s.compileGroup(pb, f, " OR ", "1=0")
	case Cond:
		return s.compileCond(pb, f)
	}
	return "", fmt.Errorf("unsupported filter %T", f)
}

func (s *SQLStore) compileGroup(pb ParamBuilder, children []Filter, sep, empty string) (string, error) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := s.compileFilter(pb, child)
		if err != nil {
			return "", err
		}
		if part == "" {
			part = "1=1"
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (s *SQLStore) compileCond(pb ParamBuilder, c Cond) (string, error) {
	isID := len(c.Path) == 1 && c.Path[0] == "id"
	if !isID && !c.Path.IsIdentifier() {
		return "", fmt.Errorf("path %q is not addressable in SQL", c.Path)
	}

	switch c.Op {
	case OpEq, OpNe:
		if isID {
			op := "="
			if c.Op == OpNe {
				op = "<>"
			}
			return fmt.Sprintf("id %s %s", op, pb.Add(fmt.Sprint(c.Value))), nil
		}
		operand, err := s.jsonOperand(pb, c.Value)
		if err != nil {
			return "", err
		}
		op := "="
		if c.Op == OpNe {
			op = s.Dialect.DistinctOp()
		}
		return fmt.Sprintf("%s %s %s", s.Dialect.JSONValue(c.Path), op, operand), nil

	case OpContains, OpNotContains:
		pattern := "%" + escapeLike(textOf(c.Value)) + "%"
		expr := fmt.Sprintf(`COALESCE(%s, '') %s %s ESCAPE '\'`,
			s.textExpr(c.Path, isID), s.Dialect.LikeOp(), pb.Add(pattern))
		if c.Op == OpNotContains {
			return "NOT (" + expr + ")", nil
		}
		return expr, nil

	case OpIn:
		values, _ := c.Value.([]any)
		if isID {
			return s.Dialect.InExpr("id", pb, values), nil
		}
		if len(values) == 0 {
			return "1=0", nil
		}
		parts := make([]string, len(values))
		for i, v := range values {
			operand, err := s.jsonOperand(pb, v)
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("%s = %s", s.Dialect.JSONValue(c.Path), operand)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	return "", fmt.Errorf("unsupported operator %s", c.Op)
}

func (s *SQLStore) textExpr(p document.Path, isID bool) string {
	if isID {
		return "id"
	}
	return s.Dialect.JSONText(p)
}

// queryDocs executes a query selecting a single doc column and decodes
// every row.
func queryDocs(ctx context.Context, q Querier, sqlStr string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		doc := make(map[string]any)
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// Exec executes a statement and returns the number of rows affected.
func Exec(ctx context.Context, q Querier, sqlStr string, args ...any) (int64, error) {
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

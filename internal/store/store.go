package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"resume-backend/internal/config"
	"resume-backend/internal/document"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound        = errors.New("not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// TimestampLayout is the stored form of createdAt/updatedAt. It is fixed
// width so that lexical and chronological order agree in every backend.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t for storage.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DocumentStore is a collection-per-entity store of schemaless records.
// Every record carries a string "id"; documents come back JSON-normalized
// (numbers as float64, nested objects as map[string]any).
type DocumentStore interface {
	// EnsureCollection creates the collection and a unique index per path.
	EnsureCollection(ctx context.Context, name string, unique []string) error

	Find(ctx context.Context, coll string, q Query) ([]map[string]any, error)
	Count(ctx context.Context, coll string, f Filter) (int, error)
	// FindByID returns ErrNotFound when no record has the id.
	FindByID(ctx context.Context, coll, id string) (map[string]any, error)
	FindByIDs(ctx context.Context, coll string, ids []string) ([]map[string]any, error)

	// Insert assigns an id when the document has none and returns the
	// stored document.
	Insert(ctx context.Context, coll string, doc map[string]any) (map[string]any, error)
	// InsertMany inserts every document or none.
	InsertMany(ctx context.Context, coll string, docs []map[string]any) ([]map[string]any, error)

	// UpdateByID merges set (dotted keys address nested values) into the
	// record, stamps updatedAt and returns the result. ErrNotFound when
	// the record does not exist.
	UpdateByID(ctx context.Context, coll, id string, set map[string]any) (map[string]any, error)
	// UpdateMany applies set to each id and returns the ids updated.
	UpdateMany(ctx context.Context, coll string, ids []string, set map[string]any) ([]string, error)

	// DeleteByID reports whether a record was removed.
	DeleteByID(ctx context.Context, coll, id string) (bool, error)
	// DeleteMany returns the ids actually removed.
	DeleteMany(ctx context.Context, coll string, ids []string) ([]string, error)

	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (DocumentStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "sqlite", "":
		return NewSQLStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// prepareInsert normalizes doc and fills id and timestamps.
func prepareInsert(doc map[string]any, now time.Time) (map[string]any, error) {
	out, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if id, _ := out["id"].(string); id == "" {
		out["id"] = NewID()
	}
	ts := Timestamp(now)
	if _, ok := out["createdAt"]; !ok {
		out["createdAt"] = ts
	}
	if _, ok := out["updatedAt"]; !ok {
		out["updatedAt"] = out["createdAt"]
	}
	return out, nil
}

// applySet merges set into a normalized copy of doc. id and createdAt are
// immutable.
func applySet(doc, set map[string]any, now time.Time) (map[string]any, error) {
	patch, err := normalize(set)
	if err != nil {
		return nil, err
	}
	out, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	for key, v := range patch {
		if key == "id" || key == "createdAt" {
			continue
		}
		p, err := parseSetKey(key)
		if err != nil {
			return nil, err
		}
		p.Set(out, v)
	}
	out["updatedAt"] = Timestamp(now)
	return out, nil
}

// normalize deep-copies v through JSON so every backend sees identical
// value types. time.Time values become Timestamp strings.
func normalize(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(stampTimes(doc))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func stampTimes(v any) any {
	switch val := v.(type) {
	case time.Time:
		return Timestamp(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return Timestamp(*val)
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = stampTimes(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = stampTimes(inner)
		}
		return s
	case []map[string]any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = stampTimes(inner)
		}
		return s
	}
	return v
}

func parseSetKey(key string) (document.Path, error) {
	p, err := document.ParsePath(key)
	if err != nil {
		return nil, fmt.Errorf("update key %q: %w", key, err)
	}
	return p, nil
}

// normalizeValue passes a filter operand through the same JSON round trip
// as stored documents.
func normalizeValue(v any) any {
	wrapped, err := normalize(map[string]any{"v": v})
	if err != nil {
		return v
	}
	return wrapped["v"]
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

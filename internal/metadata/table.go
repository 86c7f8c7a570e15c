package metadata

import (
	"fmt"
	"strings"

	"resume-backend/internal/document"
)

// TableKind selects the side channels the engine applies to a table.
type TableKind string

const (
	KindRecords TableKind = "records"
	KindUsers   TableKind = "users"
	KindRoles   TableKind = "roles"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Reserved record keys maintained by the engine.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

type SearchFeature struct {
	Enabled bool     `json:"enabled"`
	Columns []string `json:"columns,omitempty"`
}

type PaginationFeature struct {
	Enabled  bool `json:"enabled"`
	PageSize int  `json:"pageSize,omitempty"`
}

type ToggleFeature struct {
	Enabled bool `json:"enabled"`
}

type ExportFeature struct {
	Enabled bool     `json:"enabled"`
	Fields  []string `json:"fields,omitempty"`
	Formats []string `json:"formats,omitempty"`
}

type RowSelectFeature struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"` // single | multiple
}

type BulkEditFeature struct {
	Enabled bool     `json:"enabled"`
	Columns []string `json:"columns,omitempty"`
}

type Features struct {
	Search           SearchFeature     `json:"search"`
	Pagination       PaginationFeature `json:"pagination"`
	Filter           ToggleFeature     `json:"filter"`
	ColumnVisibility ToggleFeature     `json:"columnVisibility"`
	Import           ToggleFeature     `json:"import"`
	Export           ExportFeature     `json:"export"`
	RowSelect        RowSelectFeature  `json:"rowSelect"`
	InlineEdit       ToggleFeature     `json:"inlineEdit"`
	BulkEdit         BulkEditFeature   `json:"bulkEdit"`
}

// Rule is an expression over `record` describing an invalid record.
type Rule struct {
	Expression string `json:"expression"`
	Message    string `json:"message"`
}

type Endpoints struct {
	Base   string `json:"base"`
	Upload string `json:"upload,omitempty"`
	File   string `json:"file,omitempty"`
}

// TableConfig binds a document collection to its columns, features and
// permission module.
type TableConfig struct {
	Slug       string       `json:"slug"`
	Title      string       `json:"title"`
	Collection string       `json:"collection"`
	Module     string       `json:"module"`
	Kind       TableKind    `json:"kind"`
	BlobBacked bool         `json:"blobBacked"`
	Columns    []Column     `json:"columns"`
	Features   Features     `json:"features"`
	Required   []string     `json:"required,omitempty"`
	Unique     []string     `json:"unique,omitempty"`
	Rules      []Rule       `json:"rules,omitempty"`
	Requires   []Capability `json:"requires,omitempty"`
	Endpoints  Endpoints    `json:"endpoints"`
}

// Column returns the column whose id or accessor is name, or nil.
func (t *TableConfig) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].ID == name || t.Columns[i].AccessorKey == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// SortColumn returns the sortable column called name, or nil.
func (t *TableConfig) SortColumn(name string) *Column {
	c := t.Column(name)
	if c == nil || !c.Sortable {
		return nil
	}
	return c
}

// FilterColumn returns the filterable column called name, or nil.
func (t *TableConfig) FilterColumn(name string) *Column {
	if !t.Features.Filter.Enabled {
		return nil
	}
	c := t.Column(name)
	if c == nil || !c.Filterable {
		return nil
	}
	return c
}

// SearchPaths returns the accessor paths declared searchable.
func (t *TableConfig) SearchPaths() []document.Path {
	if !t.Features.Search.Enabled {
		return nil
	}
	paths := make([]document.Path, 0, len(t.Features.Search.Columns))
	for _, name := range t.Features.Search.Columns {
		if p, ok := t.ResolvePath(name); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// IsSearchable reports whether name is one of the declared search columns.
func (t *TableConfig) IsSearchable(name string) bool {
	if !t.Features.Search.Enabled {
		return false
	}
	for _, s := range t.Features.Search.Columns {
		if s == name {
			return true
		}
		if c := t.Column(s); c != nil && (c.ID == name || c.AccessorKey == name) {
			return true
		}
	}
	return false
}

// ExportFields returns the accessors projected by an export. Without an
// explicit list every non-hidden column is exported.
func (t *TableConfig) ExportFields() []string {
	if len(t.Features.Export.Fields) > 0 {
		return t.Features.Export.Fields
	}
	var fields []string
	for _, c := range t.Columns {
		if c.Type == ColumnHidden {
			continue
		}
		fields = append(fields, c.AccessorKey)
	}
	return fields
}

// PageSize returns the configured default page size.
func (t *TableConfig) PageSize() int {
	ps := t.Features.Pagination.PageSize
	if ps <= 0 {
		return DefaultPageSize
	}
	if ps > MaxPageSize {
		return MaxPageSize
	}
	return ps
}

// ExportsFormat reports whether format may be requested. An empty format
// list allows every format.
func (t *TableConfig) ExportsFormat(format string) bool {
	if len(t.Features.Export.Formats) == 0 {
		return true
	}
	for _, f := range t.Features.Export.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// ResolvePath maps a column name or dotted path to a path that exists among
// the columns: either a column accessor or a path into a column value.
func (t *TableConfig) ResolvePath(name string) (document.Path, bool) {
	if c := t.Column(name); c != nil {
		return c.Path, true
	}
	p, err := document.ParsePath(name)
	if err != nil {
		return nil, false
	}
	switch name {
	case FieldID, FieldCreatedAt, FieldUpdatedAt:
		return p, true
	}
	for i := range t.Columns {
		if p.HasPrefix(t.Columns[i].Path) {
			return p, true
		}
	}
	return nil, false
}

// Validate checks that every path referenced by a feature resolves to a
// column and that import/export round trips keep required fields.
func (t *TableConfig) Validate() error {
	if t.Slug == "" {
		return fmt.Errorf("table config: slug is required")
	}
	if t.Collection == "" {
		t.Collection = t.Slug
	}
	if t.Module == "" {
		t.Module = t.Slug
	}
	if t.Title == "" {
		t.Title = t.Slug
	}
	switch t.Kind {
	case "":
		t.Kind = KindRecords
	case KindRecords, KindUsers, KindRoles:
	default:
		return fmt.Errorf("table %s: unknown kind %q", t.Slug, t.Kind)
	}
	if t.Endpoints.Base == "" {
		t.Endpoints.Base = "/table/" + t.Slug
	}

	seen := make(map[string]bool, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Path == nil {
			if err := c.compile(); err != nil {
				return fmt.Errorf("table %s: %w", t.Slug, err)
			}
		}
		if !c.Type.Valid() {
			return fmt.Errorf("table %s: column %s has unknown type %q", t.Slug, c.ID, c.Type)
		}
		if seen[c.ID] {
			return fmt.Errorf("table %s: duplicate column id %s", t.Slug, c.ID)
		}
		seen[c.ID] = true
	}

	refs := map[string][]string{
		"search":   t.Features.Search.Columns,
		"bulkEdit": t.Features.BulkEdit.Columns,
		"export":   t.Features.Export.Fields,
		"required": t.Required,
		"unique":   t.Unique,
	}
	for feature, names := range refs {
		for _, name := range names {
			if _, ok := t.ResolvePath(name); !ok {
				return fmt.Errorf("table %s: %s references unknown column %q", t.Slug, feature, name)
			}
		}
	}

	if t.Features.Export.Enabled && len(t.ExportFields()) == 0 {
		return fmt.Errorf("table %s: export is enabled but no column is exportable", t.Slug)
	}

	switch t.Features.RowSelect.Mode {
	case "":
		t.Features.RowSelect.Mode = "multiple"
	case "single", "multiple":
	default:
		return fmt.Errorf("table %s: unknown row select mode %q", t.Slug, t.Features.RowSelect.Mode)
	}

	if t.Features.Import.Enabled && t.Features.Export.Enabled {
		exported := make(map[string]bool)
		for _, f := range t.ExportFields() {
			exported[f] = true
		}
		for _, r := range t.Required {
			if !exported[r] {
				return fmt.Errorf("table %s: required field %q is not exported, import would not round-trip", t.Slug, r)
			}
		}
	}

	for _, r := range t.Rules {
		if strings.TrimSpace(r.Expression) == "" {
			return fmt.Errorf("table %s: rule with empty expression", t.Slug)
		}
	}
	return nil
}

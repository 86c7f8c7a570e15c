package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAll_BuiltinTables(t *testing.T) {
	reg := NewRegistry()
	if err := LoadAll(reg, ""); err != nil {
		t.Fatalf("load builtin tables: %v", err)
	}
	for _, slug := range []string{"resumes", "posts", "prompts", "statuses", "users", "roles", "settings"} {
		if reg.GetTable(slug) == nil {
			t.Fatalf("expected table %s to be registered", slug)
		}
	}
	if users := reg.TableByKind(KindUsers); users == nil || users.Slug != "users" {
		t.Fatalf("expected users table by kind, got %+v", users)
	}
	if reg.GetTable("users").Features.Import.Enabled {
		t.Fatal("users import must be disabled")
	}
	if !reg.GetTable("resumes").BlobBacked {
		t.Fatal("resumes must be blob-backed")
	}
}

func TestLoadAll_DirOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	override := `{
		"slug": "statuses",
		"title": "Pipeline Stages",
		"columns": [{"id": "name", "accessorKey": "name", "type": "text"}],
		"features": {"search": {"enabled": true, "columns": ["name"]}},
		"required": ["name"]
	}`
	if err := os.WriteFile(filepath.Join(dir, "statuses.json"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := LoadAll(reg, dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	st := reg.GetTable("statuses")
	if st.Title != "Pipeline Stages" {
		t.Fatalf("expected override title, got %s", st.Title)
	}
	if st.Collection != "statuses" || st.Module != "statuses" {
		t.Fatalf("expected collection/module defaulted from slug, got %s/%s", st.Collection, st.Module)
	}
	if reg.GetTable("resumes") == nil {
		t.Fatal("builtin tables must survive an override")
	}
}

func TestValidate_RejectsUnknownReferences(t *testing.T) {
	cases := map[string]string{
		"search":   `"features": {"search": {"enabled": true, "columns": ["nope"]}}`,
		"bulkEdit": `"features": {"bulkEdit": {"enabled": true, "columns": ["nope"]}}`,
		"required": `"required": ["nope"]`,
		"export":   `"features": {"export": {"enabled": true, "fields": ["nope"]}}`,
	}
	for name, fragment := range cases {
		t.Run(name, func(t *testing.T) {
			raw := `{"slug": "t", "columns": [{"id": "name", "type": "text"}], ` + fragment + `}`
			if _, err := ParseTable([]byte(raw)); err == nil {
				t.Fatalf("expected %s reference to be rejected", name)
			}
		})
	}
}

func TestValidate_AcceptsPathIntoNestedColumn(t *testing.T) {
	raw := `{
		"slug": "t",
		"columns": [{"id": "salary", "type": "address"}],
		"required": ["salary.min"]
	}`
	if _, err := ParseTable([]byte(raw)); err != nil {
		t.Fatalf("expected nested path to resolve: %v", err)
	}
}

func TestValidate_ExportMustCoverRequiredWhenImporting(t *testing.T) {
	raw := `{
		"slug": "t",
		"columns": [{"id": "name"}, {"id": "email", "type": "email"}],
		"features": {"import": {"enabled": true}, "export": {"enabled": true, "fields": ["name"]}},
		"required": ["name", "email"]
	}`
	_, err := ParseTable([]byte(raw))
	if err == nil || !strings.Contains(err.Error(), "round-trip") {
		t.Fatalf("expected round-trip error, got %v", err)
	}
}

func TestValidate_ExportNeedsAVisibleColumn(t *testing.T) {
	raw := `{
		"slug": "t",
		"columns": [{"id": "apiSecret", "type": "hidden"}],
		"features": {"export": {"enabled": true}}
	}`
	_, err := ParseTable([]byte(raw))
	if err == nil || !strings.Contains(err.Error(), "no column is exportable") {
		t.Fatalf("expected export without columns to be rejected, got %v", err)
	}
}

func TestColumn_RejectsUnknownType(t *testing.T) {
	var c Column
	if err := json.Unmarshal([]byte(`{"id": "x", "type": "rainbow"}`), &c); err == nil {
		t.Fatal("expected unknown column type to fail")
	}
}

func TestColumn_Defaults(t *testing.T) {
	var c Column
	if err := json.Unmarshal([]byte(`{"accessorKey": "contact.email", "type": "email"}`), &c); err != nil {
		t.Fatal(err)
	}
	if c.ID != "contact.email" {
		t.Fatalf("expected id to default to accessor, got %s", c.ID)
	}
	if !c.DefaultVisible {
		t.Fatal("expected columns visible by default")
	}
	if c.Path.String() != "contact.email" {
		t.Fatalf("expected compiled path, got %v", c.Path)
	}
}

func TestColumn_OperatorsFollowType(t *testing.T) {
	cases := []struct {
		typ  ColumnType
		want []FilterOperator
	}{
		{ColumnText, []FilterOperator{OpEquals, OpNotEquals, OpContains, OpNotContains}},
		{ColumnNumber, []FilterOperator{OpEquals, OpNotEquals}},
		{ColumnBoolean, []FilterOperator{OpEquals, OpNotEquals}},
		{ColumnDate, []FilterOperator{OpEquals, OpNotEquals}},
		{ColumnHidden, nil},
	}
	for _, tc := range cases {
		c := &Column{ID: "x", Type: tc.typ, Filterable: true}
		got := c.Operators()
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.typ, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: expected %v, got %v", tc.typ, tc.want, got)
			}
		}
	}

	notFilterable := &Column{ID: "x", Type: ColumnText}
	if notFilterable.AllowsOperator(OpEquals) {
		t.Fatal("non-filterable column must not allow operators")
	}
}

type typeNameVisitor struct{}

func (typeNameVisitor) Text(*Column) string     { return "text" }
func (typeNameVisitor) Email(*Column) string    { return "email" }
func (typeNameVisitor) Phone(*Column) string    { return "phone" }
func (typeNameVisitor) Number(*Column) string   { return "number" }
func (typeNameVisitor) Date(*Column) string     { return "date" }
func (typeNameVisitor) Select(*Column) string   { return "select" }
func (typeNameVisitor) Boolean(*Column) string  { return "boolean" }
func (typeNameVisitor) Address(*Column) string  { return "address" }
func (typeNameVisitor) Array(*Column) string    { return "array" }
func (typeNameVisitor) Color(*Column) string    { return "color" }
func (typeNameVisitor) Textarea(*Column) string { return "textarea" }
func (typeNameVisitor) Hidden(*Column) string   { return "hidden" }

func TestVisitColumn_DispatchesEveryType(t *testing.T) {
	for _, typ := range ColumnTypes {
		got := VisitColumn[string](&Column{Type: typ}, typeNameVisitor{})
		if got != string(typ) {
			t.Fatalf("expected %s visitor, got %s", typ, got)
		}
	}
}

func TestTableConfig_Lookups(t *testing.T) {
	reg := NewRegistry()
	if err := LoadAll(reg, ""); err != nil {
		t.Fatal(err)
	}
	resumes := reg.GetTable("resumes")

	if !resumes.IsSearchable("contact.email") || !resumes.IsSearchable("email") {
		t.Fatal("expected email searchable by accessor and by id")
	}
	if resumes.IsSearchable("summary") {
		t.Fatal("summary is not a search column")
	}
	if resumes.SortColumn("phone") != nil {
		t.Fatal("phone is not sortable")
	}
	if c := resumes.FilterColumn("status"); c == nil || c.Type != ColumnSelect {
		t.Fatalf("expected status filter column, got %+v", c)
	}
	if len(resumes.SearchPaths()) != 4 {
		t.Fatalf("expected 4 search paths, got %d", len(resumes.SearchPaths()))
	}
	if resumes.PageSize() != 10 {
		t.Fatalf("expected page size 10, got %d", resumes.PageSize())
	}
}

package tableview

import (
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"resume-backend/internal/metadata"
)

func newTestFormatter() *Formatter {
	color.NoColor = true
	return NewFormatter(time.UTC, StatusPalette{"new": "#10b981"})
}

func TestFormatCellScalars(t *testing.T) {
	f := newTestFormatter()
	cfg := loadTable(t, "resumes")

	tests := []struct {
		name   string
		column string
		value  any
		want   string
	}{
		{"nil", "name", nil, "-"},
		{"stored timestamp", "createdAt", "2024-03-09T14:30:00.000000Z", "09/03/2024 14:30"},
		{"time value", "name", time.Date(2024, 12, 31, 23, 5, 0, 0, time.UTC), "31/12/2024 23:05"},
		{"plain date string", "name", "2024-03-09", "09/03/2024 00:00"},
		{"currency flag", "expectedSalary", 1234.5, "$1,234.50"},
		{"negative currency", "expectedSalary", -20.0, "-$20.00"},
		{"grouped number", "experienceYears", 1234.5, "1,234.5"},
		{"integer", "experienceYears", 3.0, "3"},
		{"numeric string", "experienceYears", "12000", "12,000"},
		{"string array", "skills", []any{"Go", "SQL"}, "Go, SQL"},
		{"short text", "name", "Ada Lovelace", "Ada Lovelace"},
		{"hidden", "id", "abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.FormatValue(cfg.Column(tt.column), tt.value))
		})
	}
}

func TestFormatCellTruncatesRunes(t *testing.T) {
	f := newTestFormatter()
	col := loadTable(t, "resumes").Column("summary")

	assert.Equal(t, strings.Repeat("a", 50)+"...", f.FormatValue(col, strings.Repeat("a", 60)))
	assert.Equal(t, strings.Repeat("é", 50)+"...", f.FormatValue(col, strings.Repeat("é", 51)))
	assert.Equal(t, strings.Repeat("é", 50), f.FormatValue(col, strings.Repeat("é", 50)))
}

func TestFormatCellObjects(t *testing.T) {
	f := newTestFormatter()
	posts := loadTable(t, "posts")

	contacts := []any{
		map[string]any{"name": "Ada", "email": "ada@example.com"},
		map[string]any{"name": "Bob", "email": "bob@example.com"},
	}
	assert.Equal(t, "Ada <ada@example.com>, Bob <bob@example.com>", f.FormatValue(posts.Column("contacts"), contacts))

	budget := []any{map[string]any{"description": "Design", "quantity": 2.0, "price": 150.0}}
	assert.Equal(t, "Design ×2 @ $150.00", f.FormatValue(posts.Column("budget"), budget))

	rec := map[string]any{"salary": map[string]any{"min": 50000.0}}
	assert.Equal(t, "$50,000.00", f.FormatCell(posts.Column("salaryMin"), rec))
	assert.Equal(t, "-", f.FormatCell(posts.Column("salaryMax"), rec))

	assert.Equal(t, "Yes", f.FormatValue(posts.Column("remote"), true))
	assert.Equal(t, "No", f.FormatValue(posts.Column("remote"), "false"))

	long := make([]any, 0, 20)
	for i := 0; i < 20; i++ {
		long = append(long, "skill")
	}
	assert.True(t, strings.HasSuffix(f.FormatValue(loadTable(t, "resumes").Column("skills"), long), "..."))
}

func TestFormatCellPriceKeyword(t *testing.T) {
	f := newTestFormatter()
	col := &metadata.Column{ID: "total", AccessorKey: "invoice.totalAmount", Type: metadata.ColumnNumber}
	assert.Equal(t, "$1,000,000.00", f.FormatValue(col, 1e6))
}

func TestStatusPill(t *testing.T) {
	f := newTestFormatter()
	cfg := loadTable(t, "resumes")

	assert.Equal(t, "● New", f.FormatValue(cfg.Column("status"), "New"))
	assert.Equal(t, "#10b981", f.Palette.Color("NEW"))
	assert.Equal(t, DefaultPillColor, f.Palette.Color("Archived"))

	palette := PaletteFromRecords([]map[string]any{
		{"status": "Hired", "color": "#22c55e"},
		{"status": "Broken"},
	})
	assert.Equal(t, "#22c55e", palette.Color("hired"))
	assert.Equal(t, DefaultPillColor, palette.Color("Broken"))
}

func TestColorCell(t *testing.T) {
	f := newTestFormatter()
	col := loadTable(t, "statuses").Column("color")
	assert.Equal(t, "■ #ff0000", f.FormatValue(col, "#ff0000"))
	assert.Equal(t, "teal", f.FormatValue(col, "teal"))

	r, g, b, ok := parseHex("#abc")
	assert.True(t, ok)
	assert.Equal(t, []int{0xaa, 0xbb, 0xcc}, []int{r, g, b})
	_, _, _, ok = parseHex("#12")
	assert.False(t, ok)
}

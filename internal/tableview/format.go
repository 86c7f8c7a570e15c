package tableview

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"resume-backend/internal/metadata"
)

const (
	// MaxCellRunes is the display width of a text cell before truncation.
	MaxCellRunes = 50
	// DefaultPillColor is used for statuses missing from the palette.
	DefaultPillColor = "#6b7280"
	dateLayout       = "02/01/2006 15:04"
)

var (
	dateKeywords  = []string{"date", "createdat", "updatedat", "deadline", "time"}
	priceKeywords = []string{"price", "amount", "salary", "cost", "total"}
	dateLayouts   = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}
)

// StatusPalette maps status labels to hex colors.
type StatusPalette map[string]string

// PaletteFromRecords builds a palette from statuses table records.
func PaletteFromRecords(records []map[string]any) StatusPalette {
	p := make(StatusPalette, len(records))
	for _, r := range records {
		name, _ := r["status"].(string)
		hex, _ := r["color"].(string)
		if name != "" && hex != "" {
			p[strings.ToLower(name)] = hex
		}
	}
	return p
}

// Color returns the hex color for status, or DefaultPillColor.
func (p StatusPalette) Color(status string) string {
	if hex, ok := p[strings.ToLower(status)]; ok {
		return hex
	}
	return DefaultPillColor
}

// Formatter renders record values as display strings.
type Formatter struct {
	Location *time.Location
	Palette  StatusPalette
}

func NewFormatter(loc *time.Location, palette StatusPalette) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{Location: loc, Palette: palette}
}

// FormatCell renders the value of col in record.
func (f *Formatter) FormatCell(col *metadata.Column, record map[string]any) string {
	v, _ := col.Path.Get(record)
	return f.FormatValue(col, v)
}

// FormatValue renders v as a cell of col.
func (f *Formatter) FormatValue(col *metadata.Column, v any) string {
	if v == nil {
		return "-"
	}
	if col.Path.Last() == "status" {
		if s, ok := v.(string); ok {
			return f.Pill(s)
		}
	}
	return metadata.VisitColumn[string](col, cellVisitor{f: f, v: v})
}

// Pill renders status in its palette color.
func (f *Formatter) Pill(status string) string {
	r, g, b, ok := parseHex(f.Palette.Color(status))
	if !ok {
		r, g, b, _ = parseHex(DefaultPillColor)
	}
	return color.RGB(r, g, b).Add(color.Bold).Sprint("● " + status)
}

type cellVisitor struct {
	f *Formatter
	v any
}

func (cv cellVisitor) Text(c *metadata.Column) string     { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Email(c *metadata.Column) string    { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Phone(c *metadata.Column) string    { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Select(c *metadata.Column) string   { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Address(c *metadata.Column) string  { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Textarea(c *metadata.Column) string { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Array(c *metadata.Column) string    { return cv.f.generic(c, cv.v) }
func (cv cellVisitor) Hidden(*metadata.Column) string     { return "" }

func (cv cellVisitor) Number(c *metadata.Column) string {
	if n, ok := toFloat(cv.v); ok {
		return cv.f.number(c, n)
	}
	if s, ok := cv.v.(string); ok {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return cv.f.number(c, n)
		}
	}
	return cv.f.generic(c, cv.v)
}

func (cv cellVisitor) Date(c *metadata.Column) string {
	if s, ok := cv.v.(string); ok {
		if t, ok := parseDate(s); ok {
			return cv.f.date(t)
		}
		return truncate(s)
	}
	return cv.f.generic(c, cv.v)
}

func (cv cellVisitor) Boolean(c *metadata.Column) string {
	switch b := cv.v.(type) {
	case bool:
		return yesNo(b)
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return yesNo(parsed)
		}
	}
	return cv.f.generic(c, cv.v)
}

func (cv cellVisitor) Color(c *metadata.Column) string {
	s, ok := cv.v.(string)
	if !ok {
		return cv.f.generic(c, cv.v)
	}
	r, g, b, ok := parseHex(s)
	if !ok {
		return truncate(s)
	}
	return color.RGB(r, g, b).Sprint("■") + " " + s
}

func (f *Formatter) generic(c *metadata.Column, v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case time.Time:
		return f.date(t)
	case string:
		if parsed, ok := parseDate(t); ok {
			return f.date(parsed)
		}
		return truncate(t)
	case bool:
		return yesNo(t)
	case []any:
		return truncate(f.summarizeArray(c, t))
	case []string:
		return truncate(strings.Join(t, ", "))
	case map[string]any:
		return truncate(f.summarizeObject(t))
	}
	if n, ok := toFloat(v); ok {
		// epoch milliseconds in date-like columns
		if hasKeyword(c.AccessorKey, dateKeywords) {
			return f.date(time.UnixMilli(int64(n)))
		}
		return f.number(c, n)
	}
	return truncate(fmt.Sprint(v))
}

func (f *Formatter) date(t time.Time) string {
	return t.In(f.Location).Format(dateLayout)
}

func (f *Formatter) number(c *metadata.Column, n float64) string {
	if c.Currency || hasKeyword(c.AccessorKey, priceKeywords) {
		return currency(n)
	}
	return humanize.Commaf(n)
}

func (f *Formatter) summarizeArray(c *metadata.Column, items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			parts = append(parts, f.summarizeObject(t))
		case nil:
		default:
			parts = append(parts, f.generic(&metadata.Column{AccessorKey: c.AccessorKey}, t))
		}
	}
	return strings.Join(parts, ", ")
}

// summarizeObject renders contacts as "name <email>", line items as
// "description ×quantity @ $price" and anything else as its values in key
// order.
func (f *Formatter) summarizeObject(m map[string]any) string {
	name, hasName := m["name"].(string)
	email, hasEmail := m["email"].(string)
	if hasName && hasEmail {
		return fmt.Sprintf("%s <%s>", name, email)
	}

	desc, hasDesc := m["description"].(string)
	qty, hasQty := toFloat(m["quantity"])
	price, hasPrice := toFloat(m["price"])
	if hasDesc && hasQty && hasPrice {
		return fmt.Sprintf("%s ×%s @ %s", desc, humanize.Commaf(qty), currency(price))
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case map[string]any:
			parts = append(parts, f.summarizeObject(v))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ", ")
}

func currency(n float64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return sign + "$" + humanize.FormatFloat("#,###.##", n)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxCellRunes {
		return s
	}
	return string([]rune(s)[:MaxCellRunes]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func hasKeyword(accessor string, keywords []string) bool {
	lower := strings.ToLower(accessor)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case jsonNumber:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

type jsonNumber interface {
	Float64() (float64, error)
}

func parseHex(s string) (r, g, b int, ok bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true
}

package engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"

	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
)

const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
	FormatPDF   = "pdf"

	maxSheetName = 31
	pdfDateShape = "02/01/2006 15:04"
)

// exportFile is one rendered export.
type exportFile struct {
	ContentType string
	Extension   string
	Body        []byte
}

// Export handles GET /table/:slug?action=export&format=csv|excel|pdf.
func (h *Handler) Export(c *fiber.Ctx, t *metadata.TableConfig, p *metadata.Principal) error {
	if !t.Features.Export.Enabled {
		return BadRequestError(fmt.Sprintf("Export is not enabled for %s", t.Title))
	}
	if err := Authorize(p, tableCapabilities(t, metadata.ActionRead, metadata.CapBulkOperation)...); err != nil {
		return err
	}

	format := strings.ToLower(c.Query("format", FormatCSV))
	if format == "xlsx" {
		format = FormatExcel
	}
	switch format {
	case FormatCSV, FormatExcel, FormatPDF:
	default:
		return BadRequestError(fmt.Sprintf("Unsupported export format: %s", format))
	}
	if !t.ExportsFormat(format) {
		return BadRequestError(fmt.Sprintf("%s cannot be exported as %s", t.Title, format))
	}

	req, err := ParseListRequest(c, t)
	if err != nil {
		return err
	}
	items, err := FindAll(c.Context(), h.store, t, req)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return NoDataError(t.Slug)
	}
	if t.Kind == metadata.KindUsers {
		h.roles.AttachRoleNames(c.Context(), items)
	}

	now := h.now()
	out, err := RenderExport(t, items, format, now)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("%s-%s.%s", t.Slug, now.Format("20060102-150405"), out.Extension)
	c.Set(fiber.HeaderContentType, out.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(out.Body)
}

// RenderExport projects items onto the table's export fields and renders
// them in format.
func RenderExport(t *metadata.TableConfig, items []map[string]any, format string, now time.Time) (*exportFile, error) {
	fields := t.ExportFields()
	if len(fields) == 0 {
		return nil, BadRequestError(fmt.Sprintf("Table %s has no exportable columns", t.Slug))
	}
	switch format {
	case FormatCSV:
		body, err := renderCSV(t, fields, items)
		if err != nil {
			return nil, UpstreamError(fiber.StatusInternalServerError, fmt.Sprintf("CSV export failed: %v", err))
		}
		return &exportFile{ContentType: "text/csv; charset=utf-8", Extension: "csv", Body: body}, nil
	case FormatExcel:
		body, err := renderXLSX(t, fields, items)
		if err != nil {
			return nil, UpstreamError(fiber.StatusInternalServerError, fmt.Sprintf("Excel export failed: %v", err))
		}
		return &exportFile{
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Extension:   "xlsx",
			Body:        body,
		}, nil
	case FormatPDF:
		body, err := renderPDF(t, fields, items, now)
		if err != nil {
			return nil, UpstreamError(fiber.StatusInternalServerError, fmt.Sprintf("PDF export failed: %v", err))
		}
		return &exportFile{ContentType: "application/pdf", Extension: "pdf", Body: body}, nil
	}
	return nil, BadRequestError(fmt.Sprintf("Unsupported export format: %s", format))
}

func fieldValue(t *metadata.TableConfig, field string, item map[string]any) (any, *metadata.Column) {
	col := t.Column(field)
	p, ok := t.ResolvePath(field)
	if !ok {
		p = document.MustPath(field)
	}
	v, _ := p.Get(item)
	return v, col
}

func isDateField(field string, col *metadata.Column) bool {
	if col != nil && col.Type == metadata.ColumnDate {
		return true
	}
	return field == metadata.FieldCreatedAt || field == metadata.FieldUpdatedAt
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000000Z", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// csvCell encodes one value for CSV: nested values as JSON, dates as RFC 3339.
func csvCell(field string, col *metadata.Column, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if isDateField(field, col) {
			if ts, ok := parseTimestamp(val); ok {
				return ts.UTC().Format(time.RFC3339)
			}
		}
		return val
	case float64:
		return formatNumber(val)
	case bool:
		return strconv.FormatBool(val)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func renderCSV(t *metadata.TableConfig, fields []string, items []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	row := make([]string, len(fields))
	for _, item := range items {
		for i, f := range fields {
			v, col := fieldValue(t, f, item)
			row[i] = csvCell(f, col, v)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// sheetName trims a title to a valid worksheet name.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, title)
	if name == "" {
		name = "Export"
	}
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	return name
}

func renderXLSX(t *metadata.TableConfig, fields []string, items []map[string]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(t.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	header := make([]any, len(fields))
	for i, field := range fields {
		header[i] = field
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return nil, err
	}

	for r, item := range items {
		row := make([]any, len(fields))
		for i, field := range fields {
			v, col := fieldValue(t, field, item)
			switch val := v.(type) {
			case float64, bool:
				row[i] = val
			default:
				row[i] = csvCell(field, col, v)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pdfCell renders one value for the PDF report: nested objects flatten to
// "key: value | key: value" and dates to dd/mm/yyyy hh:mm.
func pdfCell(field string, col *metadata.Column, v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if ts, ok := parseTimestamp(val); ok && isDateField(field, col) {
			return ts.Format(pdfDateShape)
		}
		return val
	case float64:
		return formatNumber(val)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case map[string]any:
		flat := document.Flatten(val)
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, pdfCell(k, nil, flat[k])))
		}
		return strings.Join(parts, " | ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, pdfCell(field, nil, item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func renderPDF(t *metadata.TableConfig, fields []string, items []map[string]any, now time.Time) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(t.Title+" Report"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, tr("Generated: "+now.Format(pdfDateShape)), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colW := (pageW - left - right) / float64(len(fields))
	const rowH = 6.0

	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f
		if col := t.Column(f); col != nil && col.Header != "" {
			headers[i] = col.Header
		}
	}
	drawHeader := func() {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(229, 231, 235)
		for _, hdr := range headers {
			pdf.CellFormat(colW, rowH, tr(fitText(pdf, hdr, colW)), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
	}
	drawHeader()

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, item := range items {
		if pdf.GetY()+rowH > pageH-bottom {
			pdf.AddPage()
			drawHeader()
		}
		for _, f := range fields {
			v, col := fieldValue(t, f, item)
			pdf.CellFormat(colW, rowH, tr(fitText(pdf, pdfCell(f, col, v), colW)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fitText truncates s with "..." so it fits a cell of width w.
func fitText(pdf *fpdf.Fpdf, s string, w float64) string {
	limit := w - 2
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

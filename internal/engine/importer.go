package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
)

var csvContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/vnd.ms-excel": true,
}

// Import handles POST /table/:slug?action=import with a multipart "file".
func (h *Handler) Import(c *fiber.Ctx, t *metadata.TableConfig, p *metadata.Principal) error {
	if !t.Features.Import.Enabled {
		return BadRequestError(fmt.Sprintf("Import is not enabled for %s", t.Title))
	}
	if err := Authorize(p, writeCapabilities(t, metadata.ActionCreate, nil, true)...); err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return BadRequestError("Missing file in form data")
	}
	ctype := strings.ToLower(strings.TrimSpace(strings.Split(file.Header.Get("Content-Type"), ";")[0]))
	if !strings.EqualFold(filepath.Ext(file.Filename), ".csv") && !csvContentTypes[ctype] {
		return BadRequestError("Only CSV files can be imported")
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	rows, err := ParseCSV(t, src)
	if err != nil {
		return err
	}
	inserted, err := h.ImportRecords(c.Context(), t, rows)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, fmt.Sprintf("Imported %d %s records", len(inserted), t.Slug),
		fiber.Map{"insertedCount": len(inserted)})
}

// ParseCSV reads a header row and turns every following row into a nested
// record: dotted headers expand, empty cells are omitted and cells are
// typed by their column.
func ParseCSV(t *metadata.TableConfig, r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, BadRequestError("CSV file is empty")
	}
	if err != nil {
		return nil, BadRequestError(fmt.Sprintf("Invalid CSV: %v", err))
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, BadRequestError(fmt.Sprintf("Invalid CSV at row %d: %v", line, err))
		}
		flat := make(map[string]any, len(header))
		for i, key := range header {
			if key == "" || i >= len(rec) {
				continue
			}
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				continue
			}
			flat[key] = typedCell(t.Column(key), cell)
		}
		if len(flat) == 0 {
			continue
		}
		rows = append(rows, document.Expand(flat))
	}
	if len(rows) == 0 {
		return nil, BadRequestError("CSV file has no data rows")
	}
	return rows, nil
}

// typedCell reverses the CSV export encoding for a cell. Only structured
// columns, and fields that are not columns, decode JSON; scalar columns
// keep a leading bracket as text.
func typedCell(col *metadata.Column, cell string) any {
	structured := col == nil
	if col != nil {
		switch col.Type {
		case metadata.ColumnNumber:
			if f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil {
				return f
			}
		case metadata.ColumnBoolean:
			if b, err := strconv.ParseBool(cell); err == nil {
				return b
			}
		case metadata.ColumnArray:
			if !strings.HasPrefix(cell, "[") {
				var items []any
				for _, part := range strings.Split(cell, ";") {
					if s := strings.TrimSpace(part); s != "" {
						items = append(items, s)
					}
				}
				return items
			}
			structured = true
		case metadata.ColumnAddress, metadata.ColumnHidden:
			structured = true
		}
	}
	if structured && (strings.HasPrefix(cell, "[") || strings.HasPrefix(cell, "{")) {
		var v any
		if err := json.Unmarshal([]byte(cell), &v); err == nil {
			return v
		}
	}
	return cell
}

// ImportRecords validates every row, then inserts all of them in one
// all-or-nothing batch. No permission check; callers authorize first.
func (h *Handler) ImportRecords(ctx context.Context, t *metadata.TableConfig, rows []map[string]any) ([]map[string]any, error) {
	docs := make([]map[string]any, 0, len(rows))
	var errs []ErrorDetail
	for i, row := range rows {
		doc := sanitizeBody(t, row)
		for _, d := range ValidateRecord(t, doc, metadata.ActionCreate) {
			d.Message = fmt.Sprintf("Row %d: %s", i+2, d.Message)
			errs = append(errs, d)
		}
		docs = append(docs, doc)
	}
	if len(errs) > 0 {
		return nil, ValidationError(errs)
	}
	for _, doc := range docs {
		if err := h.checkRoleReference(ctx, t, doc); err != nil {
			return nil, err
		}
		if err := hashSecrets(doc); err != nil {
			return nil, err
		}
	}

	inserted, err := h.store.InsertMany(ctx, t.Collection, docs)
	if err != nil {
		return nil, h.storeError(t, err)
	}
	return inserted, nil
}

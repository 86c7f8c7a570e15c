package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/metadata"
	"resume-backend/internal/tableview"
)

var (
	colorOK     = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorErr    = color.New(color.FgRed, color.Bold).SprintFunc()
	colorInfo   = color.New(color.FgCyan).SprintFunc()
	colorWarn   = color.New(color.FgYellow).SprintFunc()
	colorHeader = color.New(color.FgMagenta, color.Bold).SprintFunc()
)

// renderGrid prints rows as a table of the given columns. Selected rows
// are marked in the first column.
func renderGrid(w io.Writer, cols []*metadata.Column, rows []map[string]any, f *tableview.Formatter, selected []string) {
	marked := make(map[string]bool, len(selected))
	for _, id := range selected {
		marked[id] = true
	}

	header := []string{" ", "ID"}
	for _, c := range cols {
		header = append(header, c.Header)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)

	for _, r := range rows {
		id, _ := r[metadata.FieldID].(string)
		mark := " "
		if marked[id] {
			mark = colorOK("✔")
		}
		line := []string{mark, id}
		for _, c := range cols {
			line = append(line, f.FormatCell(c, r))
		}
		table.Append(line)
	}
	table.Render()
}

func renderPagination(w io.Writer, p apiclient.Pagination) {
	if p.TotalItems == 0 {
		fmt.Fprintln(w, colorInfo("No records"))
		return
	}
	fmt.Fprintln(w, colorInfo(fmt.Sprintf("Page %d of %d (%d records, %d per page)",
		p.CurrentPage, p.TotalPages, p.TotalItems, p.PageSize)))
}

// renderDetail prints every column of one record, hidden ones included.
func renderDetail(w io.Writer, cfg *metadata.TableConfig, row map[string]any, f *tableview.Formatter) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	for i := range cfg.Columns {
		c := &cfg.Columns[i]
		v, _ := c.Path.Get(row)
		value := f.FormatValue(c, v)
		if c.Type == metadata.ColumnHidden {
			value = fmt.Sprint(v)
		}
		table.Append([]string{c.Header, value})
	}
	table.Render()
}

func renderTables(w io.Writer, tables []*metadata.TableConfig) {
	sort.Slice(tables, func(i, j int) bool { return tables[i].Slug < tables[j].Slug })
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Slug", "Title", "Columns", "Features"})
	table.SetAutoFormatHeaders(false)
	for _, t := range tables {
		table.Append([]string{t.Slug, t.Title, fmt.Sprint(len(t.Columns)), featureList(t.Features)})
	}
	table.Render()
}

func featureList(f metadata.Features) string {
	var on []string
	add := func(enabled bool, name string) {
		if enabled {
			on = append(on, name)
		}
	}
	add(f.Search.Enabled, "search")
	add(f.Filter.Enabled, "filter")
	add(f.Import.Enabled, "import")
	add(f.Export.Enabled, "export")
	add(f.RowSelect.Enabled, "select")
	add(f.BulkEdit.Enabled, "bulk-edit")
	return strings.Join(on, ", ")
}

// renderError prints err with any per-field details from the server.
func renderError(w io.Writer, err error) {
	fmt.Fprintln(w, colorErr("Error:"), err)
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		for _, d := range apiErr.Details {
			field := d.Field
			if field == "" {
				field = "record"
			}
			fmt.Fprintf(w, "  %s %s\n", colorWarn(field+":"), d.Message)
		}
	}
}

func renderNotification(w io.Writer, n *tableview.Notification) {
	if n == nil {
		return
	}
	fmt.Fprintln(w, colorErr(n.Message))
	for _, d := range n.Details {
		fmt.Fprintf(w, "  %s %s\n", colorWarn(d.Field+":"), d.Message)
	}
}

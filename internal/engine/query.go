package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
	"resume-backend/internal/store"
)

var updatedAtPath = document.Path{metadata.FieldUpdatedAt}

// Pagination is the page metadata of a list response. CurrentPage is 1-based.
type Pagination struct {
	TotalItems  int `json:"totalItems"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}

// Page is the data of a list response.
type Page struct {
	Items      []map[string]any `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// BuildFilter compiles search and column filters into a store predicate:
// an OR of case-insensitive substring matches over the search columns,
// AND every active filter.
func BuildFilter(table *metadata.TableConfig, req *ListRequest) (store.Filter, error) {
	var and store.And

	if req.Search != "" {
		paths, err := searchPaths(table, req.SearchColumns)
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			or := make(store.Or, 0, len(paths))
			for _, p := range paths {
				or = append(or, store.Contains(p, req.Search))
			}
			and = append(and, or)
		}
	}

	for _, f := range req.ActiveFilters() {
		cond, err := filterCond(table, f)
		if err != nil {
			return nil, err
		}
		and = append(and, cond)
	}

	if len(and) == 0 {
		return nil, nil
	}
	return and, nil
}

func searchPaths(table *metadata.TableConfig, requested []string) ([]document.Path, error) {
	if len(requested) == 0 {
		return table.SearchPaths(), nil
	}
	var invalid []ErrorDetail
	paths := make([]document.Path, 0, len(requested))
	for _, name := range requested {
		if !table.IsSearchable(name) {
			invalid = append(invalid, ErrorDetail{
				Field:   name,
				Rule:    "searchable",
				Message: fmt.Sprintf("Column %s is not searchable", name),
			})
			continue
		}
		p, _ := table.ResolvePath(name)
		paths = append(paths, p)
	}
	if len(invalid) > 0 {
		return nil, ValidationError(invalid)
	}
	return paths, nil
}

func filterCond(table *metadata.TableConfig, f FilterValue) (store.Filter, error) {
	col := table.FilterColumn(f.Column)
	if col == nil {
		return nil, ValidationError([]ErrorDetail{{
			Field: f.Column, Rule: "filterable",
			Message: fmt.Sprintf("Column %s is not filterable", f.Column),
		}})
	}
	if !col.AllowsOperator(f.Operator) {
		return nil, ValidationError([]ErrorDetail{{
			Field: f.Column, Rule: "operator",
			Message: fmt.Sprintf("Operator %q is not valid for column %s", f.Operator, f.Column),
		}})
	}

	switch f.Operator {
	case metadata.OpContains:
		return store.Contains(col.Path, fmt.Sprint(f.Value)), nil
	case metadata.OpNotContains:
		return store.NotContains(col.Path, fmt.Sprint(f.Value)), nil
	}

	v, err := coerceFilterValue(col, f.Value)
	if err != nil {
		return nil, ValidationError([]ErrorDetail{{Field: f.Column, Rule: "type", Message: err.Error()}})
	}
	if f.Operator == metadata.OpNotEquals {
		return store.Ne(col.Path, v), nil
	}
	return store.Eq(col.Path, v), nil
}

// coerceFilterValue converts a filter value to the column's storage type:
// numbers for number columns, booleans for boolean columns, else strings.
func coerceFilterValue(col *metadata.Column, v any) (any, error) {
	switch col.Type {
	case metadata.ColumnNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("%s expects a number, got %q", col.ID, n)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%s expects a number", col.ID)
	case metadata.ColumnBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("%s expects true or false, got %q", col.ID, b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("%s expects true or false", col.ID)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// BuildSort returns the explicit sort, if any, followed by updatedAt desc.
func BuildSort(table *metadata.TableConfig, req *ListRequest) ([]store.SortField, error) {
	tiebreak := store.SortField{Path: updatedAtPath, Desc: true}
	if req.Sort == "" {
		return []store.SortField{tiebreak}, nil
	}
	col := table.SortColumn(req.Sort)
	if col == nil {
		return nil, ValidationError([]ErrorDetail{{
			Field: req.Sort, Rule: "sortable",
			Message: fmt.Sprintf("Column %s is not sortable", req.Sort),
		}})
	}
	sort := []store.SortField{{Path: col.Path, Desc: req.Order == "desc"}}
	if col.AccessorKey != metadata.FieldUpdatedAt {
		sort = append(sort, tiebreak)
	}
	return sort, nil
}

// ExecuteList runs the count and page queries for req and redacts secrets
// from every returned record.
func ExecuteList(ctx context.Context, s store.DocumentStore, table *metadata.TableConfig, req *ListRequest) (*Page, error) {
	filter, err := BuildFilter(table, req)
	if err != nil {
		return nil, err
	}
	sort, err := BuildSort(table, req)
	if err != nil {
		return nil, err
	}

	total, err := s.Count(ctx, table.Collection, filter)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", table.Slug, err)
	}

	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = table.PageSize()
	}
	page := req.Page
	if !table.Features.Pagination.Enabled {
		page = 1
		if total > pageSize {
			pageSize = total
		}
	}
	totalPages := (total + pageSize - 1) / pageSize
	if total > 0 && page > totalPages {
		return nil, RangeError(page, totalPages)
	}

	items, err := s.Find(ctx, table.Collection, store.Query{
		Filter: filter,
		Sort:   sort,
		Skip:   (page - 1) * pageSize,
		Limit:  pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table.Slug, err)
	}
	for _, item := range items {
		document.Redact(item)
	}
	if items == nil {
		items = []map[string]any{}
	}

	return &Page{
		Items: items,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	}, nil
}

// FindAll runs the list predicate and sort without pagination, for exports.
func FindAll(ctx context.Context, s store.DocumentStore, table *metadata.TableConfig, req *ListRequest) ([]map[string]any, error) {
	filter, err := BuildFilter(table, req)
	if err != nil {
		return nil, err
	}
	sort, err := BuildSort(table, req)
	if err != nil {
		return nil, err
	}
	items, err := s.Find(ctx, table.Collection, store.Query{Filter: filter, Sort: sort})
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", table.Slug, err)
	}
	for _, item := range items {
		document.Redact(item)
	}
	return items, nil
}

package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/metadata"
)

// FilterValue is one column filter as sent by the table client.
type FilterValue struct {
	Column   string                  `json:"column"`
	Operator metadata.FilterOperator `json:"operator"`
	Value    any                     `json:"value"`
}

// ListRequest carries the list, search and export parameters of a table
// request. Page is 1-based.
type ListRequest struct {
	Sort          string
	Order         string
	Search        string
	SearchColumns []string
	Page          int
	PageSize      int
	Filters       []FilterValue
}

// ParseListRequest reads the list parameters from the query string.
func ParseListRequest(c *fiber.Ctx, table *metadata.TableConfig) (*ListRequest, error) {
	req := &ListRequest{
		Sort:     strings.TrimSpace(c.Query("sort")),
		Order:    strings.ToLower(strings.TrimSpace(c.Query("order"))),
		Search:   strings.TrimSpace(c.Query("search")),
		Page:     1,
		PageSize: table.PageSize(),
	}

	switch req.Order {
	case "", "asc", "desc":
	default:
		return nil, BadRequestError(fmt.Sprintf("Invalid order: %s", req.Order))
	}

	if sc := c.Query("searchColumns"); sc != "" {
		req.SearchColumns = splitAndTrim(sc)
	}

	if p := c.Query("page"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			return nil, BadRequestError(fmt.Sprintf("Invalid page: %s", p))
		}
		req.Page = v
	}
	if ps := c.Query("pageSize"); ps != "" {
		v, err := strconv.Atoi(ps)
		if err != nil || v < 1 {
			return nil, BadRequestError(fmt.Sprintf("Invalid pageSize: %s", ps))
		}
		if v > metadata.MaxPageSize {
			v = metadata.MaxPageSize
		}
		req.PageSize = v
	}

	if raw := c.Query("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Filters); err != nil {
			return nil, BadRequestError("filters must be a JSON array of {column, operator, value}")
		}
	}
	return req, nil
}

// ActiveFilters drops filters whose value is empty.
func (r *ListRequest) ActiveFilters() []FilterValue {
	var out []FilterValue
	for _, f := range r.Filters {
		if isEmptyValue(f.Value) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	}
	return false
}

// idParam returns the record id from ?id= or the body.
func idParam(c *fiber.Ctx, body map[string]any) string {
	if id := strings.TrimSpace(c.Query("id")); id != "" {
		return id
	}
	if body != nil {
		if id, ok := body["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func splitAndTrim(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/metadata"
)

// queryFlags are the list parameters shared by list and export.
type queryFlags struct {
	search   string
	sort     string
	order    string
	filters  []string
	page     int
	pageSize int
}

func (q *queryFlags) register(cmd *cobra.Command, paging bool) {
	cmd.Flags().StringVarP(&q.search, "search", "s", "", "search text")
	cmd.Flags().StringVar(&q.sort, "sort", "", "sort column")
	cmd.Flags().StringVar(&q.order, "order", "asc", "sort order (asc, desc)")
	cmd.Flags().StringArrayVarP(&q.filters, "filter", "f", nil, "filter as column:operator:value (repeatable)")
	if paging {
		cmd.Flags().IntVarP(&q.page, "page", "p", 1, "page number (1-based)")
		cmd.Flags().IntVar(&q.pageSize, "page-size", 0, "records per page")
	}
}

func (q *queryFlags) params() (apiclient.ListParams, error) {
	p := apiclient.ListParams{
		Search:   q.search,
		Sort:     q.sort,
		Order:    q.order,
		Page:     q.page,
		PageSize: q.pageSize,
	}
	for _, raw := range q.filters {
		f, err := parseFilter(raw)
		if err != nil {
			return p, err
		}
		p.Filters = append(p.Filters, f)
	}
	return p, nil
}

// parseFilter reads "column:operator:value". The operator may be omitted
// for equals: "status:New".
func parseFilter(raw string) (apiclient.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	switch len(parts) {
	case 2:
		return apiclient.Filter{Column: parts[0], Operator: metadata.OpEquals, Value: parts[1]}, nil
	case 3:
		op := metadata.FilterOperator(parts[1])
		switch op {
		case metadata.OpEquals, metadata.OpNotEquals, metadata.OpContains, metadata.OpNotContains:
		default:
			return apiclient.Filter{}, fmt.Errorf("filter %q: unknown operator %q", raw, parts[1])
		}
		return apiclient.Filter{Column: parts[0], Operator: op, Value: parts[2]}, nil
	}
	return apiclient.Filter{}, fmt.Errorf("filter %q: want column:operator:value", raw)
}

package tableview

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/metadata"
)

func loadTable(t *testing.T, slug string) *metadata.TableConfig {
	t.Helper()
	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadAll(reg, ""))
	cfg := reg.GetTable(slug)
	require.NotNil(t, cfg, slug)
	return cfg
}

// fakeLister serves pages of generated rows. Calls whose search is "slow"
// block until release is closed.
type fakeLister struct {
	mu         sync.Mutex
	calls      []apiclient.ListParams
	totalPages int
	release    chan struct{}
	err        error
}

func newFakeLister(totalPages int) *fakeLister {
	return &fakeLister{totalPages: totalPages, release: make(chan struct{})}
}

func (f *fakeLister) List(ctx context.Context, slug string, p apiclient.ListParams) (*apiclient.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	err := f.err
	f.mu.Unlock()
	if p.Search == "slow" {
		<-f.release
	}
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, 3)
	for i := 1; i <= 3; i++ {
		items = append(items, map[string]any{
			"id":   fmt.Sprintf("p%d-r%d", p.Page, i),
			"name": fmt.Sprintf("%s %d", p.Search, i),
		})
	}
	return &apiclient.Page{
		Items: items,
		Pagination: apiclient.Pagination{
			TotalItems: f.totalPages * 3, TotalPages: f.totalPages,
			CurrentPage: p.Page, PageSize: p.PageSize,
		},
	}, nil
}

func (f *fakeLister) Calls() []apiclient.ListParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.ListParams(nil), f.calls...)
}

func (f *fakeLister) Last() apiclient.ListParams {
	calls := f.Calls()
	return calls[len(calls)-1]
}

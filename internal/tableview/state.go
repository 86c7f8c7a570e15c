// Package tableview holds the client-side state of a table: query
// parameters, the current page, selection and column preferences.
package tableview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/metadata"
)

// SearchDebounce is the delay between the last keystroke and the request.
const SearchDebounce = 300 * time.Millisecond

var (
	ErrFeatureDisabled = errors.New("feature disabled for this table")
	ErrPageOutOfRange  = errors.New("page out of range")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrUnknownRow      = errors.New("row not on the current page")
)

// Lister fetches one page of a table.
type Lister interface {
	List(ctx context.Context, slug string, p apiclient.ListParams) (*apiclient.Page, error)
}

type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type Sorting struct {
	Column    string
	Direction SortDirection
}

// View is a snapshot of the table state. PageIndex is 0-based.
type View struct {
	Rows       []map[string]any
	Pagination apiclient.Pagination
	PageIndex  int
	PageSize   int
	Search     string
	Sorting    Sorting
	Filters    []apiclient.Filter
	Selected   []string
	Detail     map[string]any
	Loading    bool
	Err        error
}

type Option func(*Table)

// WithDebounce overrides SearchDebounce.
func WithDebounce(d time.Duration) Option {
	return func(t *Table) { t.debounce = d }
}

// WithOnChange registers fn to receive a snapshot after every applied
// response.
func WithOnChange(fn func(View)) Option {
	return func(t *Table) { t.onChange = fn }
}

// Table is the state of one table view. It is safe for concurrent use.
// Responses are applied only when they answer the most recent request.
type Table struct {
	config   *metadata.TableConfig
	lister   Lister
	prefs    PreferencesStore
	debounce time.Duration
	onChange func(View)

	mu         sync.Mutex
	search     string
	sorting    Sorting
	filters    []apiclient.Filter
	pageIndex  int
	pageSize   int
	visible    map[string]bool
	selected   []string
	detailID   string
	rows       []map[string]any
	pagination apiclient.Pagination
	latest     uint64
	loading    bool
	err        error
	timer      *time.Timer
}

// NewTable builds the view state for cfg. Saved preferences override the
// configured defaults; a nil store keeps preferences in memory.
func NewTable(cfg *metadata.TableConfig, lister Lister, prefs PreferencesStore, opts ...Option) *Table {
	if prefs == nil {
		prefs = NewMemoryPreferences()
	}
	t := &Table{
		config:   cfg,
		lister:   lister,
		prefs:    prefs,
		debounce: SearchDebounce,
		pageSize: cfg.PageSize(),
		visible:  make(map[string]bool),
	}
	for _, o := range opts {
		o(t)
	}

	saved, ok, err := prefs.Load(cfg.Slug)
	if err != nil {
		log.Printf("WARN: load preferences for %s: %v", cfg.Slug, err)
	}
	if ok && len(saved.VisibleColumns) > 0 {
		for _, id := range saved.VisibleColumns {
			if c := cfg.Column(id); c != nil && c.Type != metadata.ColumnHidden {
				t.visible[c.ID] = true
			}
		}
	} else {
		for _, c := range cfg.Columns {
			if c.DefaultVisible && c.Type != metadata.ColumnHidden {
				t.visible[c.ID] = true
			}
		}
	}
	if ok && saved.PageSize > 0 && saved.PageSize <= metadata.MaxPageSize {
		t.pageSize = saved.PageSize
	}
	return t
}

func (t *Table) Config() *metadata.TableConfig { return t.config }

// VisibleColumns returns the displayed columns in configuration order.
func (t *Table) VisibleColumns() []*metadata.Column {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cols []*metadata.Column
	for i := range t.config.Columns {
		c := &t.config.Columns[i]
		if t.visible[c.ID] {
			cols = append(cols, c)
		}
	}
	return cols
}

// ToggleColumn shows or hides a column and persists the choice.
func (t *Table) ToggleColumn(id string) error {
	if !t.config.Features.ColumnVisibility.Enabled {
		return fmt.Errorf("column visibility: %w", ErrFeatureDisabled)
	}
	c := t.config.Column(id)
	if c == nil || c.Type == metadata.ColumnHidden {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, id)
	}

	t.mu.Lock()
	if t.visible[c.ID] {
		delete(t.visible, c.ID)
	} else {
		t.visible[c.ID] = true
	}
	prefs := t.preferencesLocked()
	t.mu.Unlock()
	return t.prefs.Save(t.config.Slug, prefs)
}

func (t *Table) preferencesLocked() Preferences {
	p := Preferences{PageSize: t.pageSize}
	for _, c := range t.config.Columns {
		if t.visible[c.ID] {
			p.VisibleColumns = append(p.VisibleColumns, c.ID)
		}
	}
	return p
}

// SetSearch records the search text and schedules a refresh once typing
// pauses for the debounce interval.
func (t *Table) SetSearch(ctx context.Context, text string) error {
	if !t.config.Features.Search.Enabled {
		return fmt.Errorf("search: %w", ErrFeatureDisabled)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.search = text
	t.pageIndex = 0
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		if _, err := t.Refresh(ctx); err != nil {
			log.Printf("WARN: search refresh for %s: %v", t.config.Slug, err)
		}
	})
	return nil
}

// ApplySearch sets the search text and refreshes immediately, cancelling
// any pending debounced refresh.
func (t *Table) ApplySearch(ctx context.Context, text string) error {
	if !t.config.Features.Search.Enabled {
		return fmt.Errorf("search: %w", ErrFeatureDisabled)
	}
	t.mu.Lock()
	t.search = text
	t.pageIndex = 0
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	_, err := t.Refresh(ctx)
	return err
}

// ToggleSort cycles column through ascending, descending and unsorted.
func (t *Table) ToggleSort(ctx context.Context, column string) error {
	c := t.config.SortColumn(column)
	if c == nil {
		return fmt.Errorf("%w: %s is not sortable", ErrUnknownColumn, column)
	}
	t.mu.Lock()
	switch {
	case t.sorting.Column != c.ID || t.sorting.Direction == SortNone:
		t.sorting = Sorting{Column: c.ID, Direction: SortAsc}
	case t.sorting.Direction == SortAsc:
		t.sorting.Direction = SortDesc
	default:
		t.sorting = Sorting{}
	}
	t.mu.Unlock()
	_, err := t.Refresh(ctx)
	return err
}

// SetFilters replaces the column filters. Filters without a value are
// dropped.
func (t *Table) SetFilters(ctx context.Context, filters []apiclient.Filter) error {
	if len(filters) > 0 && !t.config.Features.Filter.Enabled {
		return fmt.Errorf("filter: %w", ErrFeatureDisabled)
	}
	kept := make([]apiclient.Filter, 0, len(filters))
	for _, f := range filters {
		if blankFilterValue(f.Value) {
			continue
		}
		c := t.config.FilterColumn(f.Column)
		if c == nil {
			return fmt.Errorf("%w: %s is not filterable", ErrUnknownColumn, f.Column)
		}
		if !c.AllowsOperator(f.Operator) {
			return fmt.Errorf("operator %q not allowed on %s", f.Operator, f.Column)
		}
		kept = append(kept, f)
	}

	t.mu.Lock()
	t.filters = kept
	t.pageIndex = 0
	t.mu.Unlock()
	_, err := t.Refresh(ctx)
	return err
}

// blankFilterValue matches the values the server ignores as filters.
func blankFilterValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}

// SetPage moves to the 0-based page index.
func (t *Table) SetPage(ctx context.Context, index int) error {
	t.mu.Lock()
	total := t.pagination.TotalPages
	if index < 0 || (total > 0 && index >= total) || (total == 0 && index > 0) {
		t.mu.Unlock()
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, index+1, total)
	}
	t.pageIndex = index
	t.mu.Unlock()
	_, err := t.Refresh(ctx)
	return err
}

func (t *Table) NextPage(ctx context.Context) error {
	t.mu.Lock()
	next := t.pageIndex + 1
	t.mu.Unlock()
	return t.SetPage(ctx, next)
}

func (t *Table) PrevPage(ctx context.Context) error {
	t.mu.Lock()
	prev := t.pageIndex - 1
	t.mu.Unlock()
	return t.SetPage(ctx, prev)
}

// SetPageSize changes the page size, returns to the first page and
// persists the choice.
func (t *Table) SetPageSize(ctx context.Context, size int) error {
	if size < 1 || size > metadata.MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d", metadata.MaxPageSize)
	}
	t.mu.Lock()
	t.pageSize = size
	t.pageIndex = 0
	prefs := t.preferencesLocked()
	t.mu.Unlock()
	if err := t.prefs.Save(t.config.Slug, prefs); err != nil {
		log.Printf("WARN: save preferences for %s: %v", t.config.Slug, err)
	}
	_, err := t.Refresh(ctx)
	return err
}

// Params returns the list parameters for the current state.
func (t *Table) Params() apiclient.ListParams {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paramsLocked()
}

func (t *Table) paramsLocked() apiclient.ListParams {
	p := apiclient.ListParams{
		Search:   t.search,
		Page:     t.pageIndex + 1,
		PageSize: t.pageSize,
		Filters:  append([]apiclient.Filter(nil), t.filters...),
	}
	if t.sorting.Direction != SortNone {
		p.Sort = t.sorting.Column
		p.Order = string(t.sorting.Direction)
	}
	return p
}

// Refresh requests the current page. applied is false when a newer
// request was issued before this one returned; its result is discarded.
func (t *Table) Refresh(ctx context.Context) (applied bool, err error) {
	t.mu.Lock()
	t.latest++
	token := t.latest
	params := t.paramsLocked()
	t.loading = true
	t.mu.Unlock()

	page, err := t.lister.List(ctx, t.config.Slug, params)

	t.mu.Lock()
	if token != t.latest {
		t.mu.Unlock()
		return false, nil
	}
	t.loading = false
	t.err = err
	if err == nil {
		t.rows = page.Items
		t.pagination = page.Pagination
	}
	view := t.viewLocked()
	onChange := t.onChange
	t.mu.Unlock()

	if onChange != nil {
		onChange(view)
	}
	return true, err
}

// View returns a snapshot of the current state.
func (t *Table) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Table) viewLocked() View {
	v := View{
		Rows:       append([]map[string]any(nil), t.rows...),
		Pagination: t.pagination,
		PageIndex:  t.pageIndex,
		PageSize:   t.pageSize,
		Search:     t.search,
		Sorting:    t.sorting,
		Filters:    append([]apiclient.Filter(nil), t.filters...),
		Selected:   append([]string(nil), t.selected...),
		Loading:    t.loading,
		Err:        t.err,
	}
	if t.detailID != "" {
		v.Detail = t.rowLocked(t.detailID)
	}
	return v
}

func (t *Table) rowLocked(id string) map[string]any {
	for _, r := range t.rows {
		if rid, _ := r[metadata.FieldID].(string); rid == id {
			return r
		}
	}
	return nil
}

// Select marks a row. In single mode it replaces the previous selection.
func (t *Table) Select(id string) error {
	rs := t.config.Features.RowSelect
	if !rs.Enabled {
		return fmt.Errorf("row select: %w", ErrFeatureDisabled)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rowLocked(id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRow, id)
	}
	if rs.Mode == "single" {
		t.selected = []string{id}
		return nil
	}
	for _, s := range t.selected {
		if s == id {
			return nil
		}
	}
	t.selected = append(t.selected, id)
	return nil
}

// Deselect clears one row from the selection.
func (t *Table) Deselect(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selected = without(t.selected, map[string]bool{id: true})
}

// SelectPage selects every row on the current page in multiple mode.
func (t *Table) SelectPage() error {
	rs := t.config.Features.RowSelect
	if !rs.Enabled || rs.Mode == "single" {
		return fmt.Errorf("select all: %w", ErrFeatureDisabled)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	have := make(map[string]bool, len(t.selected))
	for _, s := range t.selected {
		have[s] = true
	}
	for _, r := range t.rows {
		if id, _ := r[metadata.FieldID].(string); id != "" && !have[id] {
			t.selected = append(t.selected, id)
		}
	}
	return nil
}

func (t *Table) ClearSelection() {
	t.mu.Lock()
	t.selected = nil
	t.mu.Unlock()
}

// Selected returns the selected ids in selection order.
func (t *Table) Selected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.selected...)
}

// BulkActionsEnabled reports whether at least one row is selected.
func (t *Table) BulkActionsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.selected) > 0
}

// ShowDetail opens the detail view of a row on the current page.
func (t *Table) ShowDetail(id string) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.rowLocked(id)
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRow, id)
	}
	t.detailID = id
	return row, nil
}

func (t *Table) CloseDetail() {
	t.mu.Lock()
	t.detailID = ""
	t.mu.Unlock()
}

// ApplyRecord merges a record returned by the server into the current
// page, replacing the row with the same id or prepending a new one.
func (t *Table) ApplyRecord(rec map[string]any) {
	id, _ := rec[metadata.FieldID].(string)
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if rid, _ := r[metadata.FieldID].(string); rid == id {
			t.rows[i] = rec
			return
		}
	}
	t.rows = append([]map[string]any{rec}, t.rows...)
	t.pagination.TotalItems++
}

// RemoveRows drops deleted ids from the page and the selection.
func (t *Table) RemoveRows(ids []string) {
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.rows[:0:0]
	for _, r := range t.rows {
		if id, _ := r[metadata.FieldID].(string); gone[id] {
			t.pagination.TotalItems--
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	t.selected = without(t.selected, gone)
	if gone[t.detailID] {
		t.detailID = ""
	}
}

// Close stops a pending debounced refresh.
func (t *Table) Close() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
}

func without(ids []string, drop map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

package metadata

import (
	"sort"
	"sync"
)

type Registry struct {
	mu     sync.RWMutex
	tables map[string]*TableConfig
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*TableConfig)}
}

// GetTable returns the table with the given slug, or nil.
func (r *Registry) GetTable(slug string) *TableConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[slug]
}

// TableByKind returns the first table of the given kind, or nil.
func (r *Registry) TableByKind(kind TableKind) *TableConfig {
	for _, t := range r.AllTables() {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

// AllTables returns all registered tables ordered by slug.
func (r *Registry) AllTables() []*TableConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]*TableConfig, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Slug < tables[j].Slug })
	return tables
}

// Modules returns the distinct permission modules of all tables.
func (r *Registry) Modules() []string {
	seen := make(map[string]bool)
	var modules []string
	for _, t := range r.AllTables() {
		if !seen[t.Module] {
			seen[t.Module] = true
			modules = append(modules, t.Module)
		}
	}
	return modules
}

// Load replaces all tables in the registry.
func (r *Registry) Load(tables []*TableConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = make(map[string]*TableConfig, len(tables))
	for _, t := range tables {
		r.tables[t.Slug] = t
	}
}

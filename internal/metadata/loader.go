package metadata

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed tables/*.json
var builtinTables embed.FS

// LoadAll reads the built-in table configurations, overlays any found in
// dir (same slug replaces), validates them and populates the registry.
// An invalid configuration fails the whole load.
func LoadAll(reg *Registry, dir string) error {
	tables, err := loadFS(builtinTables, "tables")
	if err != nil {
		return fmt.Errorf("load builtin tables: %w", err)
	}

	if dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			overrides, err := loadFS(os.DirFS(dir), ".")
			if err != nil {
				return fmt.Errorf("load tables from %s: %w", dir, err)
			}
			tables = merge(tables, overrides)
		} else {
			log.Printf("WARN: tables dir %s not readable, using built-in tables: %v", dir, statErr)
		}
	}

	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	reg.Load(tables)
	log.Printf("Loaded %d tables into registry", len(tables))
	return nil
}

// ParseTable decodes a single table configuration and validates it.
func ParseTable(data []byte) (*TableConfig, error) {
	var t TableConfig
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func loadFS(fsys fs.FS, root string) ([]*TableConfig, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var tables []*TableConfig
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, e.Name())))
		if err != nil {
			return nil, err
		}
		var t TableConfig
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		tables = append(tables, &t)
	}
	return tables, nil
}

func merge(base, overrides []*TableConfig) []*TableConfig {
	bySlug := make(map[string]*TableConfig, len(base)+len(overrides))
	for _, t := range base {
		bySlug[t.Slug] = t
	}
	for _, t := range overrides {
		bySlug[t.Slug] = t
	}
	out := make([]*TableConfig, 0, len(bySlug))
	for _, t := range bySlug {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

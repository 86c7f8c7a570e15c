package tableview

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Preferences are the per-table view settings kept between sessions.
type Preferences struct {
	VisibleColumns []string `json:"visibleColumns"`
	PageSize       int      `json:"pageSize,omitempty"`
}

// PreferencesStore persists Preferences keyed by table slug. Load reports
// ok=false when nothing was saved for the table.
type PreferencesStore interface {
	Load(table string) (prefs Preferences, ok bool, err error)
	Save(table string, prefs Preferences) error
}

type MemoryPreferences struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{prefs: make(map[string]Preferences)}
}

func (m *MemoryPreferences) Load(table string) (Preferences, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[table]
	if !ok {
		return Preferences{}, false, nil
	}
	p.VisibleColumns = append([]string(nil), p.VisibleColumns...)
	return p, true, nil
}

func (m *MemoryPreferences) Save(table string, p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.VisibleColumns = append([]string(nil), p.VisibleColumns...)
	m.prefs[table] = p
	return nil
}

// FilePreferences keeps every table's preferences in one JSON file.
type FilePreferences struct {
	path string
	mu   sync.Mutex
}

func NewFilePreferences(path string) *FilePreferences {
	return &FilePreferences{path: path}
}

func (f *FilePreferences) Load(table string) (Preferences, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return Preferences{}, false, err
	}
	p, ok := all[table]
	return p, ok, nil
}

func (f *FilePreferences) Save(table string, p Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	all[table] = p

	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FilePreferences) read() (map[string]Preferences, error) {
	all := make(map[string]Preferences)
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", f.path, err)
	}
	return all, nil
}

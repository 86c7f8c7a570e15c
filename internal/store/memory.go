package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"resume-backend/internal/document"
)

const btreeDegree = 32

type memDoc struct {
	id  string
	doc map[string]any
}

func memDocLess(a, b memDoc) bool { return a.id < b.id }

// uniqueKey maps an indexed value to the record holding it.
type uniqueKey struct {
	value string
	id    string
}

func uniqueKeyLess(a, b uniqueKey) bool { return a.value < b.value }

type memIndex struct {
	path document.Path
	tree *btree.BTreeG[uniqueKey]
}

type memCollection struct {
	docs    *btree.BTreeG[memDoc]
	indexes []*memIndex
}

func newMemCollection() *memCollection {
	return &memCollection{docs: btree.NewG[memDoc](btreeDegree, memDocLess)}
}

// MemoryStore keeps every collection in a B-tree ordered by id. It serves
// tests and single-process deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		now:         time.Now,
	}
}

// collection returns the named collection, creating it on first use.
// Callers hold the write lock.
func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = newMemCollection()
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, unique []string) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)

	for _, accessor := range unique {
		p, err := document.ParsePath(accessor)
		if err != nil {
			return err
		}
		exists := false
		for _, idx := range c.indexes {
			if idx.path.String() == p.String() {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		idx := &memIndex{path: p, tree: btree.NewG[uniqueKey](btreeDegree, uniqueKeyLess)}
		var dupErr error
		c.docs.Ascend(func(d memDoc) bool {
			if key, ok := indexKey(idx.path, d.doc); ok {
				if _, found := idx.tree.Get(uniqueKey{value: key}); found {
					dupErr = fmt.Errorf("%w: %s.%s", ErrUniqueViolation, name, accessor)
					return false
				}
				idx.tree.ReplaceOrInsert(uniqueKey{value: key, id: d.id})
			}
			return true
		})
		if dupErr != nil {
			return dupErr
		}
		c.indexes = append(c.indexes, idx)
	}
	return nil
}

// indexKey returns the unique-index key of the value at p. Missing and
// null values are not indexed.
func indexKey(p document.Path, doc map[string]any) (string, bool) {
	v, ok := p.Get(doc)
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprintf("%d:%s", typeRank(v), textOf(v)), true
}

// checkUnique reports a violation if doc would collide with another record.
func (c *memCollection) checkUnique(coll string, doc map[string]any) error {
	id, _ := doc["id"].(string)
	for _, idx := range c.indexes {
		key, ok := indexKey(idx.path, doc)
		if !ok {
			continue
		}
		if existing, found := idx.tree.Get(uniqueKey{value: key}); found && existing.id != id {
			return fmt.Errorf("%w: %s.%s", ErrUniqueViolation, coll, idx.path)
		}
	}
	return nil
}

// stagingIndexes returns an empty collection sharing copies of c's unique
// indexes, used to validate a batch before applying it.
func (c *memCollection) stagingIndexes() *memCollection {
	staged := newMemCollection()
	for _, idx := range c.indexes {
		staged.indexes = append(staged.indexes, &memIndex{path: idx.path, tree: idx.tree.Clone()})
	}
	return staged
}

func (c *memCollection) put(doc map[string]any) {
	id := doc["id"].(string)
	if old, found := c.docs.Get(memDoc{id: id}); found {
		c.unindex(old.doc)
	}
	c.docs.ReplaceOrInsert(memDoc{id: id, doc: doc})
	c.index(doc)
}

func (c *memCollection) index(doc map[string]any) {
	id, _ := doc["id"].(string)
	for _, idx := range c.indexes {
		if key, ok := indexKey(idx.path, doc); ok {
			idx.tree.ReplaceOrInsert(uniqueKey{value: key, id: id})
		}
	}
}

func (c *memCollection) remove(id string) bool {
	old, found := c.docs.Delete(memDoc{id: id})
	if !found {
		return false
	}
	c.unindex(old.doc)
	return true
}

func (c *memCollection) unindex(doc map[string]any) {
	for _, idx := range c.indexes {
		if key, ok := indexKey(idx.path, doc); ok {
			idx.tree.Delete(uniqueKey{value: key})
		}
	}
}

func (s *MemoryStore) Find(_ context.Context, coll string, q Query) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []map[string]any{}
	c, ok := s.collections[coll]
	if !ok {
		return results, nil
	}
	f := normalizeFilter(q.Filter)
	c.docs.Ascend(func(d memDoc) bool {
		if Match(d.doc, f) {
			results = append(results, d.doc)
		}
		return true
	})

	if len(q.Sort) > 0 {
		sort.SliceStable(results, func(i, j int) bool {
			return lessBySort(results[i], results[j], q.Sort)
		})
	}

	if q.Skip > 0 {
		if q.Skip >= len(results) {
			results = results[:0]
		} else {
			results = results[q.Skip:]
		}
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	out := make([]map[string]any, len(results))
	for i, doc := range results {
		out[i] = document.Clone(doc)
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, coll string, f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[coll]
	if !ok {
		return 0, nil
	}
	f = normalizeFilter(f)
	n := 0
	c.docs.Ascend(func(d memDoc) bool {
		if Match(d.doc, f) {
			n++
		}
		return true
	})
	return n, nil
}

func (s *MemoryStore) FindByID(_ context.Context, coll, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[coll]
	if !ok {
		return nil, ErrNotFound
	}
	d, found := c.docs.Get(memDoc{id: id})
	if !found {
		return nil, ErrNotFound
	}
	return document.Clone(d.doc), nil
}

func (s *MemoryStore) FindByIDs(ctx context.Context, coll string, ids []string) ([]map[string]any, error) {
	return s.Find(ctx, coll, Query{Filter: IDIn(ids)})
}

func (s *MemoryStore) Insert(ctx context.Context, coll string, doc map[string]any) (map[string]any, error) {
	docs, err := s.InsertMany(ctx, coll, []map[string]any{doc})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (s *MemoryStore) InsertMany(_ context.Context, coll string, docs []map[string]any) ([]map[string]any, error) {
	now := s.now()
	prepared := make([]map[string]any, len(docs))
	for i, doc := range docs {
		p, err := prepareInsert(doc, now)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(coll)

	// Validate the whole batch, including collisions inside it, before
	// touching the collection.
	staged := c.stagingIndexes()
	for _, doc := range prepared {
		id := doc["id"].(string)
		if _, exists := c.docs.Get(memDoc{id: id}); exists {
			return nil, fmt.Errorf("%w: %s.id", ErrUniqueViolation, coll)
		}
		if _, exists := staged.docs.Get(memDoc{id: id}); exists {
			return nil, fmt.Errorf("%w: %s.id", ErrUniqueViolation, coll)
		}
		if err := staged.checkUnique(coll, doc); err != nil {
			return nil, err
		}
		staged.put(doc)
	}

	out := make([]map[string]any, len(prepared))
	for i, doc := range prepared {
		c.put(doc)
		out[i] = document.Clone(doc)
	}
	return out, nil
}

func (s *MemoryStore) UpdateByID(_ context.Context, coll, id string, set map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return nil, ErrNotFound
	}
	updated, err := s.update(c, coll, id, set)
	if err != nil {
		return nil, err
	}
	return document.Clone(updated), nil
}

func (s *MemoryStore) update(c *memCollection, coll, id string, set map[string]any) (map[string]any, error) {
	d, found := c.docs.Get(memDoc{id: id})
	if !found {
		return nil, ErrNotFound
	}
	updated, err := applySet(d.doc, set, s.now())
	if err != nil {
		return nil, err
	}
	if err := c.checkUnique(coll, updated); err != nil {
		return nil, err
	}
	c.put(updated)
	return updated, nil
}

func (s *MemoryStore) UpdateMany(_ context.Context, coll string, ids []string, set map[string]any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return nil, nil
	}

	// Stage every update against cloned indexes so a unique violation,
	// including one between two ids of the batch, leaves nothing applied.
	staged := c.stagingIndexes()
	now := s.now()
	var pending []map[string]any
	for _, id := range ids {
		d, found := c.docs.Get(memDoc{id: id})
		if !found {
			continue
		}
		updated, err := applySet(d.doc, set, now)
		if err != nil {
			return nil, err
		}
		staged.unindex(d.doc)
		if err := staged.checkUnique(coll, updated); err != nil {
			return nil, err
		}
		staged.index(updated)
		pending = append(pending, updated)
	}
	var updatedIDs []string
	for _, doc := range pending {
		c.put(doc)
		updatedIDs = append(updatedIDs, doc["id"].(string))
	}
	return updatedIDs, nil
}

func (s *MemoryStore) DeleteByID(_ context.Context, coll, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return false, nil
	}
	return c.remove(id), nil
}

func (s *MemoryStore) DeleteMany(_ context.Context, coll string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return nil, nil
	}
	var deleted []string
	for _, id := range ids {
		if c.remove(id) {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

// normalizeFilter passes condition operands through the document JSON
// round trip so comparisons see the same types as stored values.
func normalizeFilter(f Filter) Filter {
	switch f := f.(type) {
	case And:
		out := make(And, len(f))
		for i, child := range f {
			out[i] = normalizeFilter(child)
		}
		return out
	case Or:
		out := make(Or, len(f))
		for i, child := range f {
			out[i] = normalizeFilter(child)
		}
		return out
	case Cond:
		f.Value = normalizeValue(f.Value)
		return f
	}
	return f
}

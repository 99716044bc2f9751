package resource

import (
	"fmt"
	"iter"
	"math"
	"reflect"
	"sync"
)

// Table maps IDs to resources of arbitrary kinds. It is safe for concurrent
// use: lookups share a read lock, mutations take the write lock. Resource
// hooks never run while the lock is held.
type Table struct {
	mu      sync.RWMutex
	index   map[ID]Resource
	nextRID uint64
}

// NewTable creates an empty table whose first ID is 0.
func NewTable() *Table {
	return &Table{index: make(map[ID]Resource)}
}

// Add inserts r and returns its ID. IDs are never reused while the table
// lives; once the 32-bit space is spent Add fails with ErrTableExhausted.
func (t *Table) Add(r Resource) (ID, error) {
	return t.insert(r)
}

// AddShared inserts a resource the caller keeps using. The table holds its
// own reference, so removing the entry leaves the caller's handle valid.
func (t *Table) AddShared(r Resource) (ID, error) {
	return t.insert(r)
}

func (t *Table) insert(r Resource) (ID, error) {
	if r == nil {
		panic("resource: add of nil resource")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextRID > math.MaxUint32 {
		return 0, ErrTableExhausted
	}
	rid := ID(t.nextRID)
	if _, occupied := t.index[rid]; occupied {
		panic(fmt.Sprintf("resource: slot %d already occupied", rid))
	}
	t.index[rid] = r
	t.nextRID++
	return rid, nil
}

// Has reports whether id is present.
func (t *Table) Has(id ID) bool {
	t.mu.RLock()
	_, ok := t.index[id]
	t.mu.RUnlock()
	return ok
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// GetAny returns the resource stored under id without a type check.
func (t *Table) GetAny(id ID) (Resource, error) {
	t.mu.RLock()
	r, ok := t.index[id]
	t.mu.RUnlock()
	if !ok {
		return nil, BadResourceID()
	}
	return r, nil
}

// Get returns the resource under id if its dynamic type is exactly T.
// T must be a concrete type; a missing entry and a type mismatch are
// reported identically so guests cannot probe for types.
func Get[T Resource](t *Table, id ID) (T, error) {
	r, err := t.GetAny(id)
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := exactly[T](r)
	if !ok {
		return v, BadResourceID()
	}
	return v, nil
}

// Replace overwrites an existing entry. Replacing an empty slot is a bug in
// the host and panics.
func Replace[T Resource](t *Table, id ID, r T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[id]; !ok {
		panic(fmt.Sprintf("resource: replace of empty slot %d", id))
	}
	t.index[id] = r
}

// Take removes and returns the resource under id if it is exactly a T. On a
// type mismatch the entry stays in place. Close is not called.
func Take[T Resource](t *Table, id ID) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	r, ok := t.index[id]
	if !ok {
		return zero, BadResourceID()
	}
	v, ok := exactly[T](r)
	if !ok {
		return zero, BadResourceID()
	}
	delete(t.index, id)
	return v, nil
}

// TakeAny removes and returns the resource under id. Close is not called.
func (t *Table) TakeAny(id ID) (Resource, error) {
	t.mu.Lock()
	r, ok := t.index[id]
	if ok {
		delete(t.index, id)
	}
	t.mu.Unlock()

	if !ok {
		return nil, BadResourceID()
	}
	return r, nil
}

// Close removes the resource under id and runs its Close hook. Operations
// already holding the resource are not cancelled by the table.
func (t *Table) Close(id ID) error {
	r, err := t.TakeAny(id)
	if err != nil {
		return err
	}
	r.Close()
	return nil
}

// CloseAll removes and closes every entry. The ID counter is left untouched.
func (t *Table) CloseAll() {
	t.mu.Lock()
	removed := make([]Resource, 0, len(t.index))
	for id, r := range t.index {
		removed = append(removed, r)
		delete(t.index, id)
	}
	t.mu.Unlock()

	for _, r := range removed {
		r.Close()
	}
}

// Names yields an (id, name) pair for every entry present when iteration
// starts. Order is unspecified.
func (t *Table) Names() iter.Seq2[ID, string] {
	return func(yield func(ID, string) bool) {
		type entry struct {
			id ID
			r  Resource
		}

		t.mu.RLock()
		snapshot := make([]entry, 0, len(t.index))
		for id, r := range t.index {
			snapshot = append(snapshot, entry{id: id, r: r})
		}
		t.mu.RUnlock()

		for _, e := range snapshot {
			if !yield(e.id, Name(e.r)) {
				return
			}
		}
	}
}

func exactly[T Resource](r Resource) (T, bool) {
	var zero T
	if reflect.TypeOf(r) != reflect.TypeFor[T]() {
		return zero, false
	}
	v, ok := r.(T)
	return v, ok
}

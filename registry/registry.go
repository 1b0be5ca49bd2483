// Package registry implements the id-keyed tables that hold live sessions and
// brokered handles.
package registry

import (
	"math"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"peabody.computer/peabody/pkg"
)

// ID identifies an entry in a Table. The zero ID is never allocated.
type ID uint32

// ErrExhausted is returned by Allocate once every ID has been handed out.
var ErrExhausted = errors.New("registry: id space exhausted")

// ErrInvalidID is returned by ParseID for anything that is not a valid ID.
var ErrInvalidID = errors.New("registry: invalid id")

// Table maps IDs to entries. IDs come from a counter that starts at 1 and
// only moves forward, so an ID is never handed out twice even after its entry
// is removed.
type Table[V any] struct {
	m sync.RWMutex

	// +checklocks:m
	entries map[ID]V
	// +checklocks:m
	next uint64
}

// New returns an empty table.
func New[V any]() *Table[V] {
	return &Table[V]{
		entries: make(map[ID]V),
		next:    1,
	}
}

// Allocate reserves the next ID. The ID is not associated with anything until
// Insert is called with it.
func (t *Table[V]) Allocate() (ID, error) {
	t.m.Lock()
	defer t.m.Unlock()
	if t.next > math.MaxUint32 {
		return 0, ErrExhausted
	}
	id := ID(t.next)
	t.next++
	return id, nil
}

// Insert associates v with id. Inserting over a live entry is a programming
// error and panics.
func (t *Table[V]) Insert(id ID, v V) {
	t.m.Lock()
	defer t.m.Unlock()
	if _, ok := t.entries[id]; ok {
		pkg.Panicf("registry: insert on live id %d", id)
	}
	pkg.Assertf(id != 0 && uint64(id) < t.next, "registry: insert of unallocated id %d", id)
	t.entries[id] = v
}

// Lookup returns the entry for id, if any.
func (t *Table[V]) Lookup(id ID) (V, bool) {
	t.m.RLock()
	defer t.m.RUnlock()
	v, ok := t.entries[id]
	return v, ok
}

// Remove deletes the entry for id and returns it. Only the first of several
// concurrent Remove calls for the same id observes ok == true.
func (t *Table[V]) Remove(id ID) (V, bool) {
	t.m.Lock()
	defer t.m.Unlock()
	v, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return v, ok
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	t.m.RLock()
	defer t.m.RUnlock()
	return len(t.entries)
}

// IDs returns a sorted snapshot of the live IDs.
func (t *Table[V]) IDs() []ID {
	t.m.RLock()
	ids := maps.Keys(t.entries)
	t.m.RUnlock()
	slices.Sort(ids)
	return ids
}

// ParseID parses an ID supplied by a remote peer. Only plain base-10 digits
// naming a value in [1, MaxUint32] are accepted.
func ParseID(s string) (ID, error) {
	if s == "" {
		return 0, errors.Wrap(ErrInvalidID, "empty")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.Wrapf(ErrInvalidID, "%q is not a decimal number", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidID, "%q is out of range", s)
	}
	if n == 0 {
		return 0, errors.Wrap(ErrInvalidID, "zero")
	}
	return ID(n), nil
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

package index

import (
	"errors"
	"fmt"
	"slices"
)

// PersistentIndex is the stable identifier of a live entity, independent of
// where its record sits in the packed table.
type PersistentIndex int32

// Invalid marks a record that holds no index.
const Invalid PersistentIndex = -1

func (i PersistentIndex) IsValid() bool { return i >= 0 }

var (
	// ErrIndexSpaceExhausted is a configuration error: raise sync.max_persistent_indices.
	ErrIndexSpaceExhausted = errors.New("persistent index space exhausted")
	// ErrDoubleAllocation means the free list handed out a live index.
	ErrDoubleAllocation = errors.New("persistent index allocated twice")
	// ErrDoubleFree means an index was freed while not allocated.
	ErrDoubleFree = errors.New("persistent index freed twice")
)

// Allocator hands out the lowest free index. Freed indices stay reserved
// until Consolidate so async readers of the previous frame never observe
// a recycled index. Consumer goroutine only.
type Allocator struct {
	limit     int
	next      PersistentIndex   // high-water mark
	free      []PersistentIndex // ascending, reusable now
	pending   []PersistentIndex // freed since last Consolidate
	allocated []uint64          // bitset of live indices
	live      int
}

func NewAllocator(limit int) *Allocator {
	if limit <= 0 {
		limit = 1 << 30
	}
	return &Allocator{limit: limit}
}

// Allocate returns the lowest currently free index, growing the range when
// none is free. Exhaustion panics.
func (a *Allocator) Allocate() PersistentIndex {
	var idx PersistentIndex
	if len(a.free) > 0 {
		idx = a.free[0]
		a.free = a.free[1:]
	} else {
		if int(a.next) >= a.limit {
			panic(fmt.Errorf("allocate (limit %d): %w", a.limit, ErrIndexSpaceExhausted))
		}
		idx = a.next
		a.next++
	}
	if a.IsAllocated(idx) {
		panic(fmt.Errorf("index %d: %w", idx, ErrDoubleAllocation))
	}
	a.setBit(idx, true)
	a.live++
	return idx
}

// Free releases idx. It becomes reusable after the next Consolidate.
func (a *Allocator) Free(idx PersistentIndex) {
	if !a.IsAllocated(idx) {
		panic(fmt.Errorf("index %d: %w", idx, ErrDoubleFree))
	}
	a.setBit(idx, false)
	a.live--
	a.pending = append(a.pending, idx)
}

// Consolidate folds pending frees into the free list and lowers the
// high-water mark past any free tail. Called once per frame before indices
// are allocated.
func (a *Allocator) Consolidate() {
	if len(a.pending) == 0 {
		return
	}
	slices.Sort(a.pending)

	merged := make([]PersistentIndex, 0, len(a.free)+len(a.pending))
	i, j := 0, 0
	for i < len(a.free) && j < len(a.pending) {
		if a.free[i] < a.pending[j] {
			merged = append(merged, a.free[i])
			i++
		} else {
			merged = append(merged, a.pending[j])
			j++
		}
	}
	merged = append(merged, a.free[i:]...)
	merged = append(merged, a.pending[j:]...)

	for n := len(merged); n > 0 && merged[n-1] == a.next-1; n = len(merged) {
		merged = merged[:n-1]
		a.next--
	}
	a.free = merged
	a.pending = a.pending[:0]
}

// MaxIndex is one past the highest index that may be referenced. Index maps
// must be at least this long.
func (a *Allocator) MaxIndex() int { return int(a.next) }

// Live returns the number of allocated indices.
func (a *Allocator) Live() int { return a.live }

func (a *Allocator) IsAllocated(idx PersistentIndex) bool {
	if idx < 0 {
		return false
	}
	w := int(idx) >> 6
	if w >= len(a.allocated) {
		return false
	}
	return a.allocated[w]&(1<<(uint(idx)&63)) != 0
}

func (a *Allocator) setBit(idx PersistentIndex, on bool) {
	w := int(idx) >> 6
	for w >= len(a.allocated) {
		a.allocated = append(a.allocated, 0)
	}
	if on {
		a.allocated[w] |= 1 << (uint(idx) & 63)
	} else {
		a.allocated[w] &^= 1 << (uint(idx) & 63)
	}
}

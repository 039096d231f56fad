package handle

import "sync"

// Handle encodes a 32-bit slot in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on retire to invalidate stale refs.
// Generations start at 1 so the zero Handle is never issued.
type Handle uint64

func New(slot uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(slot))
}

func (h Handle) Slot() uint32       { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

// Pool issues handles and maps live handles to their values.
// Safe for concurrent use: producers create handles from any goroutine while
// the consumer retires them during the apply phase.
type Pool[T any] struct {
	mu          sync.RWMutex
	generations []uint32
	values      []T
	freeList    []uint32
	live        int
}

func NewPool[T any](capacity int) *Pool[T] {
	return &Pool[T]{
		generations: make([]uint32, 0, capacity),
		values:      make([]T, 0, capacity),
		freeList:    make([]uint32, 0, capacity/4),
	}
}

// Create stores v and returns a fresh handle for it.
func (p *Pool[T]) Create(v T) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live++
	if n := len(p.freeList); n > 0 {
		slot := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.values[slot] = v
		return New(slot, p.generations[slot])
	}
	slot := uint32(len(p.generations))
	p.generations = append(p.generations, 1)
	p.values = append(p.values, v)
	return New(slot, 1)
}

// Get returns the value behind a live handle.
func (p *Pool[T]) Get(h Handle) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var zero T
	slot := h.Slot()
	if int(slot) >= len(p.generations) || p.generations[slot] != h.Generation() {
		return zero, false
	}
	return p.values[slot], true
}

func (p *Pool[T]) Alive(h Handle) bool {
	_, ok := p.Get(h)
	return ok
}

// Retire invalidates h and recycles its slot. Stale handles are ignored.
func (p *Pool[T]) Retire(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := h.Slot()
	if int(slot) >= len(p.generations) || p.generations[slot] != h.Generation() {
		return false // already retired
	}
	var zero T
	p.values[slot] = zero
	p.generations[slot]++
	if p.generations[slot] == 0 {
		p.generations[slot] = 1
	}
	p.freeList = append(p.freeList, slot)
	p.live--
	return true
}

// Len returns the number of live handles.
func (p *Pool[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

package handle

import (
	"sync"
	"testing"
)

func TestPool_CreateGetRetire(t *testing.T) {
	p := NewPool[string](4)

	a := p.Create("a")
	b := p.Create("b")
	if a.IsZero() || b.IsZero() {
		t.Fatalf("pool must never issue the zero handle")
	}
	if v, ok := p.Get(a); !ok || v != "a" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	if !p.Retire(a) {
		t.Fatalf("expected first retire to succeed")
	}
	if p.Retire(a) {
		t.Fatalf("expected second retire of a stale handle to fail")
	}
	if p.Alive(a) {
		t.Fatalf("retired handle must not be alive")
	}

	c := p.Create("c")
	if c.Slot() != a.Slot() {
		t.Fatalf("expected slot reuse, got %d want %d", c.Slot(), a.Slot())
	}
	if c == a {
		t.Fatalf("reused slot must carry a new generation")
	}
	if _, ok := p.Get(a); ok {
		t.Fatalf("stale handle resolved after slot reuse")
	}
	if p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}
}

func TestPool_ConcurrentCreate(t *testing.T) {
	p := NewPool[int](0)
	const producers, perProducer = 8, 200

	var mu sync.Mutex
	seen := make(map[Handle]bool)
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				h := p.Create(base + j)
				mu.Lock()
				seen[h] = true
				mu.Unlock()
			}
		}(i * perProducer)
	}
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("got %d unique handles, want %d", len(seen), producers*perProducer)
	}
}

package event

import (
	"sync"
	"testing"
)

func TestBus_DeliversNextFrame(t *testing.T) {
	b := NewBus()
	var got []EntityAttached
	Subscribe(b, func(e EntityAttached) { got = append(got, e) })

	Emit(b, EntityAttached{Index: 1, Tag: "mesh"})
	Emit(b, EntityDetached{Index: 2}) // no subscriber
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatalf("event delivered before swap")
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0].Index != 1 {
		t.Fatalf("got %+v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 {
		t.Fatalf("event delivered twice")
	}
}

func TestBus_ConcurrentEmit(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Emit(b, FrameSynchronized{Frame: uint64(j)})
			}
		}()
	}
	wg.Wait()
	if n := Pending[FrameSynchronized](b); n != 800 {
		t.Fatalf("pending = %d, want 800", n)
	}

	count := 0
	Subscribe(b, func(FrameSynchronized) { count++ })
	b.SwapBuffers()
	b.DispatchAll()
	if count != 800 {
		t.Fatalf("delivered %d", count)
	}
}

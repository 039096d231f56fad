package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted during frame N are
// delivered after SwapBuffers at the start of frame N+1.
type Bus struct {
	mu       sync.Mutex // protects handler registration
	emitMu   sync.Mutex // protects back; stages emit concurrently
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]any
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]any),
	}
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event into the back buffer.
func Emit[T any](b *Bus, event T) {
	t := typeKey[T]()
	b.emitMu.Lock()
	b.back[t] = append(b.back[t], event)
	b.emitMu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeKey[T]()
	b.handlers[t] = append(b.handlers[t], fn)
}

// Pending counts events of type T waiting in the back buffer.
func Pending[T any](b *Bus) int {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	return len(b.back[typeKey[T]()])
}

// SwapBuffers rotates back to front and clears the new back buffer.
// Called once per frame.
func (b *Bus) SwapBuffers() {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		clear(b.back[k])
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers all front-buffer events to their handlers.
// Handlers are registered at startup, before the first dispatch.
func (b *Bus) DispatchAll() {
	for t, events := range b.front {
		handlers := b.handlers[t]
		for _, ev := range events {
			for _, h := range handlers {
				callHandler(h, ev)
			}
		}
	}
}

func callHandler(handler any, event any) {
	reflect.ValueOf(handler).Call([]reflect.Value{reflect.ValueOf(event)})
}

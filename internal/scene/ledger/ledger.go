package ledger

import (
	"errors"
	"sync"

	"github.com/l1jgo/scenesync/internal/scene/entity"
)

var (
	// ErrInvalidHandle is returned for records already finalized by a
	// drained Remove.
	ErrInvalidHandle = errors.New("invalid entity handle")
	ErrNilCommand    = errors.New("nil command")
)

type entry struct {
	rec *entity.Record
	cmd Command
}

// Ledger is a multi-producer, single-consumer command queue with
// double-buffered storage. Producers append under a short lock; the
// consumer swaps the buffers once per frame.
type Ledger struct {
	mu    sync.Mutex
	write []entry
	read  []entry // handed out by the last DrainAndSwap
	frame uint64
}

func New(capacity int) *Ledger {
	return &Ledger{
		write: make([]entry, 0, capacity),
		read:  make([]entry, 0, capacity),
	}
}

// Enqueue queues cmd for rec. Safe from any goroutine.
func (l *Ledger) Enqueue(rec *entity.Record, cmd Command) error {
	if rec == nil || rec.Finalized() {
		return ErrInvalidHandle
	}
	if cmd == nil {
		return ErrNilCommand
	}
	l.mu.Lock()
	l.write = append(l.write, entry{rec: rec, cmd: cmd})
	l.mu.Unlock()
	return nil
}

// Pending returns the number of commands waiting for the next drain.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.write)
}

// DrainAndSwap hands the queued commands to the consumer and gives
// producers an empty buffer. Consumer only, once per frame: the returned
// batch is valid until the next call.
func (l *Ledger) DrainAndSwap() *Batch {
	clear(l.read)
	l.mu.Lock()
	out := l.write
	l.write = l.read[:0]
	l.read = out
	l.frame++
	frame := l.frame
	l.mu.Unlock()
	return &Batch{Frame: frame, entries: out}
}

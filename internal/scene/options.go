package scene

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/l1jgo/scenesync/internal/scene/octree"
)

// Options configures a Scene. Zero values fall back to DefaultOptions except
// AlwaysVisibleAlignment and DebugChecks, where zero means off.
type Options struct {
	MaxPersistentIndices   int
	AlwaysVisibleAlignment int // 0 disables
	DebugChecks            bool
	LedgerCapacity         int

	PrimitiveOctree octree.Config
	LightOctree     octree.Config

	Workers    int
	QueueSize  int
	ChunkSize  int
	WorkerIdle time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxPersistentIndices:   1 << 20,
		AlwaysVisibleAlignment: 32,
		LedgerCapacity:         1024,
		PrimitiveOctree: octree.Config{
			Extent:             1 << 16,
			MaxElementsPerNode: 16,
			MaxDepth:           12,
			Looseness:          1.5,
		},
		LightOctree: octree.Config{
			Extent:             1 << 16,
			MaxElementsPerNode: 8,
			MaxDepth:           10,
			Looseness:          1.5,
		},
		Workers:    runtime.NumCPU(),
		QueueSize:  256,
		ChunkSize:  256,
		WorkerIdle: time.Second,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.MaxPersistentIndices <= 0 {
		o.MaxPersistentIndices = d.MaxPersistentIndices
	}
	if o.LedgerCapacity <= 0 {
		o.LedgerCapacity = d.LedgerCapacity
	}
	if o.PrimitiveOctree == (octree.Config{}) {
		o.PrimitiveOctree = d.PrimitiveOctree
	}
	if o.LightOctree == (octree.Config{}) {
		o.LightOctree = d.LightOctree
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.WorkerIdle <= 0 {
		o.WorkerIdle = d.WorkerIdle
	}
}

// InvariantError reports a violated structural invariant. The engine panics
// with it; continuing would hand corrupt slots to every reader.
type InvariantError struct {
	Stage string
	Err   error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("scene invariant violated in %s: %v", e.Stage, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

var (
	ErrClosed       = errors.New("scene closed")
	ErrNotLight     = errors.New("entity is not a light")
	ErrNotPrimitive = errors.New("entity is not a primitive")
	ErrDrawDistance = errors.New("max draw distance below min")
)

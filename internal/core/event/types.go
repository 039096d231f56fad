package event

import (
	"time"

	"github.com/l1jgo/scenesync/internal/core/handle"
	"github.com/l1jgo/scenesync/internal/core/index"
)

// EntityAttached fires when an Add is applied.
type EntityAttached struct {
	Handle handle.Handle
	Index  index.PersistentIndex
	Tag    string
}

// EntityDetached fires when a Remove is applied. Index is already free.
type EntityDetached struct {
	Handle handle.Handle
	Index  index.PersistentIndex
}

// FrameSynchronized fires once the apply phase of a frame has joined.
type FrameSynchronized struct {
	Frame     uint64
	Live      int
	Dirty     int
	Added     int
	Removed   int
	Updated   int
	EdgesUp   int
	EdgesDown int
	Elapsed   time.Duration
}

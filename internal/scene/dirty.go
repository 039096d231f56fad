package scene

import (
	"slices"
	"strings"

	"github.com/l1jgo/scenesync/internal/core/index"
)

// DirtyFlags say what changed about a persistent index this frame.
type DirtyFlags uint16

const (
	DirtyAdded DirtyFlags = 1 << iota
	DirtyRemoved
	DirtyTransform
	DirtyInstances
	DirtyProperties
	DirtyPrevTransform
	DirtyRebased
	DirtyLightColor
	DirtyCustomData
	DirtyDrawDistance
)

// dirtyAttributes are the changes that invalidate cached attributes.
const dirtyAttributes = DirtyAdded | DirtyTransform | DirtyInstances | DirtyProperties | DirtyRebased

var dirtyNames = []string{
	"added", "removed", "transform", "instances", "properties", "prev-transform", "rebased",
	"light-color", "custom-data", "draw-distance",
}

func (f DirtyFlags) Has(o DirtyFlags) bool { return f&o != 0 }

func (f DirtyFlags) String() string {
	var parts []string
	for i, n := range dirtyNames {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// DirtyEntry is one persistent index the GPU mirror must re-upload.
// An index removed and reused in the same frame carries both bits.
type DirtyEntry struct {
	Index index.PersistentIndex
	Flags DirtyFlags
}

// dirtySet deduplicates marks by persistent index.
type dirtySet struct {
	list []DirtyEntry
	pos  []int32 // persistent index -> position in list, -1 when clean
}

func (d *dirtySet) mark(pi index.PersistentIndex, f DirtyFlags) {
	for len(d.pos) <= int(pi) {
		d.pos = append(d.pos, -1)
	}
	if p := d.pos[pi]; p >= 0 {
		d.list[p].Flags |= f
		return
	}
	d.pos[pi] = int32(len(d.list))
	d.list = append(d.list, DirtyEntry{Index: pi, Flags: f})
}

func (d *dirtySet) flags(pi index.PersistentIndex) DirtyFlags {
	if int(pi) >= len(d.pos) || d.pos[pi] < 0 {
		return 0
	}
	return d.list[d.pos[pi]].Flags
}

func (d *dirtySet) reset() {
	for _, e := range d.list {
		d.pos[e.Index] = -1
	}
	d.list = d.list[:0]
}

func (d *dirtySet) len() int { return len(d.list) }

func (d *dirtySet) entries() []DirtyEntry { return slices.Clone(d.list) }

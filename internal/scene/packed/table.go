package packed

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/scene/entity"
)

// ErrCorrupt wraps every structural violation the table detects.
var ErrCorrupt = errors.New("packed table corrupt")

// TypeOffsetEntry closes a bucket: bucket i spans
// [entries[i-1].Offset, entries[i].Offset).
type TypeOffsetEntry struct {
	Tag    entity.Tag
	Offset int
}

// Table is the dense, tag-grouped array of live records with its parallel
// attribute arrays. Slot i of every array belongs to records[i].
// Mutated only by the consumer goroutine during the structural step.
type Table struct {
	records    []*entity.Record
	transforms []mgl64.Mat4
	bounds     []geom.AABB
	flags      []entity.Flags
	attributes []entity.Attributes

	buckets []TypeOffsetEntry
	slots   []int // persistent index -> packed slot, -1 when free

	alignment int
	tagRank   map[entity.Tag]int
}

// New creates an empty table. alignment rounds the always-visible tail
// offset up to a multiple of itself; 0 disables it.
func New(alignment int) *Table {
	if alignment < 0 {
		alignment = 0
	}
	return &Table{
		alignment: alignment,
		tagRank:   make(map[entity.Tag]int),
	}
}

func (t *Table) Len() int { return len(t.records) }

// Slot resolves a persistent index to its current packed slot, or -1.
// Valid only until the next structural step.
func (t *Table) Slot(pi index.PersistentIndex) int {
	if pi < 0 || int(pi) >= len(t.slots) {
		return -1
	}
	return t.slots[pi]
}

func (t *Table) Record(slot int) *entity.Record { return t.records[slot] }

// Records exposes the packed records for read-only passes.
func (t *Table) Records() []*entity.Record { return t.records }

func (t *Table) Transform(slot int) mgl64.Mat4         { return t.transforms[slot] }
func (t *Table) Bounds(slot int) geom.AABB             { return t.bounds[slot] }
func (t *Table) Flags(slot int) entity.Flags           { return t.flags[slot] }
func (t *Table) Attributes(slot int) entity.Attributes { return t.attributes[slot] }

func (t *Table) SetAttributes(slot int, a entity.Attributes) { t.attributes[slot] = a }

// Sync copies the record's mutable state into the parallel arrays.
func (t *Table) Sync(r *entity.Record) {
	s := r.PackedSlot
	t.transforms[s] = r.LocalToWorld
	t.bounds[s] = r.Bounds
	t.flags[s] = r.Flags
}

// Buckets returns a copy of the bucket table.
func (t *Table) Buckets() []TypeOffsetEntry {
	return slices.Clone(t.buckets)
}

// BucketRange returns the half-open slot range of tag's bucket.
func (t *Table) BucketRange(tag entity.Tag) (start, end int, ok bool) {
	bi := t.findBucket(tag)
	if bi < 0 {
		return 0, 0, false
	}
	return t.bucketStart(bi), t.buckets[bi].Offset, true
}

// ReserveIndices grows the persistent index map to at least n entries.
func (t *Table) ReserveIndices(n int) {
	for len(t.slots) < n {
		t.slots = append(t.slots, -1)
	}
}

// AlwaysVisibleOffset is the first slot of the always-visible tail, rounded
// up to the alignment. -1 when no slot qualifies.
func (t *Table) AlwaysVisibleOffset() int {
	for bi, b := range t.buckets {
		if !b.Tag.AlwaysVisible {
			continue
		}
		start := t.bucketStart(bi)
		if t.alignment > 0 {
			start = (start + t.alignment - 1) / t.alignment * t.alignment
		}
		if start >= len(t.records) {
			return -1
		}
		return start
	}
	return -1
}

// Translate shifts every stored transform and bound by delta.
func (t *Table) Translate(delta mgl64.Vec3) {
	for i := range t.records {
		t.transforms[i] = geom.Rebase(t.transforms[i], delta)
		t.bounds[i] = t.bounds[i].Translate(delta)
	}
}

// RemoveBatch takes records out of the table. Each doomed record bubbles to
// the tail through its own bucket and every later one, then the tail is cut
// and free is called with its persistent index.
func (t *Table) RemoveBatch(recs []*entity.Record, free func(index.PersistentIndex)) {
	if len(recs) == 0 {
		return
	}
	t.sortBatch(recs)

	for i := 0; i < len(recs); {
		tag := recs[i].Tag
		bi := t.findBucket(tag)
		if bi < 0 {
			panic(fmt.Errorf("remove %v: no bucket for tag %q: %w", recs[i].Handle, tag.Name, ErrCorrupt))
		}
		for ; i < len(recs) && recs[i].Tag == tag; i++ {
			r := recs[i]
			src := r.PackedSlot
			if src < t.bucketStart(bi) || src >= t.buckets[bi].Offset || t.records[src] != r {
				panic(fmt.Errorf("remove %v: record not in its bucket at slot %d: %w", r.Handle, src, ErrCorrupt))
			}
			for b := bi; b < len(t.buckets); b++ {
				t.buckets[b].Offset--
				dest := t.buckets[b].Offset
				if dest != src {
					t.exchange(src, dest)
					// The doomed record keeps its map entry until the cut.
					t.place(src)
					r.PackedSlot = dest
					src = dest
				}
			}
		}
		if t.bucketStart(bi) == t.buckets[bi].Offset {
			t.buckets = slices.Delete(t.buckets, bi, bi+1)
		}
	}

	n := len(t.records) - len(recs)
	for _, r := range recs {
		if r.PackedSlot < n || t.records[r.PackedSlot] != r {
			panic(fmt.Errorf("remove %v: ended at slot %d, tail starts at %d: %w", r.Handle, r.PackedSlot, n, ErrCorrupt))
		}
	}
	for j := n; j < len(t.records); j++ {
		r := t.records[j]
		t.slots[r.PersistentIndex] = -1
		if free != nil {
			free(r.PersistentIndex)
		}
		r.PackedSlot = -1
		t.records[j] = nil
	}
	t.truncate(n)
	t.checkOffsets()
}

// AddBatch inserts records that already hold a persistent index. They are
// appended past the end, then rotated left into their bucket one at a time.
func (t *Table) AddBatch(recs []*entity.Record) {
	if len(recs) == 0 {
		return
	}
	t.sortBatch(recs)

	start := len(t.records)
	for i, r := range recs {
		if !r.PersistentIndex.IsValid() {
			panic(fmt.Errorf("add %v: no persistent index: %w", r.Handle, ErrCorrupt))
		}
		t.ReserveIndices(int(r.PersistentIndex) + 1)
		if t.slots[r.PersistentIndex] >= 0 {
			panic(fmt.Errorf("add %v: index %d already mapped: %w", r.Handle, r.PersistentIndex, ErrCorrupt))
		}
		t.records = append(t.records, r)
		t.transforms = append(t.transforms, r.LocalToWorld)
		t.bounds = append(t.bounds, r.Bounds)
		t.flags = append(t.flags, r.Flags)
		t.attributes = append(t.attributes, entity.Attributes{})
		t.place(start + i)
	}

	for i := 0; i < len(recs); {
		tag := recs[i].Tag
		bi := t.findBucket(tag)
		if bi < 0 {
			bi = t.insertBucket(tag)
		}
		for ; i < len(recs) && recs[i].Tag == tag; i++ {
			src := recs[i].PackedSlot
			for b := bi; b < len(t.buckets); b++ {
				dest := t.buckets[b].Offset
				t.buckets[b].Offset++
				if dest != src {
					t.swap(src, dest)
				}
			}
		}
	}
	t.checkOffsets()
}

// CheckInvariants verifies the packing invariant, the prefix sum and the
// persistent index map. It is O(n).
func (t *Table) CheckInvariants() error {
	seen := make(map[entity.Tag]bool, len(t.buckets))
	prev := 0
	tail := false
	for bi, b := range t.buckets {
		if b.Offset <= prev {
			return fmt.Errorf("bucket %d (%s) offset %d not above %d: %w", bi, b.Tag, b.Offset, prev, ErrCorrupt)
		}
		if seen[b.Tag] {
			return fmt.Errorf("tag %s owns two buckets: %w", b.Tag, ErrCorrupt)
		}
		seen[b.Tag] = true
		if b.Tag.AlwaysVisible {
			tail = true
		} else if tail {
			return fmt.Errorf("bucket %s follows the always-visible tail: %w", b.Tag, ErrCorrupt)
		}
		for s := prev; s < b.Offset; s++ {
			r := t.records[s]
			if r == nil || r.Tag != b.Tag {
				return fmt.Errorf("slot %d outside its bucket %s: %w", s, b.Tag, ErrCorrupt)
			}
			if r.PackedSlot != s {
				return fmt.Errorf("slot %d holds record claiming slot %d: %w", s, r.PackedSlot, ErrCorrupt)
			}
			if t.Slot(r.PersistentIndex) != s {
				return fmt.Errorf("index %d maps to %d, record at %d: %w", r.PersistentIndex, t.Slot(r.PersistentIndex), s, ErrCorrupt)
			}
		}
		prev = b.Offset
	}
	if prev != len(t.records) {
		return fmt.Errorf("buckets end at %d, table holds %d: %w", prev, len(t.records), ErrCorrupt)
	}
	mapped := 0
	for _, s := range t.slots {
		if s >= 0 {
			mapped++
		}
	}
	if mapped != len(t.records) {
		return fmt.Errorf("%d indices mapped for %d records: %w", mapped, len(t.records), ErrCorrupt)
	}
	return nil
}

// checkOffsets is the cheap always-on prefix sum check.
func (t *Table) checkOffsets() {
	prev := 0
	for _, b := range t.buckets {
		if b.Offset <= prev {
			panic(fmt.Errorf("bucket %s offset %d not above %d: %w", b.Tag, b.Offset, prev, ErrCorrupt))
		}
		prev = b.Offset
	}
	if prev != len(t.records) {
		panic(fmt.Errorf("buckets end at %d, table holds %d: %w", prev, len(t.records), ErrCorrupt))
	}
}

func (t *Table) bucketStart(bi int) int {
	if bi == 0 {
		return 0
	}
	return t.buckets[bi-1].Offset
}

func (t *Table) findBucket(tag entity.Tag) int {
	for i := range t.buckets {
		if t.buckets[i].Tag == tag {
			return i
		}
	}
	return -1
}

// insertBucket adds an empty bucket for tag. Always-visible tags go last;
// others go in front of the always-visible tail.
func (t *Table) insertBucket(tag entity.Tag) int {
	at := len(t.buckets)
	if !tag.AlwaysVisible {
		for i, b := range t.buckets {
			if b.Tag.AlwaysVisible {
				at = i
				break
			}
		}
	}
	t.buckets = slices.Insert(t.buckets, at, TypeOffsetEntry{Tag: tag, Offset: t.bucketStart(at)})
	return at
}

// sortBatch orders a batch: always-visible last, then tag by first
// appearance, then handle.
func (t *Table) sortBatch(recs []*entity.Record) {
	for _, r := range recs {
		if _, ok := t.tagRank[r.Tag]; !ok {
			t.tagRank[r.Tag] = len(t.tagRank)
		}
	}
	slices.SortFunc(recs, func(a, b *entity.Record) int {
		if a.Tag.AlwaysVisible != b.Tag.AlwaysVisible {
			if a.Tag.AlwaysVisible {
				return 1
			}
			return -1
		}
		if ra, rb := t.tagRank[a.Tag], t.tagRank[b.Tag]; ra != rb {
			return ra - rb
		}
		switch {
		case a.Handle < b.Handle:
			return -1
		case a.Handle > b.Handle:
			return 1
		}
		return 0
	})
}

// swap exchanges slots a and b and refreshes both records' bookkeeping.
func (t *Table) swap(a, b int) {
	t.exchange(a, b)
	t.place(a)
	t.place(b)
}

func (t *Table) exchange(a, b int) {
	t.records[a], t.records[b] = t.records[b], t.records[a]
	t.transforms[a], t.transforms[b] = t.transforms[b], t.transforms[a]
	t.bounds[a], t.bounds[b] = t.bounds[b], t.bounds[a]
	t.flags[a], t.flags[b] = t.flags[b], t.flags[a]
	t.attributes[a], t.attributes[b] = t.attributes[b], t.attributes[a]
}

func (t *Table) place(slot int) {
	r := t.records[slot]
	r.PackedSlot = slot
	t.slots[r.PersistentIndex] = slot
}

func (t *Table) truncate(n int) {
	clear(t.records[n:])
	t.records = t.records[:n]
	t.transforms = t.transforms[:n]
	t.bounds = t.bounds[:n]
	t.flags = t.flags[:n]
	t.attributes = t.attributes[:n]
}

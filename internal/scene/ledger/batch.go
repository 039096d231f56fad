package ledger

import (
	"github.com/l1jgo/scenesync/internal/scene/entity"
)

// Batch is one frame's worth of drained commands in enqueue order.
type Batch struct {
	Frame   uint64
	entries []entry
}

func (b *Batch) Len() int { return len(b.entries) }

// EntityUpdates are the surviving update commands of one live entity, in
// the order its producer enqueued them.
type EntityUpdates struct {
	Record   *entity.Record
	Commands []Update
}

// Changes is a folded batch, grouped the way the apply phase consumes it.
type Changes struct {
	Added   []*entity.Record
	Removed []*entity.Record
	// Discarded records never reach the table: added and removed in the same
	// frame, or removed without ever being added.
	Discarded []*entity.Record
	Updates   []EntityUpdates

	Commands   int // drained
	Folded     int // updates merged into an added record's initial state
	Superseded int // dropped producer misuse
}

type fold struct {
	rec     *entity.Record
	added   bool
	removed bool
	dead    bool // finalized before this batch
	updates []Update
}

// Fold groups the batch per entity, preserving each entity's command order,
// and resolves conflicting commands. Records that end up removed or
// discarded are finalized. Consumer only.
func (b *Batch) Fold() Changes {
	ch := Changes{Commands: len(b.entries)}
	order := make([]*fold, 0, len(b.entries))
	byRec := make(map[*entity.Record]*fold, len(b.entries))

	for _, e := range b.entries {
		f := byRec[e.rec]
		if f == nil {
			f = &fold{rec: e.rec, dead: e.rec.Finalized()}
			byRec[e.rec] = f
			order = append(order, f)
		}
		if f.dead || f.removed {
			ch.Superseded++
			continue
		}
		switch c := e.cmd.(type) {
		case Add:
			if f.added || f.rec.InTable() {
				ch.Superseded++
				continue
			}
			f.added = true
		case Remove:
			f.removed = true
		case Update:
			f.updates = append(f.updates, c)
		default:
			ch.Superseded++
		}
	}

	for _, f := range order {
		switch {
		case f.dead:
		case f.removed:
			f.rec.Finalize()
			ch.Superseded += len(f.updates)
			if f.rec.InTable() {
				ch.Removed = append(ch.Removed, f.rec)
			} else {
				ch.Discarded = append(ch.Discarded, f.rec)
			}
		case f.added:
			for _, u := range f.updates {
				u.Apply(f.rec)
			}
			ch.Folded += len(f.updates)
			ch.Added = append(ch.Added, f.rec)
		case f.rec.InTable():
			if len(f.updates) > 0 {
				ch.Updates = append(ch.Updates, EntityUpdates{Record: f.rec, Commands: f.updates})
			}
		default:
			// Updates for a record whose Add has not been seen.
			ch.Superseded += len(f.updates)
		}
	}
	return ch
}

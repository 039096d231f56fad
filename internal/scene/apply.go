package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/l1jgo/scenesync/internal/core/event"
	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/core/task"
	"github.com/l1jgo/scenesync/internal/scene/entity"
	"github.com/l1jgo/scenesync/internal/scene/interaction"
	"github.com/l1jgo/scenesync/internal/scene/ledger"
	"github.com/l1jgo/scenesync/internal/scene/octree"
)

// FrameStats summarizes one ApplyFrame.
type FrameStats struct {
	Frame        uint64
	Commands     int
	Added        int
	Removed      int
	Discarded    int
	Updated      int
	Folded       int
	Superseded   int
	Rebased      bool
	Attributes   int
	DrawCommands int
	EdgesCreated int
	EdgesDeleted int
	Live         int
	Dirty        int
	Elapsed      time.Duration
	Stages       []task.Timing
}

// frameState is scratch shared by the stages of one frame.
type frameState struct {
	changes     ledger.Changes
	dirtyPrims  []index.PersistentIndex
	dirtyLights []index.PersistentIndex
	rebased     bool
	attributes  atomic.Int64
	draws       atomic.Int64
	edges       interaction.Stats
}

func (f *frameState) reset() {
	f.changes = ledger.Changes{}
	f.dirtyPrims = f.dirtyPrims[:0]
	f.dirtyLights = f.dirtyLights[:0]
	f.rebased = false
	f.attributes.Store(0)
	f.draws.Store(0)
	f.edges = interaction.Stats{}
}

// Stage names of the per-frame task graph.
const (
	StageDrain        = "drain"
	StageRemove       = "remove"
	StageAdd          = "add"
	StageUpdate       = "update"
	StageAttributes   = "attributes"
	StageInteractions = "interactions"
	StageDrawCommands = "draw-commands"
	StagePublish      = "publish"
)

// buildStages wires the frame graph. The structural stages form a chain;
// attribute caching and interaction rebuilding only read the table and may
// overlap.
func (s *Scene) buildStages() error {
	g := task.NewGraph()
	for _, st := range []struct {
		name    string
		run     task.Func
		prereqs []string
	}{
		{StageDrain, s.stageDrain, nil},
		{StageRemove, s.stageRemove, []string{StageDrain}},
		{StageAdd, s.stageAdd, []string{StageRemove}},
		{StageUpdate, s.stageUpdate, []string{StageAdd}},
		{StageAttributes, s.stageAttributes, []string{StageUpdate}},
		{StageInteractions, s.stageInteractions, []string{StageUpdate}},
		{StageDrawCommands, s.stageDrawCommands, []string{StageAttributes}},
		{StagePublish, s.stagePublish, []string{StageInteractions, StageDrawCommands}},
	} {
		if err := g.Add(st.name, st.run, st.prereqs...); err != nil {
			return err
		}
	}
	if err := g.Validate(); err != nil {
		return err
	}
	s.stages = g
	return nil
}

// ApplyFrame drains the ledger and applies everything queued since the last
// frame. Consumer only. Invariant violations panic with *InvariantError.
//
// ctx is checked once, before the drain. A cancelled or expired ctx leaves
// the queue untouched for the next call; once drained, the frame always runs
// to completion.
func (s *Scene) ApplyFrame(ctx context.Context) (FrameStats, error) {
	if s.closed.Load() {
		return FrameStats{}, ErrClosed
	}
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if err := ctx.Err(); err != nil {
		return FrameStats{}, err
	}

	start := time.Now()
	s.frame++
	s.cur.reset()
	s.dirty.reset()

	if err := s.stages.Run(context.WithoutCancel(ctx)); err != nil {
		var pe *task.PanicError
		if errors.As(err, &pe) {
			if perr, ok := pe.Value.(error); ok && !errors.Is(perr, index.ErrIndexSpaceExhausted) {
				var ie *InvariantError
				if !errors.As(perr, &ie) {
					perr = &InvariantError{Stage: pe.Task, Err: perr}
				}
				panic(perr)
			}
			panic(pe.Value)
		}
		return FrameStats{}, err
	}

	ch := &s.cur.changes
	st := FrameStats{
		Frame:        s.frame,
		Commands:     ch.Commands,
		Added:        len(ch.Added),
		Removed:      len(ch.Removed),
		Discarded:    len(ch.Discarded),
		Updated:      len(ch.Updates),
		Folded:       ch.Folded,
		Superseded:   ch.Superseded,
		Rebased:      s.cur.rebased,
		Attributes:   int(s.cur.attributes.Load()),
		DrawCommands: int(s.cur.draws.Load()),
		EdgesCreated: s.cur.edges.Created,
		EdgesDeleted: s.cur.edges.Destroyed,
		Live:         s.table.Len(),
		Dirty:        s.dirty.len(),
		Elapsed:      time.Since(start),
		Stages:       s.stages.Timings(),
	}
	s.last = st
	if s.bus != nil {
		event.Emit(s.bus, event.FrameSynchronized{
			Frame:     st.Frame,
			Live:      st.Live,
			Dirty:     st.Dirty,
			Added:     st.Added,
			Removed:   st.Removed,
			Updated:   st.Updated,
			EdgesUp:   st.EdgesCreated,
			EdgesDown: st.EdgesDeleted,
			Elapsed:   st.Elapsed,
		})
	}
	return st, nil
}

func (s *Scene) stageDrain(context.Context) error {
	batch := s.ledger.DrainAndSwap()
	s.cur.changes = batch.Fold()
	ch := &s.cur.changes

	for _, rec := range ch.Discarded {
		s.handles.Retire(rec.Handle)
	}
	if ch.Superseded > 0 || len(ch.Discarded) > 0 {
		s.log.Debug("ledger folded producer misuse",
			zap.Uint64("frame", s.frame),
			zap.Int("superseded", ch.Superseded),
			zap.Int("discarded", len(ch.Discarded)),
		)
	}
	return nil
}

func (s *Scene) stageRemove(context.Context) error {
	removed := s.cur.changes.Removed
	for _, rec := range removed {
		pi := rec.PersistentIndex
		s.builder.Purge(pi)
		if rec.IsDirectional() {
			s.directional = slices.DeleteFunc(s.directional, func(d index.PersistentIndex) bool { return d == pi })
		} else if !s.treeFor(rec).Remove(rec.OctreeID) {
			panic(&InvariantError{Stage: StageRemove, Err: errStaleNode(rec)})
		}
		rec.OctreeID = octree.NoElement
		s.dirty.mark(pi, DirtyRemoved)
	}

	// RemoveBatch reorders its argument.
	s.table.RemoveBatch(slices.Clone(removed), s.alloc.Free)

	for _, rec := range removed {
		pi := rec.PersistentIndex
		rec.PersistentIndex = index.Invalid
		rec.Capability.OnDetach()
		s.handles.Retire(rec.Handle)
		if s.bus != nil {
			event.Emit(s.bus, event.EntityDetached{Handle: rec.Handle, Index: pi})
		}
	}

	s.applyRebase()
	s.alloc.Consolidate()
	return nil
}

func (s *Scene) applyRebase() {
	s.rebaseMu.Lock()
	delta := s.rebase
	s.rebase = mgl64.Vec3{}
	s.rebaseMu.Unlock()
	if delta == (mgl64.Vec3{}) {
		return
	}

	for _, rec := range s.table.Records() {
		rec.LocalToWorld = geom.Rebase(rec.LocalToWorld, delta)
		rec.PrevLocalToWorld = geom.Rebase(rec.PrevLocalToWorld, delta)
		rec.Bounds = rec.Bounds.Translate(delta)
		s.dirty.mark(rec.PersistentIndex, DirtyRebased)
	}
	s.table.Translate(delta)
	s.prims.ApplyOffset(delta)
	s.lights.ApplyOffset(delta)
	s.cur.rebased = true
	s.log.Info("world origin rebased",
		zap.Float64("dx", delta[0]), zap.Float64("dy", delta[1]), zap.Float64("dz", delta[2]),
		zap.Int("entities", s.table.Len()),
	)
}

func (s *Scene) stageAdd(context.Context) error {
	added := s.cur.changes.Added
	if len(added) == 0 {
		return nil
	}
	for _, rec := range added {
		rec.PersistentIndex = s.alloc.Allocate()
	}
	s.table.ReserveIndices(s.alloc.MaxIndex())
	s.table.AddBatch(slices.Clone(added))

	for _, rec := range added {
		pi := rec.PersistentIndex
		switch {
		case rec.IsDirectional():
			s.directional = append(s.directional, pi)
		default:
			rec.OctreeID = s.treeFor(rec).Insert(octree.Element{Index: pi, Bounds: rec.Bounds})
		}
		s.markInteraction(rec)
		s.dirty.mark(pi, DirtyAdded)
		rec.Capability.OnAttach(pi)
		if s.bus != nil {
			event.Emit(s.bus, event.EntityAttached{Handle: rec.Handle, Index: pi, Tag: rec.Tag.Name})
		}
	}
	return nil
}

func (s *Scene) stageUpdate(context.Context) error {
	for _, u := range s.cur.changes.Updates {
		rec := u.Record
		oldBounds, oldFlags := rec.Bounds, rec.Flags
		var f DirtyFlags
		for _, cmd := range u.Commands {
			cmd.Apply(rec)
			f |= dirtyFor(cmd.Kind())
		}
		s.table.Sync(rec)
		s.dirty.mark(rec.PersistentIndex, f)

		moved := rec.Bounds != oldBounds
		if moved && !rec.IsDirectional() {
			tree := s.treeFor(rec)
			if !tree.Remove(rec.OctreeID) {
				panic(&InvariantError{Stage: StageUpdate, Err: errStaleNode(rec)})
			}
			rec.OctreeID = tree.Insert(octree.Element{Index: rec.PersistentIndex, Bounds: rec.Bounds})
		}
		if moved || rec.Flags.Has(entity.FlagEnabled) != oldFlags.Has(entity.FlagEnabled) {
			s.markInteraction(rec)
		}
	}

	if err := interaction.VerifyLightNodes(s.lights, s.localLights()); err != nil {
		panic(&InvariantError{Stage: StageUpdate, Err: err})
	}
	if s.opts.DebugChecks {
		if err := s.table.CheckInvariants(); err != nil {
			panic(&InvariantError{Stage: StageUpdate, Err: err})
		}
	}
	return nil
}

func (s *Scene) markInteraction(rec *entity.Record) {
	if rec.IsLight() {
		s.cur.dirtyLights = append(s.cur.dirtyLights, rec.PersistentIndex)
	} else {
		s.cur.dirtyPrims = append(s.cur.dirtyPrims, rec.PersistentIndex)
	}
}

// stageAttributes recomputes cached attributes of every dirty slot in
// parallel. Each dirty index owns a distinct slot, so writes never collide.
func (s *Scene) stageAttributes(context.Context) error {
	list := s.dirty.list
	return s.pool.ParallelFor(len(list), func(lo, hi int) error {
		n := 0
		for _, e := range list[lo:hi] {
			if !e.Flags.Has(dirtyAttributes) {
				continue
			}
			slot := s.table.Slot(e.Index)
			if slot < 0 {
				continue
			}
			s.table.SetAttributes(slot, entity.ComputeAttributes(s.table.Record(slot)))
			n++
		}
		s.cur.attributes.Add(int64(n))
		return nil
	})
}

// stageDrawCommands regenerates draw keys whose inputs changed.
func (s *Scene) stageDrawCommands(context.Context) error {
	list := s.dirty.list
	return s.pool.ParallelFor(len(list), func(lo, hi int) error {
		n := 0
		for _, e := range list[lo:hi] {
			if !e.Flags.Has(dirtyAttributes) {
				continue
			}
			slot := s.table.Slot(e.Index)
			if slot < 0 {
				continue
			}
			a := s.table.Attributes(slot)
			key := entity.DrawKey(s.table.Record(slot), a)
			if key != a.DrawKey {
				a.DrawKey = key
				s.table.SetAttributes(slot, a)
				n++
			}
		}
		s.cur.draws.Add(int64(n))
		return nil
	})
}

func (s *Scene) stageInteractions(context.Context) error {
	s.cur.edges = s.builder.Update(s, s.cur.dirtyPrims, s.cur.dirtyLights, s.frame)
	return nil
}

func (s *Scene) stagePublish(context.Context) error {
	if s.opts.DebugChecks {
		if err := s.graph.Check(); err != nil {
			panic(&InvariantError{Stage: StagePublish, Err: err})
		}
	}
	if s.cur.edges.Changed() {
		s.log.Debug("interactions updated",
			zap.Uint64("frame", s.frame),
			zap.Int("created", s.cur.edges.Created),
			zap.Int("destroyed", s.cur.edges.Destroyed),
			zap.Int("edges", s.graph.Len()),
		)
	}
	return nil
}

func dirtyFor(k ledger.Kind) DirtyFlags {
	switch k {
	case ledger.KindTransform:
		return DirtyTransform
	case ledger.KindInstances:
		return DirtyInstances
	case ledger.KindProperties:
		return DirtyProperties
	case ledger.KindPreviousTransform:
		return DirtyPrevTransform
	case ledger.KindLightColor:
		return DirtyLightColor
	case ledger.KindCustomData:
		return DirtyCustomData
	case ledger.KindDrawDistance:
		return DirtyDrawDistance
	}
	return 0
}

func errStaleNode(rec *entity.Record) error {
	return fmt.Errorf("entity %d octree element %v: %w", rec.PersistentIndex, rec.OctreeID, interaction.ErrStaleNode)
}

package scene

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/l1jgo/scenesync/internal/core/event"
	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/handle"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/core/task"
	"github.com/l1jgo/scenesync/internal/scene/entity"
	"github.com/l1jgo/scenesync/internal/scene/interaction"
	"github.com/l1jgo/scenesync/internal/scene/ledger"
	"github.com/l1jgo/scenesync/internal/scene/octree"
	"github.com/l1jgo/scenesync/internal/scene/packed"
)

// Scene is the synchronization engine for one world. Producers call the
// mutation methods from any goroutine; a single consumer calls ApplyFrame
// once per frame and reads the packed state between frames.
type Scene struct {
	opts Options
	log  *zap.Logger
	bus  *event.Bus

	handles *handle.Pool[*entity.Record]
	ledger  *ledger.Ledger

	// Owned by the consumer; mutated only inside ApplyFrame.
	alloc       *index.Allocator
	table       *packed.Table
	prims       *octree.Tree
	lights      *octree.Tree
	directional []index.PersistentIndex
	graph       *interaction.Graph
	builder     *interaction.Builder

	pool   *task.Pool
	stages *task.Graph

	applyMu sync.Mutex
	frame   uint64
	cur     frameState
	last    FrameStats
	dirty   dirtySet

	rebaseMu sync.Mutex
	rebase   mgl64.Vec3

	closed atomic.Bool
}

// New builds a scene. bus may be nil.
func New(opts Options, log *zap.Logger, bus *event.Bus) (*Scene, error) {
	opts.fill()
	s := &Scene{
		opts:    opts,
		log:     log,
		bus:     bus,
		handles: handle.NewPool[*entity.Record](opts.LedgerCapacity),
		ledger:  ledger.New(opts.LedgerCapacity),
		alloc:   index.NewAllocator(opts.MaxPersistentIndices),
		table:   packed.New(opts.AlwaysVisibleAlignment),
		graph:   interaction.NewGraph(),
		pool:    task.NewPool(opts.Workers, opts.QueueSize, opts.ChunkSize, opts.WorkerIdle),
	}
	s.prims = octree.New(opts.PrimitiveOctree, s.onMove)
	s.lights = octree.New(opts.LightOctree, s.onMove)
	s.builder = interaction.NewBuilder(s.graph)
	if err := s.buildStages(); err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("build frame stages: %w", err)
	}
	log.Debug("scene created",
		zap.Int("workers", s.pool.Workers()),
		zap.Int("max_indices", opts.MaxPersistentIndices),
		zap.Int("always_visible_alignment", opts.AlwaysVisibleAlignment),
	)
	return s, nil
}

// Close stops the worker pool. Producer calls fail afterwards.
func (s *Scene) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.pool.Close()
}

// ── producer API ────────────────────────────────────────────────

// Add registers a capability. The entity joins the table at the next
// ApplyFrame; the returned handle is valid immediately.
func (s *Scene) Add(c entity.Capability) (handle.Handle, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	rec := entity.NewRecord(0, c)
	h := s.handles.Create(rec)
	rec.Handle = h
	if err := s.ledger.Enqueue(rec, ledger.Add{}); err != nil {
		s.handles.Retire(h)
		return 0, err
	}
	return h, nil
}

// Remove schedules the entity's removal.
func (s *Scene) Remove(h handle.Handle) error {
	return s.enqueue(h, ledger.Remove{})
}

// UpdateTransform moves the entity; bounds are the new world bounds.
func (s *Scene) UpdateTransform(h handle.Handle, localToWorld mgl64.Mat4, bounds geom.AABB) error {
	return s.enqueue(h, ledger.TransformUpdate{LocalToWorld: localToWorld, Bounds: bounds})
}

// UpdateInstances replaces the instance transforms and combined bounds.
func (s *Scene) UpdateInstances(h handle.Handle, instances []mgl64.Mat4, bounds geom.AABB) error {
	return s.enqueue(h, ledger.InstanceUpdate{Instances: instances, Bounds: bounds})
}

// UpdateProperties sets then clears flag bits.
func (s *Scene) UpdateProperties(h handle.Handle, set, clear entity.Flags) error {
	return s.enqueue(h, ledger.PropertyUpdate{Set: set, Clear: clear})
}

func (s *Scene) SetEnabled(h handle.Handle, enabled bool) error {
	if enabled {
		return s.UpdateProperties(h, entity.FlagEnabled, 0)
	}
	return s.UpdateProperties(h, 0, entity.FlagEnabled)
}

// OverridePreviousTransform replaces the transform used for velocity.
func (s *Scene) OverridePreviousTransform(h handle.Handle, localToWorld mgl64.Mat4) error {
	return s.enqueue(h, ledger.PreviousTransformOverride{LocalToWorld: localToWorld})
}

// UpdateLightColor changes a light's color and brightness.
func (s *Scene) UpdateLightColor(h handle.Handle, color mgl64.Vec3, brightness float64) error {
	if rec, ok := s.handles.Get(h); ok && !rec.IsLight() {
		return ErrNotLight
	}
	return s.enqueue(h, ledger.LightColorUpdate{Color: color, Brightness: brightness})
}

// UpdateCustomData replaces a primitive's shader payload. data is copied.
func (s *Scene) UpdateCustomData(h handle.Handle, data []float32) error {
	if rec, ok := s.handles.Get(h); ok && rec.IsLight() {
		return ErrNotPrimitive
	}
	return s.enqueue(h, ledger.CustomDataUpdate{Data: slices.Clone(data)})
}

// UpdateDrawDistance sets the distance range a primitive is drawn in.
// maxDist 0 means unlimited.
func (s *Scene) UpdateDrawDistance(h handle.Handle, minDist, maxDist float64) error {
	if rec, ok := s.handles.Get(h); ok && rec.IsLight() {
		return ErrNotPrimitive
	}
	if maxDist > 0 && maxDist < minDist {
		return ErrDrawDistance
	}
	return s.enqueue(h, ledger.DrawDistanceUpdate{Min: minDist, Max: maxDist})
}

// ApplyWorldOffset shifts the whole scene by delta at the next ApplyFrame,
// after removals and before additions. Commands in the same frame are taken
// to be in the shifted space.
func (s *Scene) ApplyWorldOffset(delta mgl64.Vec3) {
	s.rebaseMu.Lock()
	s.rebase = s.rebase.Add(delta)
	s.rebaseMu.Unlock()
}

func (s *Scene) enqueue(h handle.Handle, cmd ledger.Command) error {
	if s.closed.Load() {
		return ErrClosed
	}
	rec, ok := s.handles.Get(h)
	if !ok {
		return ledger.ErrInvalidHandle
	}
	return s.ledger.Enqueue(rec, cmd)
}

// Pending returns the number of queued commands.
func (s *Scene) Pending() int { return s.ledger.Pending() }

// ── consumer reads, valid between ApplyFrame calls ─────────────

// Index returns the persistent index of a handle once its Add is applied.
func (s *Scene) Index(h handle.Handle) (index.PersistentIndex, bool) {
	rec, ok := s.handles.Get(h)
	if !ok || !rec.PersistentIndex.IsValid() {
		return index.Invalid, false
	}
	return rec.PersistentIndex, true
}

// Slot resolves a persistent index to its packed slot for this frame.
func (s *Scene) Slot(pi index.PersistentIndex) int { return s.table.Slot(pi) }

// Record returns the live record for a persistent index, or nil.
func (s *Scene) Record(pi index.PersistentIndex) *entity.Record {
	slot := s.table.Slot(pi)
	if slot < 0 {
		return nil
	}
	return s.table.Record(slot)
}

// Table exposes the packed arrays for read-only consumers.
func (s *Scene) Table() *packed.Table { return s.table }

// Interactions exposes the light-primitive graph for read-only consumers.
func (s *Scene) Interactions() *interaction.Graph { return s.graph }

func (s *Scene) Len() int { return s.table.Len() }

func (s *Scene) Buckets() []packed.TypeOffsetEntry { return s.table.Buckets() }

func (s *Scene) AlwaysVisibleOffset() int { return s.table.AlwaysVisibleOffset() }

// MaxIndex bounds every persistent index currently in use.
func (s *Scene) MaxIndex() int { return s.alloc.MaxIndex() }

// DirtyIndices lists every persistent index touched by the last frame,
// each exactly once.
func (s *Scene) DirtyIndices() []DirtyEntry { return s.dirty.entries() }

// LastFrame returns the statistics of the last applied frame.
func (s *Scene) LastFrame() FrameStats { return s.last }

// ── spatial queries (interaction.Source) ───────────────────────

func (s *Scene) LightsTouching(box geom.AABB) iter.Seq[index.PersistentIndex] {
	return func(yield func(index.PersistentIndex) bool) {
		for _, pi := range s.directional {
			if !yield(pi) {
				return
			}
		}
		for e := range s.lights.FindWithBoundsTest(box) {
			if !yield(e.Index) {
				return
			}
		}
	}
}

func (s *Scene) PrimitivesTouching(box geom.AABB) iter.Seq[index.PersistentIndex] {
	return func(yield func(index.PersistentIndex) bool) {
		for e := range s.prims.FindWithBoundsTest(box) {
			if !yield(e.Index) {
				return
			}
		}
	}
}

// onMove keeps record octree ids current when the tree relocates elements.
func (s *Scene) onMove(e octree.Element, id octree.ElementID) {
	if rec := s.Record(e.Index); rec != nil {
		rec.OctreeID = id
	}
}

func (s *Scene) treeFor(rec *entity.Record) *octree.Tree {
	if rec.IsLight() {
		return s.lights
	}
	return s.prims
}

func (s *Scene) localLights() iter.Seq[*entity.Record] {
	return func(yield func(*entity.Record) bool) {
		for _, rec := range s.table.Records() {
			if rec.IsLight() && !rec.IsDirectional() && !yield(rec) {
				return
			}
		}
	}
}

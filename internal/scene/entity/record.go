package entity

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/handle"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/scene/octree"
)

type Kind uint8

const (
	KindPrimitive Kind = iota
	KindLight
)

func (k Kind) String() string {
	if k == KindLight {
		return "light"
	}
	return "primitive"
}

type Flags uint8

const (
	FlagEnabled Flags = 1 << iota
	FlagCastsShadow
)

func (f Flags) Has(o Flags) bool { return f&o == o }

// Record is the engine's state for one entity. It is created by the
// producer API, filled in when its Add is applied, and dropped when its
// Remove is applied. Everything except the finalized flag is touched only by
// the consumer goroutine.
type Record struct {
	Handle     handle.Handle
	Capability Capability
	Tag        Tag
	Kind       Kind
	LightType  LightType

	LocalToWorld     mgl64.Mat4
	PrevLocalToWorld mgl64.Mat4
	Bounds           geom.AABB
	Flags            Flags
	Instances        []mgl64.Mat4

	// Light payload.
	Color      mgl64.Vec3
	Brightness float64
	// Primitive payload. MaxDrawDistance 0 is unlimited.
	CustomData      []float32
	MinDrawDistance float64
	MaxDrawDistance float64

	// PackedSlot moves whenever the table compacts. -1 when absent.
	PackedSlot      int
	PersistentIndex index.PersistentIndex
	// OctreeID is refreshed by the tree's move callback.
	OctreeID octree.ElementID

	finalized atomic.Bool
}

// NewRecord snapshots the capability's initial state. The record is not in
// the table until its Add is applied.
func NewRecord(h handle.Handle, c Capability) *Record {
	r := &Record{
		Handle:          h,
		Capability:      c,
		Tag:             c.ClassificationTag(),
		LocalToWorld:    c.LocalToWorld(),
		Bounds:          c.Bounds(),
		Flags:           FlagEnabled | FlagCastsShadow,
		PackedSlot:      -1,
		PersistentIndex: index.Invalid,
		OctreeID:        octree.NoElement,
	}
	r.PrevLocalToWorld = r.LocalToWorld
	if ls, ok := c.(LightSource); ok {
		r.Kind = KindLight
		r.LightType = ls.LightType()
	}
	if l, ok := c.(*Light); ok {
		r.Color, r.Brightness = l.Color, l.Brightness
	}
	return r
}

func (r *Record) IsLight() bool { return r.Kind == KindLight }

// IsDirectional lights affect every primitive and live outside the octree.
func (r *Record) IsDirectional() bool {
	return r.Kind == KindLight && r.LightType == LightDirectional
}

func (r *Record) Enabled() bool { return r.Flags.Has(FlagEnabled) }

func (r *Record) InTable() bool { return r.PackedSlot >= 0 }

// Finalize marks the record as removed. Safe from any goroutine.
func (r *Record) Finalize() { r.finalized.Store(true) }

func (r *Record) Finalized() bool { return r.finalized.Load() }

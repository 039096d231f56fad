package entity

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/index"
)

// Tag classifies an entity. Every tag owns one contiguous bucket of the
// packed table. AlwaysVisible entities skip per-frame visibility tests and
// are grouped at the tail of the table.
type Tag struct {
	Name          string
	AlwaysVisible bool
}

func (t Tag) String() string { return t.Name }

// Capability is the producer-owned object behind an entity. The engine keeps
// a reference to it and calls the hooks on the consumer goroutine.
type Capability interface {
	Bounds() geom.AABB
	LocalToWorld() mgl64.Mat4
	ClassificationTag() Tag
	OnAttach(index.PersistentIndex)
	OnDetach()
}

type LightType uint8

const (
	LightPoint LightType = iota
	LightSpot
	LightDirectional
)

func (t LightType) String() string {
	switch t {
	case LightPoint:
		return "point"
	case LightSpot:
		return "spot"
	case LightDirectional:
		return "directional"
	}
	return "unknown"
}

// LightSource marks capabilities that are lights.
type LightSource interface {
	LightType() LightType
}

// attachment records the index the engine assigned. Embedded by variants.
type attachment struct {
	index atomic.Int32
	live  atomic.Bool
}

func (a *attachment) OnAttach(pi index.PersistentIndex) {
	a.index.Store(int32(pi))
	a.live.Store(true)
}

func (a *attachment) OnDetach() {
	a.live.Store(false)
	a.index.Store(int32(index.Invalid))
}

// Attached reports the persistent index while the entity is in the scene.
func (a *attachment) Attached() (index.PersistentIndex, bool) {
	if !a.live.Load() {
		return index.Invalid, false
	}
	return index.PersistentIndex(a.index.Load()), true
}

// StaticMesh is a primitive with fixed local bounds.
type StaticMesh struct {
	attachment
	Mesh        string
	Tag         Tag
	Transform   mgl64.Mat4
	LocalBounds geom.AABB
}

func (m *StaticMesh) Bounds() geom.AABB        { return m.LocalBounds.Transform(m.Transform) }
func (m *StaticMesh) LocalToWorld() mgl64.Mat4 { return m.Transform }
func (m *StaticMesh) ClassificationTag() Tag   { return m.Tag }

// Light is a point, spot or directional light. Directional lights have
// infinite bounds and are not stored in the spatial index.
type Light struct {
	attachment
	Type      LightType
	Tag       Tag
	Transform mgl64.Mat4
	Radius     float64
	Color      mgl64.Vec3
	Brightness float64
}

func (l *Light) Bounds() geom.AABB {
	if l.Type == LightDirectional {
		return geom.Infinite
	}
	return geom.FromSphere(geom.Translation(l.Transform), l.Radius)
}

func (l *Light) LocalToWorld() mgl64.Mat4 { return l.Transform }
func (l *Light) ClassificationTag() Tag   { return l.Tag }
func (l *Light) LightType() LightType     { return l.Type }

// Decal projects onto primitives inside a unit box scaled by its transform.
type Decal struct {
	attachment
	Material  string
	Tag       Tag
	Transform mgl64.Mat4
}

func (d *Decal) Bounds() geom.AABB {
	unit := geom.FromCenterExtent(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1})
	return unit.Transform(d.Transform)
}

func (d *Decal) LocalToWorld() mgl64.Mat4 { return d.Transform }
func (d *Decal) ClassificationTag() Tag   { return d.Tag }

// BoundsAt returns the world bounds c would have at localToWorld. Unknown
// variants keep their current bounds.
func BoundsAt(c Capability, localToWorld mgl64.Mat4) geom.AABB {
	switch v := c.(type) {
	case *StaticMesh:
		return v.LocalBounds.Transform(localToWorld)
	case *Light:
		if v.Type == LightDirectional {
			return geom.Infinite
		}
		return geom.FromSphere(geom.Translation(localToWorld), v.Radius)
	case *Decal:
		unit := geom.FromCenterExtent(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1})
		return unit.Transform(localToWorld)
	}
	return c.Bounds()
}

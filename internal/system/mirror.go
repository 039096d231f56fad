package system

import (
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/l1jgo/scenesync/internal/core/event"
	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/index"
	coresys "github.com/l1jgo/scenesync/internal/core/system"
	"github.com/l1jgo/scenesync/internal/scene"
	"github.com/l1jgo/scenesync/internal/scene/entity"
)

// MirrorEntry is the per-index state a GPU scene buffer would hold.
type MirrorEntry struct {
	Live             bool
	LocalToWorld     mgl64.Mat4
	PrevLocalToWorld mgl64.Mat4
	Bounds           geom.AABB
	Flags            entity.Flags
	Attributes       entity.Attributes

	Color           mgl64.Vec3
	Brightness      float64
	CustomData      []float32
	MinDrawDistance float64
	MaxDrawDistance float64
}

// MirrorSystem keeps a CPU copy of per-entity GPU data indexed by
// persistent index, uploading only what the last frame dirtied. It also
// delivers the frame's events. Phase 2 (Mirror).
type MirrorSystem struct {
	scene   *scene.Scene
	bus     *event.Bus
	log     *zap.Logger
	entries []MirrorEntry

	uploads  int
	attached int
	detached int
}

func NewMirrorSystem(sc *scene.Scene, bus *event.Bus, log *zap.Logger) *MirrorSystem {
	m := &MirrorSystem{scene: sc, bus: bus, log: log}
	event.Subscribe(bus, func(event.EntityAttached) { m.attached++ })
	event.Subscribe(bus, func(event.EntityDetached) { m.detached++ })
	return m
}

func (m *MirrorSystem) Phase() coresys.Phase { return coresys.PhaseMirror }

func (m *MirrorSystem) Update(_ time.Duration) {
	m.bus.SwapBuffers()
	m.bus.DispatchAll()

	table := m.scene.Table()
	for _, d := range m.scene.DirtyIndices() {
		if n := int(d.Index) + 1; n > len(m.entries) {
			m.entries = append(m.entries, make([]MirrorEntry, max(n, m.scene.MaxIndex())-len(m.entries))...)
		}
		slot := m.scene.Slot(d.Index)
		if slot < 0 {
			m.entries[d.Index] = MirrorEntry{}
			continue
		}
		rec := table.Record(slot)
		m.entries[d.Index] = MirrorEntry{
			Live:             true,
			LocalToWorld:     table.Transform(slot),
			PrevLocalToWorld: rec.PrevLocalToWorld,
			Bounds:           table.Bounds(slot),
			Flags:            table.Flags(slot),
			Attributes:       table.Attributes(slot),
			Color:            rec.Color,
			Brightness:       rec.Brightness,
			CustomData:       slices.Clone(rec.CustomData),
			MinDrawDistance:  rec.MinDrawDistance,
			MaxDrawDistance:  rec.MaxDrawDistance,
		}
		m.uploads++
	}
}

// Entry returns the mirrored state of pi.
func (m *MirrorSystem) Entry(pi index.PersistentIndex) MirrorEntry {
	if pi < 0 || int(pi) >= len(m.entries) {
		return MirrorEntry{}
	}
	return m.entries[pi]
}

// Uploads counts entries copied since start.
func (m *MirrorSystem) Uploads() int { return m.uploads }

// Attached and Detached count delivered entity events.
func (m *MirrorSystem) Attached() int { return m.attached }
func (m *MirrorSystem) Detached() int { return m.detached }

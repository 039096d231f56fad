package entity

import (
	"hash/fnv"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
)

// Attributes are per-slot values derived from a record after the structural
// step of a frame. Downstream readers index them by packed slot.
type Attributes struct {
	WorldCenter     mgl64.Vec3
	WorldRadius     float64
	MaxScale        float64
	DeterminantSign float64
	InstanceCount   int
	DrawKey         uint64
}

// ComputeAttributes derives the cached attributes of r.
func ComputeAttributes(r *Record) Attributes {
	a := Attributes{
		MaxScale:        geom.MaxAxisScale(r.LocalToWorld),
		DeterminantSign: geom.DeterminantSign(r.LocalToWorld),
		InstanceCount:   max(1, len(r.Instances)),
	}
	switch {
	case r.Bounds.IsInfinite():
		a.WorldCenter = geom.Translation(r.LocalToWorld)
		a.WorldRadius = math.Inf(1)
	case r.Bounds.IsEmpty():
		a.WorldCenter = geom.Translation(r.LocalToWorld)
	default:
		a.WorldCenter = r.Bounds.Center()
		a.WorldRadius = r.Bounds.Extent().Len()
	}
	return a
}

// DrawKey orders draw commands: tag, then mirroring, then shadow casting.
// It changes only when one of those inputs changes.
func DrawKey(r *Record, a Attributes) uint64 {
	h := fnv.New64a()
	h.Write([]byte(r.Tag.Name))
	key := h.Sum64() &^ 0x3
	if a.DeterminantSign < 0 {
		key |= 0x2
	}
	if r.Flags.Has(FlagCastsShadow) {
		key |= 0x1
	}
	return key
}

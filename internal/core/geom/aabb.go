package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AABB is an axis-aligned bounding box. Min > Max on any axis means empty.
type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// Infinite covers all of space. Directional lights use it.
var Infinite = AABB{
	Min: mgl64.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	Max: mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)},
}

// Empty is the identity for Union.
var Empty = AABB{
	Min: mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)},
	Max: mgl64.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
}

// FromCenterExtent builds a box from its center and half size.
func FromCenterExtent(center, extent mgl64.Vec3) AABB {
	return AABB{Min: center.Sub(extent), Max: center.Add(extent)}
}

// FromSphere builds the box enclosing a sphere.
func FromSphere(center mgl64.Vec3, radius float64) AABB {
	return FromCenterExtent(center, mgl64.Vec3{radius, radius, radius})
}

func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

func (b AABB) IsInfinite() bool {
	for i := 0; i < 3; i++ {
		if math.IsInf(b.Min[i], -1) || math.IsInf(b.Max[i], 1) {
			return true
		}
	}
	return false
}

func (b AABB) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extent returns the half size.
func (b AABB) Extent() mgl64.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

// Intersects reports overlap; touching faces count as overlap.
func (b AABB) Intersects(o AABB) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside b.
func (b AABB) Contains(o AABB) bool {
	for i := 0; i < 3; i++ {
		if o.Min[i] < b.Min[i] || o.Max[i] > b.Max[i] {
			return false
		}
	}
	return true
}

func (b AABB) Union(o AABB) AABB {
	var r AABB
	for i := 0; i < 3; i++ {
		r.Min[i] = math.Min(b.Min[i], o.Min[i])
		r.Max[i] = math.Max(b.Max[i], o.Max[i])
	}
	return r
}

// Translate shifts the box. Infinite boxes stay infinite.
func (b AABB) Translate(d mgl64.Vec3) AABB {
	return AABB{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// Transform returns the box enclosing b's eight corners under m.
func (b AABB) Transform(m mgl64.Mat4) AABB {
	if b.IsEmpty() || b.IsInfinite() {
		return b
	}
	r := Empty
	for i := 0; i < 8; i++ {
		c := mgl64.Vec3{b.Min[0], b.Min[1], b.Min[2]}
		if i&1 != 0 {
			c[0] = b.Max[0]
		}
		if i&2 != 0 {
			c[1] = b.Max[1]
		}
		if i&4 != 0 {
			c[2] = b.Max[2]
		}
		p := mgl64.TransformCoordinate(c, m)
		r = r.Union(AABB{Min: p, Max: p})
	}
	return r
}

// Equal compares with an absolute tolerance.
func (b AABB) Equal(o AABB, eps float64) bool {
	for i := 0; i < 3; i++ {
		if !approx(b.Min[i], o.Min[i], eps) || !approx(b.Max[i], o.Max[i], eps) {
			return false
		}
	}
	return true
}

func approx(a, b, eps float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= eps
}

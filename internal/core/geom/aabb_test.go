package geom

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestAABB_IntersectsAndContains(t *testing.T) {
	a := FromCenterExtent(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1})
	b := FromCenterExtent(mgl64.Vec3{1.5, 0, 0}, mgl64.Vec3{1, 1, 1})
	c := FromCenterExtent(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{1, 1, 1})

	if !a.Intersects(b) {
		t.Errorf("expected overlapping boxes to intersect")
	}
	if a.Intersects(c) {
		t.Errorf("expected distant boxes not to intersect")
	}
	if !Infinite.Intersects(c) {
		t.Errorf("infinite box must intersect everything")
	}
	if !Infinite.Contains(a) {
		t.Errorf("infinite box must contain everything")
	}
	if a.Contains(b) {
		t.Errorf("a must not contain b")
	}
	if Empty.Intersects(a) {
		t.Errorf("empty box must not intersect")
	}
}

func TestAABB_Transform(t *testing.T) {
	a := FromCenterExtent(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 2, 3})
	moved := a.Transform(mgl64.Translate3D(10, 0, 0))
	want := FromCenterExtent(mgl64.Vec3{10, 0, 0}, mgl64.Vec3{1, 2, 3})
	if !moved.Equal(want, 1e-9) {
		t.Fatalf("got %v, want %v", moved, want)
	}

	scaled := a.Transform(mgl64.Scale3D(2, 2, 2))
	if !scaled.Equal(FromCenterExtent(mgl64.Vec3{}, mgl64.Vec3{2, 4, 6}), 1e-9) {
		t.Fatalf("unexpected scaled box %v", scaled)
	}
}

func TestTransformHelpers(t *testing.T) {
	m := mgl64.Translate3D(1, 2, 3).Mul4(mgl64.Scale3D(2, -1, 1))
	if got := Translation(m); got != (mgl64.Vec3{1, 2, 3}) {
		t.Errorf("translation = %v", got)
	}
	if got := MaxAxisScale(m); got != 2 {
		t.Errorf("max scale = %v", got)
	}
	if got := DeterminantSign(m); got != -1 {
		t.Errorf("determinant sign = %v", got)
	}
	r := Rebase(m, mgl64.Vec3{-1, -2, -3})
	if got := Translation(r); got != (mgl64.Vec3{}) {
		t.Errorf("rebased translation = %v", got)
	}
}

package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Translation extracts the translation column of an affine matrix.
func Translation(m mgl64.Mat4) mgl64.Vec3 {
	return mgl64.Vec3{m[12], m[13], m[14]}
}

// Rebase shifts the translation of an affine matrix by d.
func Rebase(m mgl64.Mat4, d mgl64.Vec3) mgl64.Mat4 {
	m[12] += d[0]
	m[13] += d[1]
	m[14] += d[2]
	return m
}

// MaxAxisScale returns the largest basis vector length of the upper 3x3.
func MaxAxisScale(m mgl64.Mat4) float64 {
	sx := mgl64.Vec3{m[0], m[1], m[2]}.Len()
	sy := mgl64.Vec3{m[4], m[5], m[6]}.Len()
	sz := mgl64.Vec3{m[8], m[9], m[10]}.Len()
	return math.Max(sx, math.Max(sy, sz))
}

// DeterminantSign is -1 for mirroring transforms and 1 otherwise.
func DeterminantSign(m mgl64.Mat4) float64 {
	if m.Mat3().Det() < 0 {
		return -1
	}
	return 1
}

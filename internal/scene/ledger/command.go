package ledger

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/scene/entity"
)

type Kind uint8

const (
	KindAdd Kind = iota
	KindRemove
	KindTransform
	KindInstances
	KindProperties
	KindPreviousTransform
	KindLightColor
	KindCustomData
	KindDrawDistance
)

var kindNames = [...]string{
	"add", "remove", "transform", "instances", "properties", "previous-transform",
	"light-color", "custom-data", "draw-distance",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Command is one queued mutation.
type Command interface {
	Kind() Kind
}

// Update is a command that mutates a record in place.
type Update interface {
	Command
	Apply(r *entity.Record)
}

type Add struct{}

func (Add) Kind() Kind { return KindAdd }

type Remove struct{}

func (Remove) Kind() Kind { return KindRemove }

// TransformUpdate moves an entity. The current transform becomes the
// previous one unless an override follows.
type TransformUpdate struct {
	LocalToWorld mgl64.Mat4
	Bounds       geom.AABB
}

func (TransformUpdate) Kind() Kind { return KindTransform }

func (c TransformUpdate) Apply(r *entity.Record) {
	r.PrevLocalToWorld = r.LocalToWorld
	r.LocalToWorld = c.LocalToWorld
	r.Bounds = c.Bounds
}

// InstanceUpdate replaces the instance transforms and the combined bounds.
type InstanceUpdate struct {
	Instances []mgl64.Mat4
	Bounds    geom.AABB
}

func (InstanceUpdate) Kind() Kind { return KindInstances }

func (c InstanceUpdate) Apply(r *entity.Record) {
	r.Instances = c.Instances
	r.Bounds = c.Bounds
}

// PropertyUpdate sets then clears flag bits.
type PropertyUpdate struct {
	Set   entity.Flags
	Clear entity.Flags
}

func (PropertyUpdate) Kind() Kind { return KindProperties }

func (c PropertyUpdate) Apply(r *entity.Record) {
	r.Flags = (r.Flags | c.Set) &^ c.Clear
}

// PreviousTransformOverride replaces the transform used for velocity.
type PreviousTransformOverride struct {
	LocalToWorld mgl64.Mat4
}

func (PreviousTransformOverride) Kind() Kind { return KindPreviousTransform }

func (c PreviousTransformOverride) Apply(r *entity.Record) {
	r.PrevLocalToWorld = c.LocalToWorld
}

// LightColorUpdate changes a light's color and brightness.
type LightColorUpdate struct {
	Color      mgl64.Vec3
	Brightness float64
}

func (LightColorUpdate) Kind() Kind { return KindLightColor }

func (c LightColorUpdate) Apply(r *entity.Record) {
	r.Color = c.Color
	r.Brightness = c.Brightness
}

// CustomDataUpdate replaces the per-primitive shader payload. The slice is
// owned by the command.
type CustomDataUpdate struct {
	Data []float32
}

func (CustomDataUpdate) Kind() Kind { return KindCustomData }

func (c CustomDataUpdate) Apply(r *entity.Record) {
	r.CustomData = c.Data
}

// DrawDistanceUpdate sets the camera distance range a primitive draws in.
type DrawDistanceUpdate struct {
	Min float64
	Max float64
}

func (DrawDistanceUpdate) Kind() Kind { return KindDrawDistance }

func (c DrawDistanceUpdate) Apply(r *entity.Record) {
	r.MinDrawDistance = c.Min
	r.MaxDrawDistance = c.Max
}

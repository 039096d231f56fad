package data

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/scene/entity"
)

// FixtureEntity is one entity of a scene fixture.
type FixtureEntity struct {
	Ref      string     `yaml:"ref"`
	Kind     string     `yaml:"kind"` // mesh, decal, point, spot, directional
	Tag      string     `yaml:"tag"`
	Position [3]float64 `yaml:"position"`
	Extent   [3]float64 `yaml:"extent,omitempty"` // mesh half size, decal scale
	Radius   float64    `yaml:"radius,omitempty"` // point and spot lights
	Mesh     string     `yaml:"mesh,omitempty"`
	Disabled bool       `yaml:"disabled,omitempty"`
	NoShadow bool       `yaml:"no_shadow,omitempty"`
}

// Fixture is an initial scene loaded before the first frame.
type Fixture struct {
	Name     string          `yaml:"name"`
	Entities []FixtureEntity `yaml:"entities"`
}

// LoadFixture loads a scene fixture and checks every tag against tags.
func LoadFixture(path string, tags *TagTable) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	refs := make(map[string]bool, len(f.Entities))
	for i, e := range f.Entities {
		if _, ok := tags.Get(e.Tag); !ok {
			return nil, fmt.Errorf("fixture entity %d (%s): unknown tag %q", i, e.Ref, e.Tag)
		}
		if e.Ref != "" {
			if refs[e.Ref] {
				return nil, fmt.Errorf("fixture entity %d: duplicate ref %q", i, e.Ref)
			}
			refs[e.Ref] = true
		}
		if _, err := e.Capability(tags); err != nil {
			return nil, fmt.Errorf("fixture entity %d (%s): %w", i, e.Ref, err)
		}
	}
	return &f, nil
}

// WriteFixture writes f as yaml.
func WriteFixture(path string, f *Fixture) error {
	raw, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	return nil
}

// Capability builds the entity described by e.
func (e FixtureEntity) Capability(tags *TagTable) (entity.Capability, error) {
	tag, ok := tags.Get(e.Tag)
	if !ok {
		return nil, fmt.Errorf("unknown tag %q", e.Tag)
	}
	at := mgl64.Translate3D(e.Position[0], e.Position[1], e.Position[2])
	switch e.Kind {
	case "mesh":
		ext := mgl64.Vec3(e.Extent)
		if ext == (mgl64.Vec3{}) {
			ext = mgl64.Vec3{0.5, 0.5, 0.5}
		}
		return &entity.StaticMesh{
			Mesh:        e.Mesh,
			Tag:         tag,
			Transform:   at,
			LocalBounds: geom.FromCenterExtent(mgl64.Vec3{}, ext),
		}, nil
	case "decal":
		scale := mgl64.Vec3(e.Extent)
		if scale == (mgl64.Vec3{}) {
			scale = mgl64.Vec3{1, 1, 1}
		}
		return &entity.Decal{Material: e.Mesh, Tag: tag, Transform: at.Mul4(mgl64.Scale3D(scale[0], scale[1], scale[2]))}, nil
	case "point", "spot", "directional":
		typ := map[string]entity.LightType{
			"point":       entity.LightPoint,
			"spot":        entity.LightSpot,
			"directional": entity.LightDirectional,
		}[e.Kind]
		if typ != entity.LightDirectional && e.Radius <= 0 {
			return nil, fmt.Errorf("%s light needs a positive radius", e.Kind)
		}
		return &entity.Light{Type: typ, Tag: tag, Transform: at, Radius: e.Radius, Color: mgl64.Vec3{1, 1, 1}, Brightness: 1}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", e.Kind)
}

// Flags returns the initial flags of e.
func (e FixtureEntity) Flags() (set, clear entity.Flags) {
	if e.Disabled {
		clear |= entity.FlagEnabled
	}
	if e.NoShadow {
		clear |= entity.FlagCastsShadow
	}
	return 0, clear
}

func (f *Fixture) Count() int { return len(f.Entities) }

package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/l1jgo/scenesync/internal/core/handle"
	coresys "github.com/l1jgo/scenesync/internal/core/system"
	"github.com/l1jgo/scenesync/internal/data"
	"github.com/l1jgo/scenesync/internal/scene"
	"github.com/l1jgo/scenesync/internal/scene/entity"
	"github.com/l1jgo/scenesync/internal/scripting"
)

var (
	errUnknownRef   = errors.New("unknown ref")
	errDuplicateRef = errors.New("ref already spawned")
	errUnknownType  = errors.New("unknown command type")
)

// spawned is what a producer remembers about one of its entities.
type spawned struct {
	handle handle.Handle
	cap    entity.Capability
}

// ProducerSystem runs the Lua producers and turns their commands into scene
// requests. Phase 0 (Produce).
type ProducerSystem struct {
	scene   *scene.Scene
	set     *scripting.ProducerSet
	tags    *data.TagTable
	log     *zap.Logger
	timeout time.Duration
	frame   uint64

	mu   sync.Mutex
	refs map[string]map[string]spawned // producer -> ref -> entity
}

func NewProducerSystem(sc *scene.Scene, set *scripting.ProducerSet, tags *data.TagTable, timeout time.Duration, log *zap.Logger) *ProducerSystem {
	refs := make(map[string]map[string]spawned, set.Len())
	for _, name := range set.Names() {
		refs[name] = make(map[string]spawned)
	}
	return &ProducerSystem{
		scene:   sc,
		set:     set,
		tags:    tags,
		log:     log,
		timeout: timeout,
		refs:    refs,
	}
}

func (s *ProducerSystem) Phase() coresys.Phase { return coresys.PhaseProduce }

func (s *ProducerSystem) Update(_ time.Duration) {
	s.frame++
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	fc := scripting.FrameContext{Frame: s.frame, Live: s.scene.Len()}
	if err := s.set.RunFrame(ctx, fc, s); err != nil {
		s.log.Error("producers failed", zap.Uint64("frame", s.frame), zap.Error(err))
	}
}

// Live returns how many entities a producer currently owns.
func (s *ProducerSystem) Live(producer string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs[producer])
}

// Submit applies one producer's commands. Only a closed scene is an error;
// bad commands are logged and skipped.
func (s *ProducerSystem) Submit(producer string, cmds []scripting.Command) error {
	for _, c := range cmds {
		err := s.apply(producer, c)
		switch {
		case err == nil:
		case errors.Is(err, scene.ErrClosed):
			return err
		default:
			s.log.Warn("producer command rejected",
				zap.String("producer", producer),
				zap.String("type", c.Type),
				zap.String("ref", c.Ref),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *ProducerSystem) apply(producer string, c scripting.Command) error {
	if c.Type == "spawn" {
		return s.spawn(producer, c)
	}
	e, ok := s.lookup(producer, c.Ref)
	if !ok {
		return errUnknownRef
	}
	switch c.Type {
	case "despawn":
		s.forget(producer, c.Ref)
		return s.scene.Remove(e.handle)
	case "move":
		m := mgl64.Translate3D(c.X, c.Y, c.Z)
		return s.scene.UpdateTransform(e.handle, m, entity.BoundsAt(e.cap, m))
	case "enable":
		return s.scene.SetEnabled(e.handle, true)
	case "disable":
		return s.scene.SetEnabled(e.handle, false)
	case "color":
		return s.scene.UpdateLightColor(e.handle, mgl64.Vec3{c.R, c.G, c.B}, c.Brightness)
	}
	return errUnknownType
}

func (s *ProducerSystem) spawn(producer string, c scripting.Command) error {
	if _, dup := s.lookup(producer, c.Ref); dup {
		return errDuplicateRef
	}
	fe := data.FixtureEntity{
		Ref:      c.Ref,
		Kind:     c.Kind,
		Tag:      c.Tag,
		Position: [3]float64{c.X, c.Y, c.Z},
		Radius:   c.Radius,
	}
	c0, err := fe.Capability(s.tags)
	if err != nil {
		return err
	}
	h, err := s.scene.Add(c0)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.refs[producer] == nil {
		s.refs[producer] = make(map[string]spawned)
	}
	s.refs[producer][c.Ref] = spawned{handle: h, cap: c0}
	s.mu.Unlock()
	return nil
}

func (s *ProducerSystem) lookup(producer, ref string) (spawned, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.refs[producer][ref]
	return e, ok
}

func (s *ProducerSystem) forget(producer, ref string) {
	s.mu.Lock()
	delete(s.refs[producer], ref)
	s.mu.Unlock()
}

// SpawnFixture adds every fixture entity to the scene and returns handles
// by ref. Entities without a ref are added but not returned.
func SpawnFixture(sc *scene.Scene, f *data.Fixture, tags *data.TagTable) (map[string]handle.Handle, error) {
	out := make(map[string]handle.Handle, len(f.Entities))
	for i, e := range f.Entities {
		c, err := e.Capability(tags)
		if err != nil {
			return nil, fmt.Errorf("fixture entity %d: %w", i, err)
		}
		h, err := sc.Add(c)
		if err != nil {
			return nil, fmt.Errorf("fixture entity %d: %w", i, err)
		}
		if set, clear := e.Flags(); set != 0 || clear != 0 {
			if err := sc.UpdateProperties(h, set, clear); err != nil {
				return nil, fmt.Errorf("fixture entity %d: %w", i, err)
			}
		}
		if e.Ref != "" {
			out[e.Ref] = h
		}
	}
	return out, nil
}

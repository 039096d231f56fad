package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Command is one scene request returned by a producer script.
type Command struct {
	Type   string // "spawn", "despawn", "move", "enable", "disable", "color"
	Ref    string // producer-local entity name
	Kind   string // spawn only: mesh, decal, point, spot, directional
	Tag    string // spawn only
	X      float64
	Y      float64
	Z      float64
	Radius float64

	// color only
	R, G, B    float64
	Brightness float64
}

// FrameContext is the table handed to on_frame.
type FrameContext struct {
	Frame uint64
	Live  int // entities in the scene after the last frame
}

// Sink receives the commands of one producer for one frame, in script
// order. Called concurrently for different producers.
type Sink interface {
	Submit(producer string, cmds []Command) error
}

// Producer wraps one gopher-lua VM running one script. An LState is not
// safe for concurrent use, so each producer owns its own.
type Producer struct {
	name string
	vm   *lua.LState
	log  *zap.Logger
}

func newProducer(path string, seed int64, log *zap.Logger) (*Producer, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := &Producer{name: name, vm: vm, log: log.With(zap.String("producer", name))}

	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("log", vm.NewFunction(p.luaLog))
	if err := vm.DoString(fmt.Sprintf("math.randomseed(%d)", seed)); err != nil {
		vm.Close()
		return nil, fmt.Errorf("seed %s: %w", name, err)
	}
	if err := vm.DoFile(path); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if vm.GetGlobal("on_frame") == lua.LNil {
		vm.Close()
		return nil, fmt.Errorf("load %s: on_frame not defined", path)
	}
	return p, nil
}

func (p *Producer) Name() string { return p.name }

// luaLog exposes log(msg) to scripts.
func (p *Producer) luaLog(L *lua.LState) int {
	p.log.Debug("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// OnFrame calls on_frame(ctx) and parses the returned command array.
func (p *Producer) OnFrame(fc FrameContext) ([]Command, error) {
	t := p.vm.NewTable()
	t.RawSetString("frame", lua.LNumber(fc.Frame))
	t.RawSetString("live", lua.LNumber(fc.Live))

	if err := p.vm.CallByParam(lua.P{
		Fn:      p.vm.GetGlobal("on_frame"),
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		return nil, fmt.Errorf("%s on_frame: %w", p.name, err)
	}

	result := p.vm.Get(-1)
	p.vm.Pop(1)
	if result == lua.LNil {
		return nil, nil
	}
	rt, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%s on_frame returned %s, want table", p.name, result.Type())
	}

	cmds := make([]Command, 0, rt.Len())
	var err error
	for i := 1; i <= rt.Len(); i++ {
		row, ok := rt.RawGetInt(i).(*lua.LTable)
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%s command %d is not a table", p.name, i))
			continue
		}
		c := Command{
			Type:       lStr(row, "type"),
			Ref:        lStr(row, "ref"),
			Kind:       lStr(row, "kind"),
			Tag:        lStr(row, "tag"),
			X:          lNum(row, "x"),
			Y:          lNum(row, "y"),
			Z:          lNum(row, "z"),
			Radius:     lNum(row, "radius"),
			R:          lNum(row, "r"),
			G:          lNum(row, "g"),
			B:          lNum(row, "b"),
			Brightness: lNum(row, "brightness"),
		}
		if c.Ref == "" {
			err = multierr.Append(err, fmt.Errorf("%s command %d (%s) has no ref", p.name, i, c.Type))
			continue
		}
		cmds = append(cmds, c)
	}
	return cmds, err
}

func (p *Producer) Close() { p.vm.Close() }

// ProducerSet runs every script of a directory once per frame.
type ProducerSet struct {
	producers []*Producer
	log       *zap.Logger
}

// NewProducerSet loads every .lua file of dir in name order. A missing
// directory yields an empty set.
func NewProducerSet(dir string, seed int64, log *zap.Logger) (*ProducerSet, error) {
	s := &ProducerSet{log: log}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(files)
	for i, path := range files {
		p, err := newProducer(path, seed+int64(i), log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.producers = append(s.producers, p)
		log.Debug("loaded lua producer", zap.String("file", path))
	}
	return s, nil
}

func (s *ProducerSet) Len() int { return len(s.producers) }

func (s *ProducerSet) Names() []string {
	names := make([]string, len(s.producers))
	for i, p := range s.producers {
		names[i] = p.name
	}
	return names
}

// RunFrame runs every producer concurrently and submits their commands.
// A failing script is logged and skipped for this frame; sink errors abort.
func (s *ProducerSet) RunFrame(ctx context.Context, fc FrameContext, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.producers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cmds, err := p.OnFrame(fc)
			if err != nil {
				s.log.Warn("lua producer error", zap.String("producer", p.name), zap.Uint64("frame", fc.Frame), zap.Error(err))
			}
			if len(cmds) == 0 {
				return nil
			}
			return sink.Submit(p.name, cmds)
		})
	}
	return g.Wait()
}

// Close shuts down every Lua VM.
func (s *ProducerSet) Close() {
	for _, p := range s.producers {
		p.Close()
	}
	s.producers = nil
}

// lNum reads a number field from a Lua table.
func lNum(t *lua.LTable, key string) float64 {
	return float64(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

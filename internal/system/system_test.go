package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/scenesync/internal/core/event"
	coresys "github.com/l1jgo/scenesync/internal/core/system"
	"github.com/l1jgo/scenesync/internal/data"
	"github.com/l1jgo/scenesync/internal/persist"
	"github.com/l1jgo/scenesync/internal/scene"
	"github.com/l1jgo/scenesync/internal/scripting"
)

type memWriter struct {
	batches [][]persist.FrameRow
}

func (w *memWriter) WriteBatch(_ context.Context, _ int64, rows []persist.FrameRow) error {
	w.batches = append(w.batches, append([]persist.FrameRow(nil), rows...))
	return nil
}

const walker = `
function on_frame(ctx)
  local cmds = {}
  if ctx.frame == 1 then
    for i = 1, 6 do
      cmds[#cmds + 1] = { type = "spawn", ref = "m" .. i, kind = "mesh", tag = "opaque", x = i * 3 }
    end
    cmds[#cmds + 1] = { type = "spawn", ref = "lamp", kind = "point", tag = "light", radius = 10 }
    cmds[#cmds + 1] = { type = "spawn", ref = "sky", kind = "mesh", tag = "sky" }
    return cmds
  end
  if ctx.frame == 2 then
    cmds[#cmds + 1] = { type = "color", ref = "lamp", r = 1, g = 0, b = 0, brightness = 3 }
    cmds[#cmds + 1] = { type = "color", ref = "m3", r = 1, g = 1, b = 1, brightness = 1 }
  end
  if ctx.frame == 3 then
    cmds[#cmds + 1] = { type = "despawn", ref = "m2" }
    cmds[#cmds + 1] = { type = "disable", ref = "lamp" }
    cmds[#cmds + 1] = { type = "move", ref = "nobody" }
  end
  cmds[#cmds + 1] = { type = "move", ref = "m1", x = ctx.frame, y = 1, z = 0 }
  return cmds
end
`

type harness struct {
	scene    *scene.Scene
	runner   *coresys.Runner
	producer *ProducerSystem
	mirror   *MirrorSystem
	stats    *StatsSystem
	writer   *memWriter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "walker.lua"), []byte(walker), 0o644); err != nil {
		t.Fatal(err)
	}
	tags, err := data.LoadTagTable(filepath.Join("..", "..", "data", "yaml", "tags.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	set, err := scripting.NewProducerSet(dir, 1, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(set.Close)

	bus := event.NewBus()
	opts := scene.DefaultOptions()
	opts.Workers = 2
	opts.DebugChecks = true
	sc, err := scene.New(opts, log, bus)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sc.Close)

	h := &harness{scene: sc, runner: coresys.NewRunner(), writer: &memWriter{}}
	h.producer = NewProducerSystem(sc, set, tags, time.Second, log)
	h.mirror = NewMirrorSystem(sc, bus, log)
	h.stats = NewStatsSystem(sc, h.writer, 1, 2, log)
	// Registered out of order; the runner sorts by phase.
	h.runner.Register(NewReportSystem(sc, 2, log))
	h.runner.Register(h.stats)
	h.runner.Register(h.mirror)
	h.runner.Register(NewSyncSystem(sc, time.Second, log))
	h.runner.Register(h.producer)
	return h
}

func (h *harness) checkMirror(t *testing.T) {
	t.Helper()
	table := h.scene.Table()
	for slot, rec := range table.Records() {
		e := h.mirror.Entry(rec.PersistentIndex)
		if !e.Live {
			t.Fatalf("index %d not mirrored", rec.PersistentIndex)
		}
		if e.Bounds != table.Bounds(slot) || e.LocalToWorld != table.Transform(slot) || e.Flags != table.Flags(slot) {
			t.Fatalf("index %d mirror out of date", rec.PersistentIndex)
		}
		if e.Attributes != table.Attributes(slot) {
			t.Fatalf("index %d attributes %+v, table %+v", rec.PersistentIndex, e.Attributes, table.Attributes(slot))
		}
		if e.Color != rec.Color || e.Brightness != rec.Brightness {
			t.Fatalf("index %d color %v/%v, record %v/%v", rec.PersistentIndex, e.Color, e.Brightness, rec.Color, rec.Brightness)
		}
	}
}

func TestFrameLoop(t *testing.T) {
	h := newHarness(t)

	h.runner.Tick(16 * time.Millisecond)
	if h.scene.Len() != 8 || h.producer.Live("walker") != 8 {
		t.Fatalf("len %d, producer live %d", h.scene.Len(), h.producer.Live("walker"))
	}
	if h.mirror.Attached() != 8 {
		t.Fatalf("attached events %d", h.mirror.Attached())
	}
	h.checkMirror(t)

	lamp := h.producer.refs["walker"]["lamp"].handle
	lampIndex, ok := h.scene.Index(lamp)
	if !ok {
		t.Fatal("lamp not indexed")
	}
	if e := h.mirror.Entry(lampIndex); e.Brightness != 1 {
		t.Fatalf("spawned lamp brightness %v", e.Brightness)
	}

	h.runner.Tick(16 * time.Millisecond)
	if e := h.mirror.Entry(lampIndex); e.Color != (mgl64.Vec3{1, 0, 0}) || e.Brightness != 3 {
		t.Fatalf("lamp color not mirrored: %v/%v", e.Color, e.Brightness)
	}
	h.runner.Tick(16 * time.Millisecond)
	if h.scene.Len() != 7 || h.mirror.Detached() != 1 {
		t.Fatalf("len %d detached %d", h.scene.Len(), h.mirror.Detached())
	}
	h.checkMirror(t)
	if b := h.scene.Buckets(); b[len(b)-1].Tag.Name != "sky" {
		t.Fatalf("sky bucket not packed last: %+v", b)
	}

	h.runner.Tick(16 * time.Millisecond)
	h.checkMirror(t)
	if len(h.writer.batches) != 2 || h.stats.Written() != 4 {
		t.Fatalf("batches %d written %d", len(h.writer.batches), h.stats.Written())
	}
	if got := h.writer.batches[0][0]; got.Frame != 1 || got.Added != 8 || len(got.Stages) != 8 {
		t.Fatalf("first row %+v", got)
	}
}

func TestStatsSystem_SkipsRepeatedFrame(t *testing.T) {
	h := newHarness(t)
	h.runner.TickPhase(coresys.PhaseProduce, 0)
	h.runner.TickPhase(coresys.PhaseSync, 0)
	h.stats.Update(0)
	h.stats.Update(0)
	h.stats.Flush()
	if h.stats.Written() != 1 {
		t.Fatalf("written %d", h.stats.Written())
	}
}

package packed

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/handle"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/scene/entity"
)

var (
	tagT1   = entity.Tag{Name: "t1"}
	tagT2   = entity.Tag{Name: "t2"}
	tagT3   = entity.Tag{Name: "t3"}
	tagSky  = entity.Tag{Name: "sky", AlwaysVisible: true}
	tagHud  = entity.Tag{Name: "hud", AlwaysVisible: true}
	allTags = []entity.Tag{tagT1, tagT2, tagT3, tagSky, tagHud}
)

type fixture struct {
	table *Table
	alloc *index.Allocator
	next  uint32
}

func newFixture(alignment int) *fixture {
	return &fixture{table: New(alignment), alloc: index.NewAllocator(0)}
}

func (f *fixture) records(tag entity.Tag, n int) []*entity.Record {
	out := make([]*entity.Record, n)
	for i := range out {
		f.next++
		mesh := &entity.StaticMesh{
			Tag:         tag,
			Transform:   mgl64.Translate3D(float64(f.next), 0, 0),
			LocalBounds: geom.FromCenterExtent(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1}),
		}
		r := entity.NewRecord(handle.New(f.next, 1), mesh)
		r.PersistentIndex = f.alloc.Allocate()
		out[i] = r
	}
	return out
}

func (f *fixture) add(recs []*entity.Record) {
	f.table.AddBatch(slices.Clone(recs))
}

func (f *fixture) remove(recs []*entity.Record) {
	f.table.RemoveBatch(slices.Clone(recs), f.alloc.Free)
	f.alloc.Consolidate()
}

func mustCheck(t *testing.T, tbl *Table) {
	t.Helper()
	if err := tbl.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func bucketSize(t *testing.T, tbl *Table, tag entity.Tag) int {
	t.Helper()
	start, end, ok := tbl.BucketRange(tag)
	if !ok {
		return 0
	}
	return end - start
}

func TestTable_Scenario(t *testing.T) {
	f := newFixture(32)
	t1 := f.records(tagT1, 100)
	t2 := f.records(tagT2, 50)
	f.add(append(slices.Clone(t1), t2...))
	mustCheck(t, f.table)

	b := f.table.Buckets()
	if len(b) != 2 || b[0].Tag != tagT1 || b[1].Tag != tagT2 {
		t.Fatalf("buckets = %+v, want t1 then t2", b)
	}
	if b[0].Offset != 100 || b[1].Offset != 150 {
		t.Fatalf("offsets = %d, %d", b[0].Offset, b[1].Offset)
	}

	// Remove 30 from t1.
	rng := rand.New(rand.NewSource(3))
	rng.Shuffle(len(t1), func(i, j int) { t1[i], t1[j] = t1[j], t1[i] })
	doomed, kept := t1[:30], t1[30:]
	t2Start, _, _ := f.table.BucketRange(tagT2)
	f.remove(doomed)
	mustCheck(t, f.table)

	if got := bucketSize(t, f.table, tagT1); got != 70 {
		t.Fatalf("t1 bucket = %d, want 70", got)
	}
	if got := bucketSize(t, f.table, tagT2); got != 50 {
		t.Fatalf("t2 bucket = %d, want 50", got)
	}
	if s, _, _ := f.table.BucketRange(tagT2); s != t2Start-30 {
		t.Fatalf("t2 starts at %d, want %d", s, t2Start-30)
	}
	for _, r := range kept {
		if f.table.Slot(r.PersistentIndex) != r.PackedSlot || f.table.Record(r.PackedSlot) != r {
			t.Fatalf("index %d does not resolve to its record", r.PersistentIndex)
		}
	}
	for _, r := range doomed {
		if r.PackedSlot != -1 {
			t.Fatalf("removed record still claims slot %d", r.PackedSlot)
		}
	}

	t2Before := map[*entity.Record]bool{}
	for _, r := range t2 {
		t2Before[r] = true
	}
	f.add(f.records(tagT1, 10))
	mustCheck(t, f.table)
	if got := bucketSize(t, f.table, tagT1); got != 80 {
		t.Fatalf("t1 bucket = %d, want 80", got)
	}
	s, e, _ := f.table.BucketRange(tagT2)
	if e-s != 50 {
		t.Fatalf("t2 bucket = %d, want 50", e-s)
	}
	for slot := s; slot < e; slot++ {
		if !t2Before[f.table.Record(slot)] {
			t.Fatalf("t2 bucket gained a foreign record at %d", slot)
		}
	}
}

func TestTable_BatchEquivalence(t *testing.T) {
	build := func() (*fixture, []*entity.Record) {
		f := newFixture(0)
		var all []*entity.Record
		for _, tag := range []entity.Tag{tagT1, tagT2, tagT3} {
			all = append(all, f.records(tag, 20)...)
		}
		f.add(all)
		return f, all
	}
	contents := func(tbl *Table) map[string][]handle.Handle {
		out := map[string][]handle.Handle{}
		for _, b := range tbl.Buckets() {
			s, e, _ := tbl.BucketRange(b.Tag)
			var hs []handle.Handle
			for i := s; i < e; i++ {
				hs = append(hs, tbl.Record(i).Handle)
			}
			slices.Sort(hs)
			out[b.Tag.Name] = hs
		}
		return out
	}

	batched, all := build()
	single, allSingle := build()
	pick := []int{0, 5, 21, 22, 40, 59}

	var doomed []*entity.Record
	for _, i := range pick {
		doomed = append(doomed, all[i])
	}
	batched.remove(doomed)
	for _, i := range pick {
		single.remove([]*entity.Record{allSingle[i]})
	}
	mustCheck(t, batched.table)
	mustCheck(t, single.table)

	a, b := contents(batched.table), contents(single.table)
	if len(a) != len(b) {
		t.Fatalf("bucket count differs: %d vs %d", len(a), len(b))
	}
	for name, hs := range a {
		if !slices.Equal(hs, b[name]) {
			t.Fatalf("bucket %s differs:\n batch  %v\n single %v", name, hs, b[name])
		}
	}
}

func TestTable_EmptyBucketDeleted(t *testing.T) {
	f := newFixture(0)
	t1 := f.records(tagT1, 3)
	t2 := f.records(tagT2, 4)
	t3 := f.records(tagT3, 2)
	f.add(append(append(slices.Clone(t1), t2...), t3...))

	f.remove(t2)
	mustCheck(t, f.table)
	b := f.table.Buckets()
	if len(b) != 2 || b[0].Tag != tagT1 || b[1].Tag != tagT3 {
		t.Fatalf("buckets = %+v", b)
	}

	// A tag that comes back is re-created in front of nothing always-visible,
	// i.e. appended.
	f.add(f.records(tagT2, 1))
	mustCheck(t, f.table)
	b = f.table.Buckets()
	if b[len(b)-1].Tag != tagT2 {
		t.Fatalf("returning tag should be appended, buckets = %+v", b)
	}
}

func TestTable_AlwaysVisibleTail(t *testing.T) {
	f := newFixture(32)
	f.add(f.records(tagSky, 5))
	f.add(f.records(tagT1, 40))
	f.add(f.records(tagHud, 3))
	f.add(f.records(tagT2, 7))
	mustCheck(t, f.table)

	var names []string
	for _, b := range f.table.Buckets() {
		names = append(names, b.Tag.Name)
	}
	if want := []string{"t1", "t2", "sky", "hud"}; !slices.Equal(names, want) {
		t.Fatalf("bucket order = %v, want %v", names, want)
	}
	// sky starts at 47, aligned up to 64 which is past the end (55).
	if got := f.table.AlwaysVisibleOffset(); got != -1 {
		t.Fatalf("AlwaysVisibleOffset = %d, want -1", got)
	}

	f.add(f.records(tagSky, 20))
	// sky still starts at 47; 64 < 75.
	if got := f.table.AlwaysVisibleOffset(); got != 64 {
		t.Fatalf("AlwaysVisibleOffset = %d, want 64", got)
	}

	unaligned := newFixture(0)
	unaligned.add(unaligned.records(tagT1, 3))
	unaligned.add(unaligned.records(tagSky, 2))
	if got := unaligned.table.AlwaysVisibleOffset(); got != 3 {
		t.Fatalf("unaligned AlwaysVisibleOffset = %d, want 3", got)
	}
	if got := newFixture(32).table.AlwaysVisibleOffset(); got != -1 {
		t.Fatalf("empty table AlwaysVisibleOffset = %d", got)
	}
}

func TestTable_RandomStress(t *testing.T) {
	f := newFixture(32)
	rng := rand.New(rand.NewSource(11))
	var live []*entity.Record

	for frame := 0; frame < 300; frame++ {
		if len(live) > 0 {
			k := rng.Intn(min(len(live), 12) + 1)
			rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
			f.remove(live[:k])
			live = live[k:]
		}
		var added []*entity.Record
		for k := rng.Intn(12); k > 0; k-- {
			added = append(added, f.records(allTags[rng.Intn(len(allTags))], 1)...)
		}
		f.add(added)
		live = append(live, added...)

		mustCheck(t, f.table)
		if f.table.Len() != len(live) {
			t.Fatalf("frame %d: len = %d, want %d", frame, f.table.Len(), len(live))
		}
		for _, r := range live {
			if f.table.Slot(r.PersistentIndex) != r.PackedSlot {
				t.Fatalf("frame %d: index %d stale", frame, r.PersistentIndex)
			}
		}
	}
}

func TestTable_ParallelArraysFollowRecords(t *testing.T) {
	f := newFixture(0)
	recs := append(f.records(tagT1, 10), f.records(tagT2, 10)...)
	f.add(recs)
	f.remove([]*entity.Record{recs[0], recs[3], recs[12]})
	f.add(f.records(tagT1, 4))

	for slot, r := range f.table.Records() {
		if f.table.Transform(slot) != r.LocalToWorld {
			t.Fatalf("slot %d transform belongs to another record", slot)
		}
		if f.table.Bounds(slot) != r.Bounds {
			t.Fatalf("slot %d bounds belong to another record", slot)
		}
	}
}

func TestTable_CorruptRemovalPanics(t *testing.T) {
	f := newFixture(0)
	recs := f.records(tagT1, 2)
	f.add(recs)
	f.remove(recs[:1])

	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt panic, got %v", err)
		}
	}()
	f.table.RemoveBatch([]*entity.Record{recs[0]}, nil)
}

func BenchmarkTable_AddRemove(b *testing.B) {
	f := newFixture(32)
	var live []*entity.Record
	for _, tag := range allTags {
		recs := f.records(tag, 2000)
		f.add(recs)
		live = append(live, recs...)
	}
	rng := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		doomed := slices.Clone(live[:64])
		f.remove(doomed)
		for _, r := range doomed {
			r.PersistentIndex = f.alloc.Allocate()
		}
		f.add(doomed)
	}
}

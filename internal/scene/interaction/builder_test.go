package interaction

import (
	"errors"
	"iter"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/handle"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/scene/entity"
	"github.com/l1jgo/scenesync/internal/scene/octree"
)

// world is a brute-force Source.
type world struct {
	recs map[index.PersistentIndex]*entity.Record
}

func (w *world) Record(pi index.PersistentIndex) *entity.Record { return w.recs[pi] }

func (w *world) touching(box geom.AABB, light bool) iter.Seq[index.PersistentIndex] {
	return func(yield func(index.PersistentIndex) bool) {
		for pi, r := range w.recs {
			if r.IsLight() == light && r.Bounds.Intersects(box) && !yield(pi) {
				return
			}
		}
	}
}

func (w *world) LightsTouching(box geom.AABB) iter.Seq[index.PersistentIndex] {
	return w.touching(box, true)
}

func (w *world) PrimitivesTouching(box geom.AABB) iter.Seq[index.PersistentIndex] {
	return w.touching(box, false)
}

func (w *world) mesh(pi index.PersistentIndex, x float64) *entity.Record {
	r := entity.NewRecord(handle.New(uint32(pi), 1), &entity.StaticMesh{
		Tag:         entity.Tag{Name: "mesh"},
		Transform:   mgl64.Translate3D(x, 0, 0),
		LocalBounds: geom.FromCenterExtent(mgl64.Vec3{}, mgl64.Vec3{0.5, 0.5, 0.5}),
	})
	r.PersistentIndex = pi
	w.recs[pi] = r
	return r
}

func (w *world) light(pi index.PersistentIndex, typ entity.LightType, x, radius float64) *entity.Record {
	r := entity.NewRecord(handle.New(uint32(pi), 1), &entity.Light{
		Type:      typ,
		Tag:       entity.Tag{Name: "light"},
		Transform: mgl64.Translate3D(x, 0, 0),
		Radius:    radius,
	})
	r.PersistentIndex = pi
	w.recs[pi] = r
	return r
}

func moveTo(r *entity.Record, x float64) {
	r.LocalToWorld = mgl64.Translate3D(x, 0, 0)
	r.Bounds = r.Capability.Bounds().Translate(mgl64.Vec3{x - geom.Translation(r.Capability.LocalToWorld())[0], 0, 0})
}

func newWorld() *world { return &world{recs: map[index.PersistentIndex]*entity.Record{}} }

func TestBuilder_InitialAndNoChange(t *testing.T) {
	w := newWorld()
	for i := 0; i < 10; i++ {
		w.mesh(index.PersistentIndex(i), float64(i)*2)
	}
	w.light(10, entity.LightPoint, 0, 3)       // meshes at 0, 2
	w.light(11, entity.LightDirectional, 0, 0) // everything
	b := NewBuilder(NewGraph())

	prims := []index.PersistentIndex{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	st := b.Update(w, prims, []index.PersistentIndex{10, 11}, 1)
	if st.Created != 12 || st.Destroyed != 0 {
		t.Fatalf("initial stats = %+v, want 12 created", st)
	}
	if b.Graph().Len() != 12 {
		t.Fatalf("graph holds %d edges", b.Graph().Len())
	}
	if err := b.Graph().Check(); err != nil {
		t.Fatal(err)
	}

	// Re-running with the same dirty sets and no changes must be a no-op.
	if st := b.Update(w, prims, []index.PersistentIndex{10, 11}, 2); st.Changed() {
		t.Fatalf("no-change update produced %+v", st)
	}
	if st := b.Update(w, nil, nil, 3); st.Changed() {
		t.Fatalf("empty update produced %+v", st)
	}
}

func TestBuilder_LightMoveKeepsSurvivingState(t *testing.T) {
	w := newWorld()
	for i := 0; i < 6; i++ {
		w.mesh(index.PersistentIndex(i), float64(i)*2)
	}
	lamp := w.light(6, entity.LightPoint, 2, 2.6) // meshes at 0, 2, 4
	b := NewBuilder(NewGraph())
	b.Update(w, []index.PersistentIndex{0, 1, 2, 3, 4, 5}, []index.PersistentIndex{6}, 1)
	if b.Graph().Len() != 3 {
		t.Fatalf("edges = %d, want 3", b.Graph().Len())
	}

	keep, ok := b.Graph().Find(6, 2)
	if !ok {
		t.Fatalf("edge light->mesh at 4 missing")
	}
	b.Graph().Edge(keep).State.Payload = "cached"

	moveTo(lamp, 6) // meshes at 4, 6, 8
	st := b.Update(w, nil, []index.PersistentIndex{6}, 2)
	if st.Created != 2 || st.Destroyed != 2 {
		t.Fatalf("stats = %+v, want 2 created 2 destroyed", st)
	}
	id, ok := b.Graph().Find(6, 2)
	if !ok || b.Graph().Edge(id).State.Payload != "cached" {
		t.Fatalf("surviving edge lost its state")
	}
	for _, prim := range []index.PersistentIndex{0, 1} {
		if _, ok := b.Graph().Find(6, prim); ok {
			t.Fatalf("edge to %d should be gone", prim)
		}
	}
	if err := b.Graph().Check(); err != nil {
		t.Fatal(err)
	}
}

func TestBuilder_DisableAndPurge(t *testing.T) {
	w := newWorld()
	m := w.mesh(0, 0)
	w.mesh(1, 1)
	w.light(2, entity.LightPoint, 0, 5)
	w.light(3, entity.LightDirectional, 0, 0)
	b := NewBuilder(NewGraph())
	b.Update(w, []index.PersistentIndex{0, 1}, []index.PersistentIndex{2, 3}, 1)
	if b.Graph().Len() != 4 {
		t.Fatalf("edges = %d, want 4", b.Graph().Len())
	}

	m.Flags &^= entity.FlagEnabled
	if st := b.Update(w, []index.PersistentIndex{0}, nil, 2); st.Destroyed != 2 {
		t.Fatalf("disable stats = %+v", st)
	}
	m.Flags |= entity.FlagEnabled
	if st := b.Update(w, []index.PersistentIndex{0}, nil, 3); st.Created != 2 {
		t.Fatalf("enable stats = %+v", st)
	}

	if n := b.Purge(2); n != 2 {
		t.Fatalf("purge removed %d edges, want 2", n)
	}
	delete(w.recs, 2)
	if b.Graph().Len() != 2 || len(b.Graph().LightEdges(2)) != 0 {
		t.Fatalf("purge left edges behind")
	}
	if err := b.Graph().Check(); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyLightNodes(t *testing.T) {
	w := newWorld()
	lamp := w.light(0, entity.LightPoint, 0, 1)
	sun := w.light(1, entity.LightDirectional, 0, 0)
	tree := octree.New(octree.Config{Extent: 64}, nil)
	lamp.OctreeID = tree.Insert(octree.Element{Index: lamp.PersistentIndex, Bounds: lamp.Bounds})

	all := func(yield func(*entity.Record) bool) {
		for _, r := range []*entity.Record{lamp, sun} {
			if !yield(r) {
				return
			}
		}
	}
	if err := VerifyLightNodes(tree, all); err != nil {
		t.Fatalf("fresh nodes reported stale: %v", err)
	}

	moveTo(lamp, 10) // bounds changed without refreshing the tree
	if err := VerifyLightNodes(tree, all); !errors.Is(err, ErrStaleNode) {
		t.Fatalf("expected ErrStaleNode, got %v", err)
	}
}

package interaction

import (
	"errors"
	"fmt"
	"iter"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/index"
	"github.com/l1jgo/scenesync/internal/scene/entity"
	"github.com/l1jgo/scenesync/internal/scene/octree"
)

// ErrStaleNode means a light's cached octree id no longer matches its record.
var ErrStaleNode = errors.New("stale light octree node")

// Source answers the spatial questions the builder asks. Candidates may be
// a superset; the builder filters on enablement.
type Source interface {
	Record(index.PersistentIndex) *entity.Record
	LightsTouching(box geom.AABB) iter.Seq[index.PersistentIndex]
	PrimitivesTouching(box geom.AABB) iter.Seq[index.PersistentIndex]
}

type Stats struct {
	Created   int
	Destroyed int
}

func (s Stats) Changed() bool { return s.Created > 0 || s.Destroyed > 0 }

// Builder keeps the graph in step with the spatial index by diffing each
// dirty entity's current edges against freshly queried candidates.
type Builder struct {
	graph *Graph
	want  map[index.PersistentIndex]struct{}
}

func NewBuilder(g *Graph) *Builder {
	return &Builder{graph: g, want: make(map[index.PersistentIndex]struct{})}
}

func (b *Builder) Graph() *Graph { return b.graph }

// Update rebuilds the edge sets of dirty lights, then dirty primitives.
// Edges that survive keep their State.
func (b *Builder) Update(src Source, dirtyPrimitives, dirtyLights []index.PersistentIndex, frame uint64) Stats {
	var st Stats
	for _, pi := range dirtyLights {
		st = st.add(b.updateLight(src, pi, frame))
	}
	for _, pi := range dirtyPrimitives {
		st = st.add(b.updatePrimitive(src, pi, frame))
	}
	return st
}

// Purge drops every edge of a removed entity.
func (b *Builder) Purge(pi index.PersistentIndex) int {
	return b.graph.Purge(pi)
}

func (b *Builder) updateLight(src Source, light index.PersistentIndex, frame uint64) Stats {
	rec := src.Record(light)
	clear(b.want)
	if rec != nil && rec.Enabled() {
		for pi := range src.PrimitivesTouching(rec.Bounds) {
			if p := src.Record(pi); p != nil && p.Enabled() && p.Bounds.Intersects(rec.Bounds) {
				b.want[pi] = struct{}{}
			}
		}
	}

	var st Stats
	edges := b.graph.LightEdges(light)
	for i := len(edges) - 1; i >= 0; i-- {
		id := edges[i]
		prim := b.graph.Edge(id).Primitive
		if _, ok := b.want[prim]; ok {
			delete(b.want, prim)
			continue
		}
		b.graph.Unlink(id)
		st.Destroyed++
	}
	for prim := range b.want {
		b.graph.Link(light, prim, State{CreatedFrame: frame, ShadowDirty: true})
		st.Created++
	}
	return st
}

func (b *Builder) updatePrimitive(src Source, prim index.PersistentIndex, frame uint64) Stats {
	rec := src.Record(prim)
	clear(b.want)
	if rec != nil && rec.Enabled() {
		for pi := range src.LightsTouching(rec.Bounds) {
			if l := src.Record(pi); l != nil && l.Enabled() && l.Bounds.Intersects(rec.Bounds) {
				b.want[pi] = struct{}{}
			}
		}
	}

	var st Stats
	edges := b.graph.PrimitiveEdges(prim)
	for i := len(edges) - 1; i >= 0; i-- {
		id := edges[i]
		light := b.graph.Edge(id).Light
		if _, ok := b.want[light]; ok {
			delete(b.want, light)
			continue
		}
		b.graph.Unlink(id)
		st.Destroyed++
	}
	for light := range b.want {
		b.graph.Link(light, prim, State{CreatedFrame: frame, ShadowDirty: true})
		st.Created++
	}
	return st
}

func (s Stats) add(o Stats) Stats {
	return Stats{Created: s.Created + o.Created, Destroyed: s.Destroyed + o.Destroyed}
}

// VerifyLightNodes checks that every local light's cached octree id still
// resolves to an element carrying its index and current bounds.
func VerifyLightNodes(tree *octree.Tree, lights iter.Seq[*entity.Record]) error {
	for rec := range lights {
		if rec.IsDirectional() {
			continue
		}
		e, ok := tree.Get(rec.OctreeID)
		if !ok || e.Index != rec.PersistentIndex {
			return fmt.Errorf("light %d node %v: %w", rec.PersistentIndex, rec.OctreeID, ErrStaleNode)
		}
		if !e.Bounds.Equal(rec.Bounds, 1e-9) {
			return fmt.Errorf("light %d node bounds %v, record bounds %v: %w", rec.PersistentIndex, e.Bounds, rec.Bounds, ErrStaleNode)
		}
	}
	return nil
}

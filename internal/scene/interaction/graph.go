package interaction

import (
	"errors"
	"fmt"

	"github.com/l1jgo/scenesync/internal/core/index"
)

// ErrBroken wraps adjacency inconsistencies found by Check.
var ErrBroken = errors.New("interaction graph inconsistent")

type EdgeID int32

// State is the per-pair cache downstream passes keep on an edge. It lives
// exactly as long as the edge.
type State struct {
	CreatedFrame uint64
	ShadowDirty  bool
	Payload      any
}

// Edge links one light to one primitive.
type Edge struct {
	Light     index.PersistentIndex
	Primitive index.PersistentIndex
	State     State

	lightPos int32 // position in the light's adjacency list
	primPos  int32 // position in the primitive's adjacency list
	live     bool
}

// Graph is an arena of edges referenced by id from both endpoints.
// Consumer goroutine only.
type Graph struct {
	edges   []Edge
	free    []EdgeID
	byLight [][]EdgeID // indexed by persistent index
	byPrim  [][]EdgeID
	live    int
}

func NewGraph() *Graph { return &Graph{} }

// Len returns the number of live edges.
func (g *Graph) Len() int { return g.live }

// Edge returns the edge for id. The pointer is valid until the next Link.
func (g *Graph) Edge(id EdgeID) *Edge { return &g.edges[id] }

func (g *Graph) LightEdges(light index.PersistentIndex) []EdgeID {
	if int(light) >= len(g.byLight) {
		return nil
	}
	return g.byLight[light]
}

func (g *Graph) PrimitiveEdges(prim index.PersistentIndex) []EdgeID {
	if int(prim) >= len(g.byPrim) {
		return nil
	}
	return g.byPrim[prim]
}

// Find returns the edge between light and prim.
func (g *Graph) Find(light, prim index.PersistentIndex) (EdgeID, bool) {
	le, pe := g.LightEdges(light), g.PrimitiveEdges(prim)
	if len(pe) < len(le) {
		for _, id := range pe {
			if g.edges[id].Light == light {
				return id, true
			}
		}
		return -1, false
	}
	for _, id := range le {
		if g.edges[id].Primitive == prim {
			return id, true
		}
	}
	return -1, false
}

// Link creates an edge. The caller ensures none exists yet.
func (g *Graph) Link(light, prim index.PersistentIndex, st State) EdgeID {
	var id EdgeID
	if n := len(g.free); n > 0 {
		id = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		id = EdgeID(len(g.edges))
		g.edges = append(g.edges, Edge{})
	}
	g.byLight = grow(g.byLight, light)
	g.byPrim = grow(g.byPrim, prim)

	g.edges[id] = Edge{
		Light:     light,
		Primitive: prim,
		State:     st,
		lightPos:  int32(len(g.byLight[light])),
		primPos:   int32(len(g.byPrim[prim])),
		live:      true,
	}
	g.byLight[light] = append(g.byLight[light], id)
	g.byPrim[prim] = append(g.byPrim[prim], id)
	g.live++
	return id
}

// Unlink destroys an edge and recycles its id.
func (g *Graph) Unlink(id EdgeID) {
	e := &g.edges[id]
	if !e.live {
		return
	}
	ll := g.byLight[e.Light]
	last := ll[len(ll)-1]
	ll[e.lightPos] = last
	g.edges[last].lightPos = e.lightPos
	g.byLight[e.Light] = ll[:len(ll)-1]

	pl := g.byPrim[e.Primitive]
	last = pl[len(pl)-1]
	pl[e.primPos] = last
	g.edges[last].primPos = e.primPos
	g.byPrim[e.Primitive] = pl[:len(pl)-1]

	*e = Edge{}
	g.free = append(g.free, id)
	g.live--
}

// Purge destroys every edge touching pi and returns how many.
func (g *Graph) Purge(pi index.PersistentIndex) int {
	n := 0
	for len(g.LightEdges(pi)) > 0 {
		g.Unlink(g.byLight[pi][0])
		n++
	}
	for len(g.PrimitiveEdges(pi)) > 0 {
		g.Unlink(g.byPrim[pi][0])
		n++
	}
	return n
}

// Check verifies both adjacency lists agree with the arena.
func (g *Graph) Check() error {
	count := 0
	for i := range g.edges {
		e := &g.edges[i]
		if !e.live {
			continue
		}
		count++
		id := EdgeID(i)
		if ll := g.LightEdges(e.Light); int(e.lightPos) >= len(ll) || ll[e.lightPos] != id {
			return fmt.Errorf("edge %d missing from light %d: %w", id, e.Light, ErrBroken)
		}
		if pl := g.PrimitiveEdges(e.Primitive); int(e.primPos) >= len(pl) || pl[e.primPos] != id {
			return fmt.Errorf("edge %d missing from primitive %d: %w", id, e.Primitive, ErrBroken)
		}
	}
	if count != g.live {
		return fmt.Errorf("%d live edges counted, %d recorded: %w", count, g.live, ErrBroken)
	}
	return nil
}

func grow(lists [][]EdgeID, pi index.PersistentIndex) [][]EdgeID {
	for len(lists) <= int(pi) {
		lists = append(lists, nil)
	}
	return lists
}

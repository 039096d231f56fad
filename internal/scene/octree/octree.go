package octree

import (
	"iter"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/scenesync/internal/core/geom"
	"github.com/l1jgo/scenesync/internal/core/index"
)

// Loose octree over entity bounds.
// Elements sit in the deepest node whose loose bounds fully contain them.
// Elements that fit no child (or lie outside the root) stay at the parent.
// Accessed only from the consumer goroutine, no locks.

// ElementID locates an element: node index plus position in that node.
// It changes whenever the element is relocated; the OnMove callback reports
// every relocation so owners can refresh their cached ids.
type ElementID struct {
	Node int32
	Slot int32
}

// NoElement is the id of something not in the tree.
var NoElement = ElementID{Node: -1, Slot: -1}

func (id ElementID) IsValid() bool { return id.Node >= 0 && id.Slot >= 0 }

// Element is what the tree stores: a persistent index and its bounds at
// insertion time.
type Element struct {
	Index  index.PersistentIndex
	Bounds geom.AABB
}

type Config struct {
	Origin             mgl64.Vec3
	Extent             float64 // half size of the root cube
	MaxElementsPerNode int
	MaxDepth           int
	Looseness          float64 // child bounds scale, >= 1
}

func (c *Config) normalize() {
	if c.Extent <= 0 {
		c.Extent = 1 << 16
	}
	if c.MaxElementsPerNode <= 0 {
		c.MaxElementsPerNode = 16
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 12
	}
	if c.Looseness < 1 {
		c.Looseness = 1
	}
}

type node struct {
	center    mgl64.Vec3
	extent    float64
	depth     int
	parent    int32
	childBase int32 // first of 8 contiguous children, -1 for leaves
	inclusive int   // elements in this subtree
	elements  []Element
}

func (n *node) isLeaf() bool { return n.childBase < 0 }

type Tree struct {
	cfg        Config
	nodes      []node
	freeBlocks []int32
	count      int
	onMove     func(Element, ElementID)
}

// New creates an empty tree. onMove may be nil.
func New(cfg Config, onMove func(Element, ElementID)) *Tree {
	cfg.normalize()
	t := &Tree{cfg: cfg, onMove: onMove}
	t.nodes = append(t.nodes, node{
		center:    cfg.Origin,
		extent:    cfg.Extent,
		parent:    -1,
		childBase: -1,
	})
	return t
}

// Len returns the number of stored elements.
func (t *Tree) Len() int { return t.count }

// Insert stores e and returns its id.
func (t *Tree) Insert(e Element) ElementID {
	n := int32(0)
	for {
		t.nodes[n].inclusive++
		if t.nodes[n].isLeaf() {
			nd := &t.nodes[n]
			if len(nd.elements) < t.cfg.MaxElementsPerNode || nd.depth >= t.cfg.MaxDepth {
				t.count++
				return t.place(n, e)
			}
			t.split(n)
		}
		c := t.childFor(n, e.Bounds)
		if c < 0 {
			t.count++
			return t.place(n, e)
		}
		n = c
	}
}

// Remove deletes the element at id. It reports false for stale ids.
func (t *Tree) Remove(id ElementID) bool {
	if !t.valid(id) {
		return false
	}
	nd := &t.nodes[id.Node]
	last := int32(len(nd.elements) - 1)
	if id.Slot != last {
		nd.elements[id.Slot] = nd.elements[last]
		t.moved(nd.elements[id.Slot], id)
	}
	nd.elements = nd.elements[:last]
	t.count--

	collapse := int32(-1)
	for n := id.Node; n >= 0; n = t.nodes[n].parent {
		t.nodes[n].inclusive--
		if !t.nodes[n].isLeaf() && t.nodes[n].inclusive <= t.cfg.MaxElementsPerNode {
			collapse = n
		}
	}
	if collapse >= 0 {
		t.collapse(collapse)
	}
	return true
}

// Get returns the element at id.
func (t *Tree) Get(id ElementID) (Element, bool) {
	if !t.valid(id) {
		return Element{}, false
	}
	return t.nodes[id.Node].elements[id.Slot], true
}

// FindWithBoundsTest yields every element whose bounds intersect box.
// Each call walks the tree afresh; order is unspecified. The tree must not
// be modified while the sequence is being consumed.
func (t *Tree) FindWithBoundsTest(box geom.AABB) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		if t.count == 0 || box.IsEmpty() {
			return
		}
		stack := []int32{0}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			nd := &t.nodes[n]
			// The root also holds elements outside its own cube.
			if n != 0 && !t.looseBounds(nd).Intersects(box) {
				continue
			}
			for _, e := range nd.elements {
				if e.Bounds.Intersects(box) && !yield(e) {
					return
				}
			}
			if !nd.isLeaf() && nd.inclusive > len(nd.elements) {
				for i := int32(0); i < 8; i++ {
					if t.nodes[nd.childBase+i].inclusive > 0 {
						stack = append(stack, nd.childBase+i)
					}
				}
			}
		}
	}
}

// ApplyOffset shifts every node and stored bound by delta without
// reinserting anything. Element ids stay valid.
func (t *Tree) ApplyOffset(delta mgl64.Vec3) {
	t.cfg.Origin = t.cfg.Origin.Add(delta)
	for i := range t.nodes {
		nd := &t.nodes[i]
		nd.center = nd.center.Add(delta)
		for j := range nd.elements {
			nd.elements[j].Bounds = nd.elements[j].Bounds.Translate(delta)
		}
	}
}

// NodeCount returns the number of live nodes, the root included.
func (t *Tree) NodeCount() int {
	return len(t.nodes) - 8*len(t.freeBlocks)
}

func (t *Tree) valid(id ElementID) bool {
	if !id.IsValid() || int(id.Node) >= len(t.nodes) {
		return false
	}
	return int(id.Slot) < len(t.nodes[id.Node].elements)
}

func (t *Tree) place(n int32, e Element) ElementID {
	nd := &t.nodes[n]
	nd.elements = append(nd.elements, e)
	return ElementID{Node: n, Slot: int32(len(nd.elements) - 1)}
}

func (t *Tree) moved(e Element, id ElementID) {
	if t.onMove != nil {
		t.onMove(e, id)
	}
}

func (t *Tree) looseBounds(nd *node) geom.AABB {
	e := nd.extent * t.cfg.Looseness
	return geom.FromCenterExtent(nd.center, mgl64.Vec3{e, e, e})
}

// childFor picks the child whose loose bounds contain b, or -1.
func (t *Tree) childFor(n int32, b geom.AABB) int32 {
	if b.IsEmpty() || b.IsInfinite() {
		return -1
	}
	nd := &t.nodes[n]
	c := b.Center()
	octant := int32(0)
	for axis := 0; axis < 3; axis++ {
		if c[axis] > nd.center[axis] {
			octant |= 1 << axis
		}
	}
	child := nd.childBase + octant
	if !t.looseBounds(&t.nodes[child]).Contains(b) {
		return -1
	}
	return child
}

func (t *Tree) split(n int32) {
	base := t.allocBlock(n)
	old := t.nodes[n].elements
	t.nodes[n].elements = nil
	t.nodes[n].childBase = base
	for _, e := range old {
		c := t.childFor(n, e.Bounds)
		if c < 0 {
			c = n
		} else {
			t.nodes[c].inclusive++
		}
		t.moved(e, t.place(c, e))
	}
}

func (t *Tree) allocBlock(parent int32) int32 {
	var base int32
	if k := len(t.freeBlocks); k > 0 {
		base = t.freeBlocks[k-1]
		t.freeBlocks = t.freeBlocks[:k-1]
	} else {
		base = int32(len(t.nodes))
		t.nodes = append(t.nodes, make([]node, 8)...)
	}
	p := t.nodes[parent]
	half := p.extent / 2
	for i := int32(0); i < 8; i++ {
		center := p.center
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				center[axis] += half
			} else {
				center[axis] -= half
			}
		}
		c := &t.nodes[base+i]
		c.center = center
		c.extent = half
		c.depth = p.depth + 1
		c.parent = parent
		c.childBase = -1
		c.inclusive = 0
		c.elements = c.elements[:0]
	}
	return base
}

// collapse pulls every descendant element of n back into n.
func (t *Tree) collapse(n int32) {
	base := t.nodes[n].childBase
	t.nodes[n].childBase = -1
	t.drain(base, n)
}

func (t *Tree) drain(base, into int32) {
	for i := int32(0); i < 8; i++ {
		c := base + i
		if !t.nodes[c].isLeaf() {
			sub := t.nodes[c].childBase
			t.nodes[c].childBase = -1
			t.drain(sub, into)
		}
		for _, e := range t.nodes[c].elements {
			t.moved(e, t.place(into, e))
		}
		t.nodes[c].elements = t.nodes[c].elements[:0]
		t.nodes[c].inclusive = 0
	}
	t.freeBlocks = append(t.freeBlocks, base)
}

package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateTask = errors.New("duplicate task")
	ErrUnknownTask   = errors.New("unknown prerequisite")
	ErrCycle         = errors.New("task graph has a cycle")
)

// Func is one stage of a frame.
type Func func(ctx context.Context) error

type node struct {
	name    string
	run     Func
	prereqs []string
	order   int
}

// PanicError carries a panic out of a stage so the caller can re-raise it
// on its own goroutine.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value) }

// Timing is how long a stage ran during the last Run.
type Timing struct {
	Name     string
	Duration time.Duration
}

// Graph runs named stages concurrently, each starting only after all of its
// prerequisites finished. It is built once and run once per frame.
type Graph struct {
	nodes   []*node
	byName  map[string]*node
	checked bool

	mu      sync.Mutex
	timings []Timing
}

func NewGraph() *Graph {
	return &Graph{byName: make(map[string]*node)}
}

// Add registers a stage. Prerequisites may be added later but must exist by
// the first Run.
func (g *Graph) Add(name string, run Func, prereqs ...string) error {
	if _, ok := g.byName[name]; ok {
		return fmt.Errorf("add %q: %w", name, ErrDuplicateTask)
	}
	n := &node{name: name, run: run, prereqs: prereqs, order: len(g.nodes)}
	g.nodes = append(g.nodes, n)
	g.byName[name] = n
	g.checked = false
	return nil
}

// Validate reports unknown prerequisites and cycles.
func (g *Graph) Validate() error {
	if g.checked {
		return nil
	}
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.nodes))
	var visit func(n *node) error
	visit = func(n *node) error {
		switch state[n.name] {
		case visiting:
			return fmt.Errorf("at %q: %w", n.name, ErrCycle)
		case visited:
			return nil
		}
		state[n.name] = visiting
		for _, p := range n.prereqs {
			pn, ok := g.byName[p]
			if !ok {
				return fmt.Errorf("%q needs %q: %w", n.name, p, ErrUnknownTask)
			}
			if err := visit(pn); err != nil {
				return err
			}
		}
		state[n.name] = visited
		return nil
	}
	for _, n := range g.nodes {
		if err := visit(n); err != nil {
			return err
		}
	}
	g.checked = true
	return nil
}

// Run executes every stage once. ctx is checked only before the first stage
// starts; a started run always completes unless a stage fails. The first
// failing stage cancels the rest and its error is returned. A panicking stage
// surfaces as *PanicError.
func (g *Graph) Run(ctx context.Context) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(map[string]chan struct{}, len(g.nodes))
	for _, n := range g.nodes {
		done[n.name] = make(chan struct{})
	}
	g.mu.Lock()
	g.timings = make([]Timing, len(g.nodes))
	g.mu.Unlock()

	eg, ctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, n := range g.nodes {
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Task: n.name, Value: r}
				}
			}()
			for _, p := range n.prereqs {
				select {
				case <-done[p]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			start := time.Now()
			if err := n.run(ctx); err != nil {
				return fmt.Errorf("task %s: %w", n.name, err)
			}
			g.mu.Lock()
			g.timings[n.order] = Timing{Name: n.name, Duration: time.Since(start)}
			g.mu.Unlock()
			close(done[n.name])
			return nil
		})
	}
	return eg.Wait()
}

// Timings returns stage durations of the last Run, in registration order.
func (g *Graph) Timings() []Timing {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Timing, len(g.timings))
	copy(out, g.timings)
	return out
}

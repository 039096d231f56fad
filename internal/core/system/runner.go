package system

import (
	"fmt"
	"time"
)

// Runner drives one frame of the sync loop: producers enqueue, the scene
// applies, then consumers read the applied state. Systems of a phase run in
// registration order; phases never overlap.
type Runner struct {
	phases [len(phaseNames)][]System
	frames uint64
}

func NewRunner() *Runner {
	return &Runner{}
}

// Register adds s to its phase. Panics on a phase without a name.
func (r *Runner) Register(s System) {
	p := s.Phase()
	if p < 0 || int(p) >= len(r.phases) {
		panic(fmt.Sprintf("system: register %T: unknown phase %d", s, p))
	}
	r.phases[p] = append(r.phases[p], s)
}

// Tick runs one full frame, every phase in order.
func (r *Runner) Tick(dt time.Duration) {
	for _, systems := range r.phases {
		for _, s := range systems {
			s.Update(dt)
		}
	}
	r.frames++
}

// TickPhase runs a single phase without counting a frame. Tests use it to
// produce without applying.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	if phase < 0 || int(phase) >= len(r.phases) {
		return
	}
	for _, s := range r.phases[phase] {
		s.Update(dt)
	}
}

// Frames counts completed Ticks.
func (r *Runner) Frames() uint64 { return r.frames }

package system

import "time"

// Phase defines execution ordering within a single frame.
type Phase int

const (
	PhaseProduce Phase = iota // 0: run producers, enqueue commands
	PhaseSync                 // 1: apply the ledger to the scene
	PhaseMirror               // 2: consume dirty indices, dispatch events
	PhasePersist              // 3: flush frame statistics
	PhaseReport               // 4: periodic log lines
)

var phaseNames = [...]string{"produce", "sync", "mirror", "persist", "report"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// System is the interface every frame system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/scenesync/internal/core/system"
	"github.com/l1jgo/scenesync/internal/scene"
)

// SyncSystem applies the ledger once per frame. Phase 1 (Sync).
type SyncSystem struct {
	scene   *scene.Scene
	log     *zap.Logger
	timeout time.Duration
	failed  int
}

func NewSyncSystem(sc *scene.Scene, timeout time.Duration, log *zap.Logger) *SyncSystem {
	return &SyncSystem{scene: sc, timeout: timeout, log: log}
}

func (s *SyncSystem) Phase() coresys.Phase { return coresys.PhaseSync }

func (s *SyncSystem) Update(_ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	st, err := s.scene.ApplyFrame(ctx)
	if err != nil {
		s.failed++
		s.log.Error("apply frame", zap.Error(err), zap.Int("failures", s.failed))
		return
	}
	if st.Elapsed > s.timeout/2 {
		s.log.Warn("slow frame",
			zap.Uint64("frame", st.Frame),
			zap.Duration("elapsed", st.Elapsed),
			zap.Int("commands", st.Commands),
		)
	}
}

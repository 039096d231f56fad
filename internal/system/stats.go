package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/scenesync/internal/core/system"
	"github.com/l1jgo/scenesync/internal/persist"
	"github.com/l1jgo/scenesync/internal/scene"
)

// StatsWriter stores batches of frame statistics.
type StatsWriter interface {
	WriteBatch(ctx context.Context, runID int64, rows []persist.FrameRow) error
}

// StatsSystem collects per-frame statistics and flushes them in batches.
// Phase 3 (Persist).
type StatsSystem struct {
	scene    *scene.Scene
	writer   StatsWriter
	runID    int64
	log      *zap.Logger
	interval int // flush every N frames
	pending  []persist.FrameRow
	last     uint64
	written  int
}

func NewStatsSystem(sc *scene.Scene, w StatsWriter, runID int64, intervalFrames int, log *zap.Logger) *StatsSystem {
	if intervalFrames <= 0 {
		intervalFrames = 60
	}
	return &StatsSystem{
		scene:    sc,
		writer:   w,
		runID:    runID,
		log:      log,
		interval: intervalFrames,
		pending:  make([]persist.FrameRow, 0, intervalFrames),
	}
}

func (s *StatsSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *StatsSystem) Update(_ time.Duration) {
	st := s.scene.LastFrame()
	if st.Frame == 0 || st.Frame == s.last {
		return // no frame applied since the last tick
	}
	s.last = st.Frame
	s.pending = append(s.pending, frameRow(st))
	if len(s.pending) >= s.interval {
		s.Flush()
	}
}

// Flush writes buffered rows immediately. Called on shutdown too.
func (s *StatsSystem) Flush() {
	if len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writer.WriteBatch(ctx, s.runID, s.pending); err != nil {
		s.log.Error("frame stats flush failed", zap.Int("rows", len(s.pending)), zap.Error(err))
		if len(s.pending) >= 4*s.interval {
			s.pending = s.pending[:0] // give up on rows the database keeps refusing
		}
		return
	}
	s.written += len(s.pending)
	s.pending = s.pending[:0]
}

// Written counts rows stored successfully.
func (s *StatsSystem) Written() int { return s.written }

func frameRow(st scene.FrameStats) persist.FrameRow {
	row := persist.FrameRow{
		Frame:        st.Frame,
		Commands:     st.Commands,
		Added:        st.Added,
		Removed:      st.Removed,
		Discarded:    st.Discarded,
		Updated:      st.Updated,
		Superseded:   st.Superseded,
		Live:         st.Live,
		Dirty:        st.Dirty,
		EdgesCreated: st.EdgesCreated,
		EdgesDeleted: st.EdgesDeleted,
		Rebased:      st.Rebased,
		Elapsed:      st.Elapsed,
		Stages:       make([]persist.StageRow, 0, len(st.Stages)),
	}
	for _, t := range st.Stages {
		row.Stages = append(row.Stages, persist.StageRow{Stage: t.Name, Elapsed: t.Duration})
	}
	return row
}

// ReportSystem logs a summary line every N frames. Phase 4 (Report).
type ReportSystem struct {
	scene    *scene.Scene
	log      *zap.Logger
	interval int
	ticks    int
	commands int
	elapsed  time.Duration
}

func NewReportSystem(sc *scene.Scene, intervalFrames int, log *zap.Logger) *ReportSystem {
	if intervalFrames <= 0 {
		intervalFrames = 300
	}
	return &ReportSystem{scene: sc, log: log, interval: intervalFrames}
}

func (s *ReportSystem) Phase() coresys.Phase { return coresys.PhaseReport }

func (s *ReportSystem) Update(_ time.Duration) {
	st := s.scene.LastFrame()
	s.ticks++
	s.commands += st.Commands
	s.elapsed += st.Elapsed
	if s.ticks < s.interval {
		return
	}
	s.log.Info("scene sync",
		zap.Uint64("frame", st.Frame),
		zap.Int("live", st.Live),
		zap.Int("edges", s.scene.Interactions().Len()),
		zap.Int("commands", s.commands),
		zap.Duration("avg_apply", s.elapsed/time.Duration(s.ticks)),
	)
	s.ticks, s.commands, s.elapsed = 0, 0, 0
}

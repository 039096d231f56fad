package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FrameRow is one applied frame as stored in frame_stats.
type FrameRow struct {
	Frame        uint64
	Commands     int
	Added        int
	Removed      int
	Discarded    int
	Updated      int
	Superseded   int
	Live         int
	Dirty        int
	EdgesCreated int
	EdgesDeleted int
	Rebased      bool
	Elapsed      time.Duration
	Stages       []StageRow
}

type StageRow struct {
	Stage   string
	Elapsed time.Duration
}

type FrameStatsRepo struct {
	db *DB
}

func NewFrameStatsRepo(db *DB) *FrameStatsRepo {
	return &FrameStatsRepo{db: db}
}

// StartRun registers a new run and returns its id.
func (r *FrameStatsRepo) StartRun(ctx context.Context, name string, workers int) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO sync_runs (name, workers) VALUES ($1, $2) RETURNING id`,
		name, workers,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run with its end time and frame count.
func (r *FrameStatsRepo) FinishRun(ctx context.Context, runID int64, frames uint64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE sync_runs SET finished_at = now(), frames = $2 WHERE id = $1`,
		runID, int64(frames),
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// WriteBatch writes a batch of frames and their stage timings in a single
// transaction.
func (r *FrameStatsRepo) WriteBatch(ctx context.Context, runID int64, rows []FrameRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stats begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueFrames(batch, runID, rows)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("stats insert: %w", err)
	}
	return tx.Commit(ctx)
}

func queueFrames(b *pgx.Batch, runID int64, rows []FrameRow) {
	for _, f := range rows {
		b.Queue(
			`INSERT INTO frame_stats (run_id, frame, commands, added, removed, discarded, updated,
			   superseded, live, dirty, edges_created, edges_deleted, rebased, elapsed_us)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			runID, int64(f.Frame), f.Commands, f.Added, f.Removed, f.Discarded, f.Updated,
			f.Superseded, f.Live, f.Dirty, f.EdgesCreated, f.EdgesDeleted, f.Rebased, f.Elapsed.Microseconds(),
		)
		for _, s := range f.Stages {
			b.Queue(
				`INSERT INTO stage_timings (run_id, frame, stage, elapsed_us) VALUES ($1, $2, $3, $4)`,
				runID, int64(f.Frame), s.Stage, s.Elapsed.Microseconds(),
			)
		}
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/scenesync/internal/config"
	"github.com/l1jgo/scenesync/internal/core/event"
	coresys "github.com/l1jgo/scenesync/internal/core/system"
	"github.com/l1jgo/scenesync/internal/data"
	"github.com/l1jgo/scenesync/internal/persist"
	"github.com/l1jgo/scenesync/internal/scene"
	"github.com/l1jgo/scenesync/internal/scene/octree"
	"github.com/l1jgo/scenesync/internal/scripting"
	"github.com/l1jgo/scenesync/internal/system"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string, workers int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            scenesync  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      scene entity synchronization         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mworld:\033[0m %s \033[90m(workers: %d)\033[0m\n\n", name, workers)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main loop ─────────────────────────────────────────────────────

func run() (err error) {
	// 1. Load config
	cfgPath := "config/scenesync.toml"
	if p := os.Getenv("SCENESYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	switch cfg.Profile.Mode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(cfg.Profile.Path), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath(cfg.Profile.Path), profile.NoShutdownHook).Stop()
	}

	opts := sceneOptions(cfg)
	printBanner(cfg.Engine.Name, opts.Workers)

	// 3. Data tables
	printSection("data")
	tags, err := data.LoadTagTable(cfg.Engine.TagTable)
	if err != nil {
		return fmt.Errorf("load tag table: %w", err)
	}
	printStat("tags", tags.Count())

	var fixture *data.Fixture
	if cfg.Engine.Fixture != "" {
		fixture, err = data.LoadFixture(cfg.Engine.Fixture, tags)
		if err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
		printStat("fixture entities", fixture.Count())
	}

	producers, err := scripting.NewProducerSet(cfg.Producers.ScriptDir, cfg.Producers.Seed, log)
	if err != nil {
		return fmt.Errorf("load producers: %w", err)
	}
	defer producers.Close()
	printStat("lua producers", producers.Len())
	fmt.Println()

	// 4. Scene
	bus := event.NewBus()
	sc, err := scene.New(opts, log, bus)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	defer sc.Close()
	if fixture != nil {
		if _, err := system.SpawnFixture(sc, fixture, tags); err != nil {
			return fmt.Errorf("spawn fixture: %w", err)
		}
	}

	// 5. Systems
	runner := coresys.NewRunner()
	runner.Register(system.NewProducerSystem(sc, producers, tags, cfg.Engine.FrameRate, log))
	runner.Register(system.NewSyncSystem(sc, cfg.Engine.FrameRate*4, log))
	runner.Register(system.NewMirrorSystem(sc, bus, log))
	runner.Register(system.NewReportSystem(sc, int(5*time.Second/cfg.Engine.FrameRate), log))

	// 6. Optional statistics sink
	var stats *system.StatsSystem
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		version, err := persist.RunMigrations(ctx, db.Pool, log)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema version %d", version))

		repo := persist.NewFrameStatsRepo(db)
		runID, err := repo.StartRun(ctx, cfg.Engine.Name, opts.Workers)
		if err != nil {
			return err
		}
		stats = system.NewStatsSystem(sc, repo, runID, cfg.Database.FlushEvery, log)
		runner.Register(stats)
		defer func() {
			stats.Flush()
			fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer fcancel()
			err = multierr.Append(err, repo.FinishRun(fctx, runID, sc.LastFrame().Frame))
		}()
		fmt.Println()
	}

	// 7. Frame loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Engine.FrameRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("frame loop started (frame: %s)", cfg.Engine.FrameRate))
	if cfg.Engine.Frames > 0 {
		printReady(fmt.Sprintf("stopping after %d frames", cfg.Engine.Frames))
	}
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Engine.FrameRate)
			if cfg.Engine.Frames > 0 && runner.Frames() >= uint64(cfg.Engine.Frames) {
				log.Info("frame limit reached", zap.Uint64("frames", runner.Frames()), zap.Int("live", sc.Len()))
				return nil
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()), zap.Uint64("frames", runner.Frames()))
			return nil
		}
	}
}

func sceneOptions(cfg *config.Config) scene.Options {
	opts := scene.DefaultOptions()
	opts.MaxPersistentIndices = cfg.Sync.MaxPersistentIndices
	opts.AlwaysVisibleAlignment = cfg.Sync.AlwaysVisibleAlignment
	opts.DebugChecks = cfg.Sync.DebugChecks
	opts.LedgerCapacity = cfg.Sync.LedgerCapacity
	opts.PrimitiveOctree = octree.Config{
		Extent:             cfg.Octree.Extent,
		MaxElementsPerNode: cfg.Octree.PrimitiveMaxNode,
		MaxDepth:           cfg.Octree.PrimitiveMaxDepth,
		Looseness:          cfg.Octree.Looseness,
	}
	opts.LightOctree = octree.Config{
		Extent:             cfg.Octree.Extent,
		MaxElementsPerNode: cfg.Octree.LightMaxNode,
		MaxDepth:           cfg.Octree.LightMaxDepth,
		Looseness:          cfg.Octree.Looseness,
	}
	if cfg.Scheduler.Workers > 0 {
		opts.Workers = cfg.Scheduler.Workers
	}
	opts.QueueSize = cfg.Scheduler.QueueSize
	opts.ChunkSize = cfg.Scheduler.ChunkSize
	opts.WorkerIdle = cfg.Scheduler.WorkerIdle
	return opts
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

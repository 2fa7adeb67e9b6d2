package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pocketsync/pocketsync/internal/config"
	"github.com/pocketsync/pocketsync/internal/dashboard"
	"github.com/pocketsync/pocketsync/internal/engine"
	"github.com/pocketsync/pocketsync/internal/netmon"
	"github.com/pocketsync/pocketsync/internal/remote"
	"github.com/pocketsync/pocketsync/internal/scheduler"
	"github.com/pocketsync/pocketsync/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine in the foreground",
	Long: `Run the offline sync engine as a foreground daemon.

The daemon:
  1. Opens the local store (creating it if needed)
  2. Probes connectivity against the backend
  3. Pushes unsynced records and queued actions whenever online
  4. Wakes a sync cycle on a coarse interval as a safety net
  5. Optionally serves a WebSocket status dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.Config
		var err error
		var logger *log.Logger

		if cfgFile != "" {
			// Config edits take effect on restart; the watch just surfaces them.
			cfg, err = config.Watch(cfgFile, func(fresh *config.Config) {
				logger.Printf("Config file changed (retry_limit=%d, sync_interval=%v); restart to apply",
					fresh.RetryLimit, fresh.SyncInterval)
			})
		} else {
			cfg, err = config.Load("")
		}
		if err != nil {
			return err
		}
		if cfg.RemoteURL == "" {
			return fmt.Errorf("remote_url is required (config file or POCKETSYNC_REMOTE_URL)")
		}

		logger = newDaemonLogger(cfg)

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}

		adapter := remote.NewHTTPAdapter(cfg.RemoteURL, nil, cfg.RatePerSec)

		monitor := netmon.NewProbeMonitor(
			&netmon.HTTPProber{URL: cfg.ProbeURL},
			cfg.ProbeInterval,
			logger,
		)

		engCfg := &engine.Config{
			CallTimeout: cfg.CallTimeout,
			RetryLimit:  cfg.RetryLimit,
			Logger:      logger,
		}

		var dash *dashboard.Server
		eng := engine.New(db, adapter, monitor, engCfg)

		if cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(cfg.Dashboard.Port, func() dashboard.StatusData {
				ctx := context.Background()
				unsynced, _ := db.UnsyncedCount(ctx)
				pending, _ := db.ActionCount(ctx)
				dead := deadLetterCount(db)
				return dashboard.StatusData{
					Online:      eng.Online(),
					Syncing:     eng.Syncing(),
					Unsynced:    unsynced,
					Pending:     pending,
					DeadLetters: dead,
				}
			}, logger)

			engCfg.OnCycleEnd = func(stats engine.CycleStats) {
				dash.PublishSyncComplete(dashboard.SyncCompleteData{
					RecordsPushed:  stats.RecordsPushed,
					RecordsFailed:  stats.RecordsFailed,
					ActionsApplied: stats.ActionsApplied,
					ActionsFailed:  stats.ActionsFailed,
					DeadLettered:   stats.DeadLettered,
					Duration:       stats.Duration,
				})
			}

			if err := dash.Start(); err != nil {
				return fmt.Errorf("starting dashboard: %w", err)
			}
			defer func() { _ = dash.Stop() }()
		}

		periodic := scheduler.New(scheduler.TickerHost{}, cfg.SyncInterval, eng.TriggerSync, logger)
		if err := periodic.Register(); err != nil {
			// Never fatal: the online-transition trigger still covers us.
			logger.Printf("Warning: periodic sync registration failed: %v", err)
		}
		defer periodic.Unregister()

		monitor.Start()
		defer monitor.Stop()

		eng.Start()
		defer eng.Stop()

		if dash != nil {
			// Mirror engine transitions onto the dashboard.
			onlineSub := eng.OnlineStatus(func(bool) { publishStatus(dash, db, eng) })
			syncSub := eng.SyncStatus(func(bool) { publishStatus(dash, db, eng) })
			defer onlineSub.Cancel()
			defer syncSub.Cancel()
		}

		logger.Printf("Daemon running: store=%s remote=%s", cfg.DBPath, cfg.RemoteURL)
		fmt.Println("pocketsync daemon running, press Ctrl+C to stop")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		logger.Println("Shutdown signal received")
		return nil
	},
}

func publishStatus(dash *dashboard.Server, db *store.DB, eng *engine.Engine) {
	ctx := context.Background()
	unsynced, _ := db.UnsyncedCount(ctx)
	pending, _ := db.ActionCount(ctx)
	dash.PublishStatus(dashboard.StatusData{
		Online:      eng.Online(),
		Syncing:     eng.Syncing(),
		Unsynced:    unsynced,
		Pending:     pending,
		DeadLetters: deadLetterCount(db),
	})
}

func deadLetterCount(db *store.DB) int {
	letters, err := db.DeadLetters(context.Background())
	if err != nil {
		return 0
	}
	return len(letters)
}

// newDaemonLogger builds the daemon logger, rotating via lumberjack when a
// log file is configured.
func newDaemonLogger(cfg *config.Config) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
	}
	return log.New(w, "[pocketsync] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

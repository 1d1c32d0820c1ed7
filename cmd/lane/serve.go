package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lanesync/lanesync/internal/catalog"
	"github.com/lanesync/lanesync/internal/config"
	"github.com/lanesync/lanesync/internal/dashboard"
	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/engine"
	"github.com/lanesync/lanesync/internal/entity"
	"github.com/lanesync/lanesync/internal/gateway"
	"github.com/lanesync/lanesync/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine",
	Long: `Run the sync engine until interrupted.

On an empty database the first run performs a full catalog replication
before the background loops start. Configuration changes to the probe
and sync intervals are picked up live; other changes need a restart.

The register secret is read from the LANESYNC_REGISTER_SECRET
environment variable so it never lands in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg config.Config) error {
	logger := buildLogger(cfg.Log)

	identity, err := config.LoadOrCreateIdentity(identityPath, "")
	if err != nil {
		return err
	}
	logger.Printf("Register %s starting", identity.RegisterID)

	store, err := docstore.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	gw, err := gateway.NewHTTP(gateway.HTTPConfig{
		BaseURL:        cfg.Gateway.BaseURL,
		RegisterID:     identity.RegisterID,
		RegisterSecret: os.Getenv("LANESYNC_REGISTER_SECRET"),
		Timeout:        cfg.Gateway.Timeout,
		Logger:         log.New(logger.Writer(), "[gateway] ", logger.Flags()),
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	eng, err := engine.New(store, gw, engine.Config{
		PageSize: cfg.Sync.PageSize,
		Heartbeat: engine.HeartbeatConfig{
			ProbeInterval:    cfg.Sync.ProbeInterval,
			SyncInterval:     cfg.Sync.SyncInterval,
			OfflineThreshold: cfg.Sync.OfflineThreshold,
		},
		Outbound: engine.OutboundConfig{
			Interval: cfg.Sync.RetryInterval,
		},
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	// First run: replicate the full catalog before serving.
	ctx := context.Background()
	if empty, err := storeIsEmpty(ctx, store); err != nil {
		return err
	} else if empty {
		logger.Printf("Empty database, running initial replication")
		if err := eng.Bootstrap(ctx, printProgress); err != nil {
			return fmt.Errorf("initial replication failed: %w", err)
		}
	}

	if err := eng.Start(); err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			logger.Printf("Engine stop error: %v", err)
		}
	}()

	if cfg.Dashboard.Enabled {
		cat, err := catalog.New(eng)
		if err != nil {
			return err
		}
		dash := dashboard.NewServer(eng.Status(), dashboard.Config{
			Addr:     cfg.Dashboard.Addr,
			Registry: registry,
			Counts:   cat.Counts,
			Logger:   log.New(logger.Writer(), "[dashboard] ", logger.Flags()),
		})
		if err := dash.Start(); err != nil {
			return err
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				logger.Printf("Dashboard stop error: %v", err)
			}
		}()
	}

	watcher, err := config.NewWatcher(configPath)
	if err == nil && watcher.Start() == nil {
		defer watcher.Stop()
		go func() {
			for {
				select {
				case reloaded, ok := <-watcher.Updates():
					if !ok {
						return
					}
					logger.Printf("Config reloaded, applying intervals")
					eng.SetIntervals(reloaded.Sync.ProbeInterval, reloaded.Sync.SyncInterval)
				case err, ok := <-watcher.Errors():
					if !ok {
						return
					}
					logger.Printf("Config reload failed: %v", err)
				}
			}
		}()
	} else if err != nil {
		logger.Printf("Config watching disabled: %v", err)
	}

	fmt.Println("Sync engine running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	return nil
}

// buildLogger writes to stderr, or to a rotated file when configured.
func buildLogger(cfg config.LogConfig) *log.Logger {
	if cfg.File == "" {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stderr, rotator), "", log.LstdFlags)
}

func storeIsEmpty(ctx context.Context, store *docstore.Store) (bool, error) {
	for _, collection := range []string{
		entity.CollectionItems,
		entity.CollectionCategories,
	} {
		n, err := store.Count(ctx, collection)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}

func printProgress(p engine.Progress) {
	if p.Err != nil {
		fmt.Printf("  [%d/%d] %s: %v\n", p.Completed, p.Total, p.Label, p.Err)
		return
	}
	fmt.Printf("  [%d/%d] %s\n", p.Completed, p.Total, p.Label)
}

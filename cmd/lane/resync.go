package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanesync/lanesync/internal/config"
	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/engine"
	"github.com/lanesync/lanesync/internal/gateway"
)

var resyncWipe bool

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Run a full catalog replication",
	Long: `Replicate the complete catalog from the back office into the local
document store. Existing documents are overwritten in place; pass
--wipe to drop the replicated collections first.

Run this while 'lane serve' is stopped; the database is opened
exclusively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		identity, err := config.LoadOrCreateIdentity(identityPath, "")
		if err != nil {
			return err
		}

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
		})
		if err != nil {
			return err
		}

		eng, err := engine.New(store, gw, engine.Config{
			PageSize: cfg.Sync.PageSize,
			Logger:   log.New(os.Stderr, "", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		ctx := context.Background()
		if resyncWipe {
			fmt.Println("Dropping replicated collections...")
			if err := eng.Wipe(ctx); err != nil {
				return err
			}
		}

		fmt.Println("Replicating catalog...")
		start := time.Now()
		if err := eng.Bootstrap(ctx, printProgress); err != nil {
			return err
		}
		fmt.Printf("Replication complete in %v\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	resyncCmd.Flags().BoolVar(&resyncWipe, "wipe", false, "drop replicated collections before loading")
	rootCmd.AddCommand(resyncCmd)
}

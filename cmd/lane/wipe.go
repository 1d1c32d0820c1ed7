package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanesync/lanesync/internal/config"
	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/entity"
)

var (
	wipeForce  bool
	wipeBackup string
)

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Clear replicated data from the local database",
	Long: `Drop every replicated collection so the next run performs a fresh
replication. The device identity and any unsent transactions are kept.

Pass --backup to export the database to a JSONL file first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if !wipeForce {
			fmt.Printf("This clears all replicated data in %s. Continue? [y/N] ", cfg.DBPath)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		store, err := docstore.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		if wipeBackup != "" {
			path := wipeBackup
			if path == "auto" {
				path = fmt.Sprintf("lane-backup-%s.jsonl", time.Now().Format("20060102-150405"))
			}
			result, err := store.ExportFile(ctx, path)
			if err != nil {
				return fmt.Errorf("backup failed, not wiping: %w", err)
			}
			fmt.Printf("Backed up %d documents to %s\n", result.Documents, path)
		}

		if err := store.Wipe(ctx, entity.CollectionDevice, entity.CollectionOutbound); err != nil {
			return err
		}
		fmt.Println("Replicated data cleared. Run 'lane resync' or 'lane serve' to reload.")
		return nil
	},
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeForce, "force", false, "skip the confirmation prompt")
	wipeCmd.Flags().StringVar(&wipeBackup, "backup", "", "export to this JSONL file first ('auto' for a timestamped name)")
	rootCmd.AddCommand(wipeCmd)
}

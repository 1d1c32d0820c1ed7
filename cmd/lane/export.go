package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanesync/lanesync/internal/config"
	"github.com/lanesync/lanesync/internal/docstore"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export [collection ...]",
	Short: "Export the local database as JSONL",
	Long: `Export documents to JSON Lines, one document per line, for
inspection or support bundles. With no arguments every collection is
exported; name collections to restrict the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := docstore.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		if exportOut == "" || exportOut == "-" {
			_, err := store.ExportJSONL(ctx, os.Stdout, args...)
			return err
		}

		result, err := store.ExportFile(ctx, exportOut, args...)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d documents from %d collections to %s\n",
			result.Documents, result.Collections, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	identityPath string
)

var rootCmd = &cobra.Command{
	Use:   "lane",
	Short: "Local-first sync engine for the point-of-sale terminal",
	Long: `lane keeps a point-of-sale terminal selling when the network does not.

It mirrors the back-office catalog (items, categories, tax rates,
discounts) into a local document store, applies incremental changes as
they arrive, holds catalog updates away from an in-progress sale, and
queues completed transactions for delivery until the back office
acknowledges them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "lane.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&identityPath, "identity", "identity.toml", "path to the device identity file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

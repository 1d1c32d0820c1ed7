package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanesync/lanesync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write the default configuration to the --config path and create
the device identity file. Refuses to overwrite an existing config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetString("store")

		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)

		identity, err := config.LoadOrCreateIdentity(identityPath, storeID)
		if err != nil {
			return err
		}
		fmt.Printf("Register ID: %s\n", identity.RegisterID)
		return nil
	},
}

func init() {
	initCmd.Flags().String("store", "", "store identifier recorded in the device identity")
	rootCmd.AddCommand(initCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lanesync/lanesync/internal/config"
	"github.com/lanesync/lanesync/internal/engine"
)

var statusJSON bool

var (
	styleLabel   = lipgloss.NewStyle().Bold(true).Width(18)
	styleOnline  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleOffline = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDim     = lipgloss.NewStyle().Faint(true)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running engine's sync status",
	Long: `Query a running engine's dashboard endpoint and display the
current sync status: connectivity, last heartbeat, last full sync,
queued outbound transactions, and per-collection document counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		resp, err := http.Get("http://" + cfg.Dashboard.Addr + "/status")
		if err != nil {
			return fmt.Errorf("engine not reachable at %s (is 'lane serve' running?): %w",
				cfg.Dashboard.Addr, err)
		}
		defer resp.Body.Close()

		var payload struct {
			engine.Snapshot
			Collections map[string]int `json:"collections"`
			At          time.Time      `json:"at"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to decode status: %w", err)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		}

		plain := !term.IsTerminal(int(os.Stdout.Fd()))
		render := func(s lipgloss.Style, text string) string {
			if plain {
				return text
			}
			return s.Render(text)
		}

		line := func(label, value string) {
			fmt.Printf("%s %s\n", render(styleLabel, label), value)
		}

		if payload.Online {
			line("Connectivity", render(styleOnline, "online"))
		} else {
			line("Connectivity", render(styleOffline,
				fmt.Sprintf("offline (%d failed probes)", payload.ConsecutiveFailures)))
		}

		if payload.Syncing {
			line("Sync", render(styleWarn, "cycle in progress"))
		}
		line("Last heartbeat", formatWhen(payload.LastHeartbeat))
		line("Last full sync", formatWhen(payload.LastFullSync))

		if payload.PendingOutbound > 0 {
			line("Unsent sales", render(styleWarn, fmt.Sprintf("%d", payload.PendingOutbound)))
		} else {
			line("Unsent sales", "0")
		}
		if payload.LastError != "" {
			line("Last error", render(styleOffline, payload.LastError))
		}

		if len(payload.Collections) > 0 {
			fmt.Println()
			fmt.Println(render(styleLabel, "Catalog"))
			names := make([]string, 0, len(payload.Collections))
			for name := range payload.Collections {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %s %d\n", render(styleDim, name), payload.Collections[name])
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output raw JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
}

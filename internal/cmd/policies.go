package cmd

import (
	"encoding/json"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Show the rate limit budgets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		policies, err := cfg.Policies()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			type row struct {
				Name        string `json:"name"`
				MaxRequests int    `json:"maxRequests"`
				Window      string `json:"window"`
			}
			rows := make([]row, 0, len(policies))
			for _, p := range policies {
				rows = append(rows, row{p.Name, p.MaxRequests, p.Window.String()})
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Policy", "Max Requests", "Window", "Endpoints"})
		for _, p := range policies {
			t.AppendRow(table.Row{p.Name, p.MaxRequests, p.Window, policyEndpoints[p.Name]})
		}
		backend := cfg.RateLimit.Backend
		if !cfg.RateLimit.Enabled {
			backend = "disabled"
		}
		t.AppendFooter(table.Row{"", "", "backend", backend})
		t.Render()
		return nil
	},
}

var policyEndpoints = map[string]string{
	"convert": "POST /api/convert",
	"history": "GET, DELETE /api/history",
	"auth":    "GET /api/me",
}

func init() {
	rootCmd.AddCommand(policiesCmd)
}

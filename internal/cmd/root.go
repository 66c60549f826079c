// Package cmd implements the tabula command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/tabula/internal/config"
)

var (
	cfgFile string
	watcher *config.Watcher
	cfgErr  error
)

var rootCmd = &cobra.Command{
	Use:   "tabula",
	Short: "Spreadsheet to JSON conversion service",
	Long: `tabula converts uploaded spreadsheets into JSON record sets for
authenticated callers and keeps a per-user conversion history.

Run "tabula serve" to start the HTTP API.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/tabula/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	watcher, cfgErr = config.NewWatcher(cfgFile)
}

// loadedConfig returns the configuration read during initialization.
func loadedConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("failed to load config: %w", cfgErr)
	}
	return watcher.Current(), nil
}

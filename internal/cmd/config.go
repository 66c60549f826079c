package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Print the configuration after defaults, config file and environment are applied. Secrets are omitted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}

		if file := watcher.File(); file != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", file)
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "# no config file, defaults and environment only")
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

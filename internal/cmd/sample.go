package cmd

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/tabula/internal/sample"
)

var sampleCmd = &cobra.Command{
	Use:   "sample <file.xlsx>",
	Short: "Write a workbook of fake data",
	Long:  "Generate a spreadsheet for demos and load tests. The first sheet holds a header row followed by fake records.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		columns, _ := cmd.Flags().GetInt("columns")
		seed, _ := cmd.Flags().GetInt64("seed")
		sheet, _ := cmd.Flags().GetString("sheet")

		wb, err := sample.Generate(sample.Options{Rows: rows, Columns: columns, Seed: seed, SheetName: sheet})
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], wb.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d rows x %d columns (%s)\n",
			args[0], rows, columns, units.HumanSize(float64(len(wb.Data))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	sampleCmd.Flags().Int("rows", 100, "number of data rows")
	sampleCmd.Flags().Int("columns", 5, fmt.Sprintf("number of columns (1-%d)", sample.MaxColumns))
	sampleCmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
	sampleCmd.Flags().String("sheet", "Sheet1", "name of the data sheet")
}

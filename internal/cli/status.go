package cli

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored records and pending failures per source",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, cfg, err := newHarvester(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source", "Type", "Records", "Pending Failures")

	for _, sc := range cfg.Sources {
		records, err := app.Records().Count(ctx, sc.Name)
		if err != nil {
			return fmt.Errorf("failed to count records of %s: %w", sc.Name, err)
		}
		pending, err := app.Failures().Count(ctx, sc.Name)
		if err != nil {
			return fmt.Errorf("failed to count failures of %s: %w", sc.Name, err)
		}
		table.Append(sc.Name, sc.Type, fmt.Sprintf("%d", records), fmt.Sprintf("%d", pending))
	}
	table.Render()

	report := app.Health(ctx)
	fmt.Printf("\nSystem status: %s\n", report.SystemStatus)
	return nil
}

package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var failuresSource string

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List pending import failures",
	RunE:  runFailures,
}

var failuresRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry due import failures once",
	RunE:  runFailuresRetry,
}

var failuresIgnoreCmd = &cobra.Command{
	Use:   "ignore <failure-id>...",
	Short: "Stop retrying the given failures",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFailuresIgnore,
}

func init() {
	failuresCmd.PersistentFlags().StringVarP(&failuresSource, "source", "s", "", "only this source")
	failuresCmd.AddCommand(failuresRetryCmd, failuresIgnoreCmd)
	rootCmd.AddCommand(failuresCmd)
}

func runFailures(cmd *cobra.Command, args []string) error {
	app, _, err := newHarvester(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	pending, err := app.Failures().GetAll(cmd.Context(), failuresSource)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending failures")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Source", "Record", "Type", "Attempts", "Retries", "Last Attempt", "Error")
	for _, f := range pending {
		table.Append(
			f.ID,
			f.Source,
			f.ExternalID,
			string(f.FailureType),
			fmt.Sprintf("%d", f.Attempts),
			fmt.Sprintf("%d", f.RetryCount),
			f.LastAttempt.Format(time.RFC3339),
			f.Error,
		)
	}
	table.Render()
	fmt.Printf("\nTotal pending: %d\n", len(pending))
	return nil
}

func runFailuresRetry(cmd *cobra.Command, args []string) error {
	app, _, err := newHarvester(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	before, err := app.Failures().Count(cmd.Context(), failuresSource)
	if err != nil {
		return err
	}
	app.RetryFailures(cmd.Context())
	after, err := app.Failures().Count(cmd.Context(), failuresSource)
	if err != nil {
		return err
	}

	fmt.Printf("Pending failures: %d -> %d\n", before, after)
	return nil
}

func runFailuresIgnore(cmd *cobra.Command, args []string) error {
	app, _, err := newHarvester(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	for _, id := range args {
		if err := app.Failures().MarkIgnored(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to ignore %s: %w", id, err)
		}
		fmt.Printf("Ignored %s\n", id)
	}
	return nil
}

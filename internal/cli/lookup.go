package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/core/domain"
)

var (
	lookupSources []string
	lookupJSON    bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <id>",
	Short: "Look an identifier up in every source and print the merged record",
	Args:  cobra.ExactArgs(1),
	RunE:  runLookup,
}

func init() {
	lookupCmd.Flags().StringSliceVarP(&lookupSources, "source", "s", nil, "sources to query (default all)")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	app, _, err := newHarvester(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Lookup(cmd.Context(), args[0], lookupSources...)
	if err != nil {
		return err
	}

	if lookupJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	printRecord(res.Record)
	for _, rec := range res.Unmatched {
		fmt.Println()
		fmt.Printf("Unmatched record from %s:\n", rec.Source)
		printRecord(rec)
	}
	for source, e := range res.Errors {
		fmt.Printf("\n%s: %v\n", source, e)
	}
	return nil
}

func printRecord(rec *domain.Record) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Source", rec.Source)
	table.Append("ID", rec.ExternalID)
	table.Append("DOI", rec.DOI)
	table.Append("Title", rec.Title)
	for _, a := range rec.Authors {
		table.Append("Author", a)
	}
	table.Append("Published", rec.Published)
	for field, values := range rec.Metadata {
		for _, v := range values {
			table.Append(field, v)
		}
	}

	table.Render()
}

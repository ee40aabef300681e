package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/harvesting/importer"
)

var (
	importFile     string
	importSource   string
	importQuery    string
	importLimit    int
	importPageSize int
	importJSON     bool
)

var importCmd = &cobra.Command{
	Use:   "import [ids...]",
	Short: "Import records by identifier or search query",
	Example: `  harvester import --source crossref 10.1000/182 10.1000/183
  harvester import --source scopus --file ids.txt
  harvester import --source openaire --query "graph neural" --limit 200`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&importSource, "source", "s", "", "source to import from (required)")
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "file with one identifier per line")
	importCmd.Flags().StringVarP(&importQuery, "query", "q", "", "search query to import instead of identifiers")
	importCmd.Flags().IntVar(&importLimit, "limit", 0, "maximum records for --query (0 = all)")
	importCmd.Flags().IntVar(&importPageSize, "page-size", 50, "page size for --query")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "print the report as JSON")
	_ = importCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ids := args
	if importFile != "" {
		fromFile, err := importer.ReadIdentifiers(afero.NewOsFs(), importFile)
		if err != nil {
			return err
		}
		ids = append(ids, fromFile...)
	}
	if len(ids) == 0 && importQuery == "" {
		return errors.New("no identifiers given: pass ids, --file or --query")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, _, err := newHarvester(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	imp, err := app.Importer(importSource)
	if err != nil {
		return err
	}

	var report *domain.Report
	if importQuery != "" {
		report, err = imp.ImportQuery(ctx, importQuery, importPageSize, importLimit)
	} else {
		report, err = imp.ImportIDs(ctx, ids)
	}
	if report != nil {
		printReport(report)
	}
	return err
}

func printReport(report *domain.Report) {
	if importJSON {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Run %s (%s): %d imported, %d failed in %s\n",
		report.RunID, report.Source, report.Imported, report.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, r := range report.Results {
		if r.Status == domain.RecordStatusFailed {
			fmt.Printf("  %s: %s\n", r.ExternalID, r.Error)
		}
	}
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search knowledge records",
	Long: `Finds records whose question or answer contains the query.
Matching ignores case and accents.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results (0 for all)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if knowledgeStore == nil {
		return errStoreNotConfigured
	}

	records := knowledgeStore.Search(args[0], searchLimit)
	if searchJSON {
		if records == nil {
			records = []domain.Record{}
		}
		return printJSON(cmd, records)
	}
	return outputSearchTable(cmd, records)
}

func outputSearchTable(cmd *cobra.Command, records []domain.Record) error {
	if len(records) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	width := outputWidth() - 6
	cmd.Println("Results:")
	cmd.Println()
	for i := range records {
		r := &records[i]
		cmd.Printf("  [%d] %s\n", i+1, truncate(r.Key, width))
		cmd.Printf("      %s\n", truncate(r.Value, width))
		if r.SourceID != "" {
			cmd.Printf("      Source: %s\n", r.SourceID)
		}
		if n := len(r.Metadata.OriginalIDs); n > 0 {
			cmd.Printf("      Merged from %d records\n", n)
		}
		cmd.Println()
	}
	return nil
}

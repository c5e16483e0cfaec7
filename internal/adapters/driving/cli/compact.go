package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactForce bool

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Merge duplicate records now",
	Long: `Runs one compaction: snapshots the active records, merges duplicates
with the configured LLM and swaps the result in.

Without --force nothing happens unless a trigger condition is met.`,
	Args: cobra.NoArgs,
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().BoolVarP(&compactForce, "force", "f", false, "compact even if no trigger condition is met")
	rootCmd.AddCommand(compactCmd)
}

func runCompact(cmd *cobra.Command, _ []string) error {
	if knowledgeBase == nil {
		return errKBNotConfigured
	}
	result := knowledgeBase.TriggerCompaction(cmd.Context(), compactForce)
	if !result.Success {
		return fmt.Errorf("compaction failed: %s", result.Message)
	}
	cmd.Println(result.Message)
	if mode, ok := result.Data["grouping_mode"]; ok {
		cmd.Printf("  grouping: %v, took %v\n", mode, result.Data["duration"])
	}
	return nil
}

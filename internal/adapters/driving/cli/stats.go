package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

var (
	statsJSON    bool
	statsHistory int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	statsCmd.Flags().IntVar(&statsHistory, "history", 5, "number of recent compaction runs to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	if knowledgeBase == nil {
		return errKBNotConfigured
	}
	result := knowledgeBase.GetStatistics()
	if !result.Success {
		return fmt.Errorf("statistics failed: %s", result.Message)
	}
	if statsJSON {
		return printJSON(cmd, result.Data)
	}

	if st, ok := result.Data["store"].(domain.KnowledgeStats); ok {
		cmd.Println("[Store]")
		cmd.Printf("  Records: %d (active %d, inactive %d)\n", st.TotalRecords, st.ActiveRecords, st.InactiveRecords)
		cmd.Printf("  Active buffer: %s\n", st.ActiveBuffer)
		cmd.Printf("  Compactions: %d\n", st.Compactions)
		if st.LastCompaction != nil {
			cmd.Printf("  Last compaction: %s\n", st.LastCompaction.Local().Format("2006-01-02 15:04:05"))
		}
		cmd.Printf("  Sources: %d\n", st.Sources)
		for _, s := range domain.AllProcessingStatuses() {
			if n := st.StatusCounts[s]; n > 0 {
				cmd.Printf("    %-16s %d\n", s, n)
			}
		}
		cmd.Println()
	}
	if sc, ok := result.Data["scheduler"].(domain.SchedulerStats); ok {
		cmd.Println("[Compaction]")
		cmd.Printf("  Attempts: %d (ok %d, failed %d)\n", sc.Attempts, sc.Successes, sc.Failures)
		cmd.Printf("  Active trigger: %d records\n", sc.ActiveTrigger)
		if sc.LastError != "" {
			cmd.Printf("  Last error: %s\n", sc.LastError)
		}
		cmd.Println()
	}
	if ts, ok := result.Data["tasks"].(domain.ProcessorStats); ok {
		cmd.Println("[Tasks]")
		cmd.Printf("  Completed: %d, failed: %d, retries: %d\n", ts.Completed, ts.Failed, ts.Retries)
		cmd.Println()
	}

	if scheduler != nil && statsHistory > 0 {
		runs, err := scheduler.History(cmd.Context(), statsHistory)
		if err != nil {
			return fmt.Errorf("compaction history: %w", err)
		}
		if len(runs) > 0 {
			cmd.Println("[Recent runs]")
			for _, r := range runs {
				outcome := "ok"
				if !r.Success {
					outcome = "failed: " + r.Error
				}
				cmd.Printf("  %s  %-14s %4d -> %-4d %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.Trigger, r.OriginalCount, r.FinalCount, outcome)
			}
		}
	}
	return nil
}

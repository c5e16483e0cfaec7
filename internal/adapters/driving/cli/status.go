package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

var (
	statusFilter string
	statusMeta   []string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Manage source processing status",
	Long: `The status ledger tracks how far each source has progressed through
the pipeline:

  processing > asr_completed > llm_completed > clean_finished > qa_extracted > compacted`,
}

var statusSetCmd = &cobra.Command{
	Use:   "set [source-id] [status]",
	Short: "Set a source's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatusSet,
}

var statusGetCmd = &cobra.Command{
	Use:   "get [source-id]",
	Short: "Show a source's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatusGet,
}

var statusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source statuses",
	Args:  cobra.NoArgs,
	RunE:  runStatusList,
}

func init() {
	statusSetCmd.Flags().StringArrayVarP(&statusMeta, "meta", "m", nil, "metadata as key=value (repeatable)")
	statusListCmd.Flags().StringVarP(&statusFilter, "status", "s", "", "only list sources at this status")
	statusCmd.AddCommand(statusSetCmd, statusGetCmd, statusListCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatusSet(cmd *cobra.Command, args []string) error {
	if knowledgeBase == nil {
		return errKBNotConfigured
	}
	status := domain.ProcessingStatus(args[1])
	if !status.IsValid() {
		return fmt.Errorf("unknown status %q", args[1])
	}
	meta, err := parseMeta(statusMeta)
	if err != nil {
		return err
	}

	result := knowledgeBase.UpdateStatus(cmd.Context(), args[0], status, meta)
	if !result.Success {
		return fmt.Errorf("update status failed: %s", result.Message)
	}
	cmd.Printf("%s: %s\n", args[0], status)
	return nil
}

func runStatusGet(cmd *cobra.Command, args []string) error {
	if knowledgeStore == nil {
		return errStoreNotConfigured
	}
	st, err := knowledgeStore.GetStatus(args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no status recorded for %s", args[0])
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, st)
}

func runStatusList(cmd *cobra.Command, _ []string) error {
	if knowledgeStore == nil {
		return errStoreNotConfigured
	}
	if statusFilter != "" && !domain.ProcessingStatus(statusFilter).IsValid() {
		return fmt.Errorf("unknown status %q", statusFilter)
	}

	var shown int
	for _, st := range knowledgeStore.ListStatuses() {
		if statusFilter != "" && string(st.Status) != statusFilter {
			continue
		}
		cmd.Printf("%-16s %s  %s\n", st.Status, st.LastUpdated.Local().Format("2006-01-02 15:04"), st.SourceID)
		shown++
	}
	if shown == 0 {
		cmd.Println("No sources.")
	}
	return nil
}

func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

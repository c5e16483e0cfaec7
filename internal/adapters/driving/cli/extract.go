package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/core/services"
)

var (
	extractAll  bool
	extractWait time.Duration
)

var extractCmd = &cobra.Command{
	Use:   "extract [path...]",
	Short: "Extract records from cleaned transcripts",
	Long: `Submits one extraction task per transcript and waits for them.

With --all, every source whose status is clean_finished is extracted;
its source id is taken as the transcript path. Tasks that exhaust their
retries are kept and can be retried with 'kbase tasks resubmit'.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractAll, "all", false, "extract every source at clean_finished")
	extractCmd.Flags().DurationVar(&extractWait, "wait", 30*time.Minute, "how long to wait for tasks to finish")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	if taskProcessor == nil {
		return errProcessorNotConfigured
	}
	if knowledgeStore == nil {
		return errStoreNotConfigured
	}

	paths := args
	if extractAll {
		paths = append(paths, knowledgeStore.EligibleSourceIDs(domain.StatusCleanFinished)...)
	}
	if len(paths) == 0 {
		return errors.New("nothing to extract: pass transcript paths or --all")
	}

	return withProcessor(cmd.Context(), func() error {
		for _, p := range paths {
			id, err := taskProcessor.Submit(driving.TaskRequest{
				Kind:     domain.TaskKindExtract,
				SourceID: p,
				Payload:  map[string]any{services.PayloadPath: p},
			})
			if err != nil {
				return fmt.Errorf("submit %s: %w", p, err)
			}
			cmd.Printf("Queued %s (task %s)\n", filepath.Base(p), id)
		}

		summary := taskProcessor.WaitForAll(extractWait)
		cmd.Printf("Done: %d completed, %d failed", summary.Completed, summary.Failed)
		if summary.TimedOut {
			cmd.Printf(", %d still pending (timed out)", summary.Pending)
		}
		cmd.Println()
		if summary.Failed > 0 {
			cmd.Println("Run 'kbase tasks failed' to inspect failures.")
		}
		return nil
	})
}

// withProcessor starts the task processor for the duration of fn and
// drains it afterwards.
func withProcessor(ctx context.Context, fn func() error) error {
	if err := taskProcessor.Start(ctx); err != nil {
		return fmt.Errorf("start task processor: %w", err)
	}
	err := fn()
	if stopErr := taskProcessor.Stop(context.WithoutCancel(ctx), err == nil); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and retry failed tasks",
}

var tasksFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List tasks that exhausted their retries",
	Args:  cobra.NoArgs,
	RunE:  runTasksFailed,
}

var tasksResubmitCmd = &cobra.Command{
	Use:   "resubmit [task-id]",
	Short: "Run a failed task again and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksResubmit,
}

func init() {
	tasksCmd.AddCommand(tasksFailedCmd, tasksResubmitCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runTasksFailed(cmd *cobra.Command, _ []string) error {
	if taskProcessor == nil {
		return errProcessorNotConfigured
	}
	tasks, err := taskProcessor.FailedTasks(cmd.Context())
	if err != nil {
		return fmt.Errorf("list failed tasks: %w", err)
	}
	if len(tasks) == 0 {
		cmd.Println("No failed tasks.")
		return nil
	}

	width := outputWidth()
	for i := range tasks {
		t := &tasks[i]
		cmd.Printf("%s  %-8s attempts=%d  %s\n", t.ID, t.Kind, t.Attempts, t.SourceID)
		if t.Error != "" {
			cmd.Printf("    %s\n", truncate(t.Error, width-4))
		}
	}
	return nil
}

func runTasksResubmit(cmd *cobra.Command, args []string) error {
	if taskProcessor == nil {
		return errProcessorNotConfigured
	}
	id := args[0]
	return withProcessor(cmd.Context(), func() error {
		if err := taskProcessor.Resubmit(cmd.Context(), id); err != nil {
			return fmt.Errorf("resubmit %s: %w", id, err)
		}
		st, err := taskProcessor.Wait(cmd.Context(), id)
		if err != nil {
			return err
		}
		cmd.Printf("%s: %s", id, st.State)
		if st.Error != "" {
			cmd.Printf(" (%s)", st.Error)
		}
		cmd.Println()
		return nil
	})
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/store"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and control persisted strategy tasks",
	}
	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksPauseCmd())
	cmd.AddCommand(newTasksResumeCmd())
	cmd.AddCommand(newTasksDumpCmd())
	return cmd
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(cfg.Store.DataDir)
}

func newTasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every task with a non-terminal persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			contexts, err := st.LoadAll()
			if err != nil {
				return err
			}
			for _, ctx := range contexts {
				fmt.Printf("%-40s %-12s %-10s/%-15s state=%s errors=%d\n",
					ctx.TaskID, ctx.Symbol.String(), ctx.BuyVenue, ctx.SellVenue, ctx.StateName, ctx.ConsecutiveErrors)
			}
			return nil
		},
	}
}

func newTasksDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <task-id>",
		Short: "Print the full persisted TaskContext as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, err := st.LoadTask(args[0])
			if err != nil {
				return err
			}
			if ctx == nil {
				return fmt.Errorf("no persisted task %q", args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ctx)
		},
	}
}

func newTasksPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Force a persisted task into the Paused state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTaskState(args[0], types.TaskPaused)
		},
	}
}

func newTasksResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Move a Paused persisted task back to Monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTaskState(args[0], types.TaskMonitoring)
		},
	}
}

// setTaskState rewrites a persisted task's StateName. The running supervisor
// re-reads task state only at startup (crash recovery), so this is meant for
// operating on a stopped engine, or as a record an operator will reconcile
// against a subsequent restart.
func setTaskState(taskID string, next types.TaskState) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, err := st.LoadTask(taskID)
	if err != nil {
		return err
	}
	if ctx == nil {
		return fmt.Errorf("no persisted task %q", taskID)
	}

	ctx.StateName = next
	if err := st.SaveTask(ctx); err != nil {
		return err
	}
	fmt.Printf("task %s -> %s\n", taskID, next)
	return nil
}

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/me/smpsched/pkg/model"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cores, tasks, and ready queues of the server's scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := client.Snapshot()
			if err != nil {
				return fmt.Errorf("get scheduler: %w", err)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server's scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/scheduler/start", nil)
			if err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			snap, err := decodeData[model.Snapshot](resp)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newTickCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Deliver timer ticks to the server's scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/scheduler/tick", model.TickRequest{Count: count})
			if err != nil {
				return fmt.Errorf("tick: %w", err)
			}
			snap, err := decodeData[model.Snapshot](resp)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of ticks")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var (
		priority int
		name     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks", model.CreateTaskRequest{Priority: priority, Name: name})
			if err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			return printTask(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Task priority")
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.MarkFlagRequired("priority")
	return cmd
}

func newPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <task_id> <priority>",
		Short: "Change a task's priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid priority %q", args[1])
			}
			resp, err := client.Put("/api/v1/tasks/"+args[0]+"/priority", model.SetPriorityRequest{Priority: &p})
			if err != nil {
				return fmt.Errorf("set priority: %w", err)
			}
			return printTask(cmd.OutOrStdout(), resp)
		},
	}
}

func newBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <task_id>",
		Short: "Block a ready or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks/"+args[0]+"/block", nil)
			if err != nil {
				return fmt.Errorf("block task: %w", err)
			}
			return printTask(cmd.OutOrStdout(), resp)
		},
	}
}

func newUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <task_id>",
		Short: "Make a blocked task ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks/"+args[0]+"/unblock", nil)
			if err != nil {
				return fmt.Errorf("unblock task: %w", err)
			}
			return printTask(cmd.OutOrStdout(), resp)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task_id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/tasks/" + args[0]); err != nil {
				return fmt.Errorf("delete task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s: DELETED\n", args[0])
			return nil
		},
	}
}

func printTask(w io.Writer, resp *apiResponse) error {
	v, err := decodeData[model.TaskView](resp)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Task %d: %s (priority %d", v.ID, v.State, v.Priority)
	if v.IsRunning() {
		fmt.Fprintf(w, ", core %d", v.Core)
	}
	fmt.Fprintln(w, ")")
	return nil
}

func printSnapshot(w io.Writer, snap *model.Snapshot) {
	state := "not started"
	if snap.Started {
		state = "started"
	}
	fmt.Fprintf(w, "Scheduler: %s, tick %d\n", state, snap.Ticks)

	fmt.Fprintf(w, "%-6s  %-6s  %-8s  %s\n", "CORE", "TASK", "PRIORITY", "NAME")
	for _, c := range snap.Cores {
		core := strconv.Itoa(c.Index)
		if c.Accounting {
			core += "*"
		}
		if c.Idle() {
			fmt.Fprintf(w, "%-6s  %-6s  %-8s  %s\n", core, "-", "-", "")
			continue
		}
		name := ""
		if t, ok := snap.Task(c.Task); ok {
			name = t.Name
		}
		fmt.Fprintf(w, "%-6s  %-6s  %-8d  %s\n", core, "T"+strconv.Itoa(int(c.Task)), c.Priority, name)
	}

	var ready []string
	for _, lv := range snap.Levels {
		if len(lv.Ready) == 0 {
			continue
		}
		ids := make([]string, len(lv.Ready))
		for i, id := range lv.Ready {
			ids[i] = "T" + strconv.Itoa(int(id))
		}
		ready = append(ready, fmt.Sprintf("  p%d: %s", lv.Priority, strings.Join(ids, " ")))
	}
	if len(ready) > 0 {
		fmt.Fprintln(w, "Ready:")
		for _, line := range ready {
			fmt.Fprintln(w, line)
		}
	}
	if counts := snap.Summary(); counts[model.TaskStateBlocked] > 0 {
		fmt.Fprintf(w, "Blocked: %d\n", counts[model.TaskStateBlocked])
	}
}

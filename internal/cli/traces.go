package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/me/smpsched/internal/trace"
	"github.com/me/smpsched/pkg/model"
	"github.com/spf13/cobra"
)

// openStore opens and migrates the --db trace store. With required unset
// and no --db given it returns nil, nil.
func openStore(ctx context.Context, required bool) (*trace.SQLiteStore, error) {
	if flagDB == "" {
		if required {
			return nil, errors.New("no trace database (use --db or SMPSCHED_DB)")
		}
		return nil, nil
	}
	st, err := trace.NewSQLiteStore(flagDB, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return st, nil
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded scheduler runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, total, err := st.ListRuns(cmd.Context(), model.ListOptions{Limit: limit})
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-28s  %-5s  %-8s  %s\n", "ID", "NAME", "CORES", "EVENTS", "CREATED")
			fmt.Fprintf(out, "%-40s  %-28s  %-5s  %-8s  %s\n", "--", "----", "-----", "------", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-40s  %-28s  %-5d  %-8s  %s\n",
					r.ID, r.Name, r.Cores, humanize.Comma(int64(r.EventCount)), humanize.Time(r.CreatedAt))
			}
			if total > len(runs) {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (max 100)")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <run_id>...",
		Short: "Delete recorded runs and their events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, id := range args {
				if err := st.DeleteRun(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete run: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func newTraceCmd() *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "trace <run_id>",
		Short: "Print the events and context switches of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return model.NewNotFoundError("run", args[0])
			}
			events, err := st.ListEvents(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			keep := make(map[model.EventKind]bool)
			for _, k := range kinds {
				keep[model.EventKind(k)] = true
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s (%s): %d cores, accounting core %d, priorities %d..%d, %s events\n",
				run.ID, run.Name, run.Cores, run.AccountingCore, run.MinPriority, run.MaxPriority,
				humanize.Comma(int64(len(events))))
			for _, ev := range events {
				if len(keep) > 0 && !keep[ev.Kind] {
					continue
				}
				fmt.Fprintf(out, "%5d  tick %-5d  %-12s  %s\n", ev.Seq, ev.Tick, ev.Kind, describeEvent(ev))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only show events of these kinds (create, start, tick, ...)")
	return cmd
}

func describeEvent(ev model.Event) string {
	var b strings.Builder
	if ev.Task != model.NoTask {
		fmt.Fprintf(&b, "T%d p%d", ev.Task, ev.Priority)
	}
	for _, sw := range ev.Switches {
		if b.Len() > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "c%d:%s->%s", sw.Core, taskLabel(sw.From), taskLabel(sw.To))
	}
	return b.String()
}

func taskLabel(id model.TaskID) string {
	if id == model.NoTask {
		return "-"
	}
	return "T" + strconv.Itoa(int(id))
}

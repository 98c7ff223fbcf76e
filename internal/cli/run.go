package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/smpsched/internal/scenario"
	"github.com/me/smpsched/internal/trace"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run scenarios against a local scheduler",
		Long: `Run one or more YAML scenarios against a fresh in-process scheduler each.

Every expect step is evaluated against the scheduler state; failures are
reported per step and the command exits non-zero if any scenario fails.
With --db, each run and its events are recorded for 'smpsched runs' and
'smpsched trace'. Directories are expanded to the *.yaml files they contain.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandScenarioArgs(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			st, err := openStore(ctx, false)
			if err != nil {
				return err
			}
			var store trace.Store
			if st != nil {
				defer st.Close()
				store = st
			}
			runner := scenario.NewRunner(store, logger)

			out := cmd.OutOrStdout()
			var results []*scenario.Result
			failed := 0
			for _, path := range paths {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				res, err := runner.Run(ctx, sc)
				if err != nil {
					return fmt.Errorf("scenario %s: %w", sc.Name, err)
				}
				if !res.Passed() {
					failed++
				}
				if jsonOut {
					results = append(results, res)
				} else {
					printResult(out, res)
				}
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenario(s) failed", failed, len(paths))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	return cmd
}

// expandScenarioArgs replaces directory arguments with their *.yaml files.
func expandScenarioArgs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.yaml"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no *.yaml scenarios in %s", arg)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

func printResult(w io.Writer, res *scenario.Result) {
	verdict := "PASS"
	if !res.Passed() {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "%s  %s  (%s steps, %s expectations, %s events, %s)\n",
		verdict, res.Name,
		humanize.Comma(int64(res.Steps)),
		humanize.Comma(int64(res.Expectations)),
		humanize.Comma(int64(res.Events)),
		res.Duration.Round(time.Microsecond))
	if res.RunID != "" {
		fmt.Fprintf(w, "      run: %s\n", res.RunID)
	}
	for _, f := range res.Failures {
		if f.That != "" {
			fmt.Fprintf(w, "      step %d, tick %d: %s\n        %s\n", f.Step, f.Tick, f.That, f.Message)
		} else {
			fmt.Fprintf(w, "      step %d, tick %d: %s\n", f.Step, f.Tick, f.Message)
		}
	}
}

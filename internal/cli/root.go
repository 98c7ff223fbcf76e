package cli

import (
	"log/slog"
	"os"

	"github.com/me/smpsched/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking SMPSCHED_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("SMPSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the smpsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smpsched",
		Short: "smpsched — SMP priority scheduler with round-robin timeslicing",
		Long: "smpsched drives a multi-core preemptive priority scheduler: run YAML scenarios locally,\n" +
			"control a running smpsched-server, and inspect recorded traces.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "smpsched server URL (or SMPSCHED_SERVER env)")
	root.PersistentFlags().StringVar(&flagDB, "db", os.Getenv("SMPSCHED_DB"), "SQLite trace database (or SMPSCHED_DB env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newStartCmd(),
		newTickCmd(),
		newCreateCmd(),
		newPriorityCmd(),
		newBlockCmd(),
		newUnblockCmd(),
		newDeleteCmd(),
		newRunsCmd(),
		newTraceCmd(),
	)

	return root
}

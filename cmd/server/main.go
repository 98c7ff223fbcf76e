package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/me/smpsched/internal/config"
	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/internal/server"
	"github.com/me/smpsched/internal/trace"
)

func main() {
	cfg := config.DefaultServerConfig()

	// A config file provides the defaults; explicit flags override it.
	if path := configArg(os.Args[1:]); path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	flag.String("config", "", "Path to YAML server config file")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Trace database path (\"default\" for ~/.smpsched/traces.db, empty disables tracing)")
	flag.BoolVar(&cfg.AutoTick, "auto-tick", cfg.AutoTick, "Drive ticks from a timer every quantum")
	flag.IntVar(&cfg.Scheduler.Cores, "cores", cfg.Scheduler.Cores, "Number of cores")
	flag.IntVar(&cfg.Scheduler.AccountingCore, "accounting-core", cfg.Scheduler.AccountingCore, "Core whose ticks drive timeslicing")
	flag.IntVar(&cfg.Scheduler.MinPriority, "min-priority", cfg.Scheduler.MinPriority, "Lowest task priority")
	flag.IntVar(&cfg.Scheduler.MaxPriority, "max-priority", cfg.Scheduler.MaxPriority, "Highest task priority")
	flag.DurationVar(&cfg.Scheduler.Quantum, "quantum", cfg.Scheduler.Quantum, "Tick period for --auto-tick")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if err := cfg.Scheduler.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid scheduler config: %v\n", err)
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serverOpts []server.Option

	// Resolve database path and open the trace store.
	dbPath := cfg.DBPath
	if dbPath == "default" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".smpsched")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "traces.db")
	}
	if dbPath != "" {
		st, err := trace.NewSQLiteStore(dbPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
			os.Exit(1)
		}
		logger.Info("database ready", "path", dbPath)
		serverOpts = append(serverOpts, server.WithTraceStore(st))
	}

	srv, err := server.New(ctx, cfg, logger, serverOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create server: %v\n", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Start the tick source in background.
	srv.StartTicker(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr,
			"cores", cfg.Scheduler.Cores, "auto_tick", cfg.AutoTick, "quantum", cfg.Scheduler.Quantum)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// configArg finds the value of -config/--config before flags are parsed.
func configArg(args []string) string {
	for i, a := range args {
		for _, name := range []string{"-config", "--config"} {
			if a == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(a, name+"=") {
				return strings.TrimPrefix(a, name+"=")
			}
		}
	}
	return ""
}

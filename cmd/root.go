// Package cmd implements the kill-orphan command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/kill-orphan/internal/api"
	"github.com/smazurov/kill-orphan/internal/config"
	"github.com/smazurov/kill-orphan/internal/events"
	"github.com/smazurov/kill-orphan/internal/logging"
	"github.com/smazurov/kill-orphan/internal/metrics"
	"github.com/smazurov/kill-orphan/internal/metrics/exporters"
	"github.com/smazurov/kill-orphan/internal/process"
	"github.com/smazurov/kill-orphan/internal/proctree"
	"github.com/smazurov/kill-orphan/internal/signals"
	"github.com/smazurov/kill-orphan/internal/supervisor"
	"github.com/smazurov/kill-orphan/internal/systemd"
	"github.com/smazurov/kill-orphan/internal/version"
)

// Usage is printed when no command is given.
const Usage = "Usage: kill-orphan <command> [<args>...]"

// ExitFailure is the exit code for usage and startup errors.
const ExitFailure = 1

// drainTimeout bounds how long the last lifecycle events may take to reach
// their subscribers after the child is done.
const drainTimeout = time.Second

// errUsage marks a missing command. The usage line is already printed.
var errUsage = errors.New("missing command")

// Execute runs kill-orphan with args (without the program name) and returns
// the exit code.
func Execute(args []string, stdio process.Stdio) int {
	exitCode := 0
	root := CreateRootCmd(stdio, &exitCode)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderrOf(stdio), "kill-orphan: %v\n", err)
		}
		return ExitFailure
	}
	return exitCode
}

// CreateRootCmd creates the root command. The exit code of a completed run
// is stored in exitCode; it is left alone for --help and --version.
func CreateRootCmd(stdio process.Stdio, exitCode *int) *cobra.Command {
	opts := config.Defaults()

	cmd := &cobra.Command{
		Use:   "kill-orphan [flags] <command> [<args>...]",
		Short: "Run a command and kill its whole process tree when kill-orphan is signalled or orphaned",
		Long: `kill-orphan spawns <command> with inherited stdio and waits for it.

When kill-orphan receives SIGINT, SIGTERM or SIGQUIT, or when its own parent
process goes away, it kills the command and every descendant of it, then waits
up to the grace period for the command to exit.

The exit code is the command's exit code, or 1 if the command was killed by a
signal, did not exit within the grace period, or could not be started.`,
		Version:       version.Get().String(),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(stderrOf(stdio), Usage)
				return errUsage
			}

			if err := config.LoadConfig(&opts, cmd); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			code, err := run(opts, args, stdio)
			if err != nil {
				return err
			}
			*exitCode = code
			return nil
		},
	}

	// Everything after the command belongs to the command
	cmd.Flags().SetInterspersed(false)

	cmd.SetOut(stdoutOf(stdio))
	cmd.SetErr(stderrOf(stdio))

	cmd.Flags().StringVarP(&opts.Config, "config", "c", opts.Config, "Path to configuration file")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", opts.PollInterval, "How often the signal latch, parent and child are checked")
	cmd.Flags().DurationVar(&opts.GracePeriod, "grace-period", opts.GracePeriod, "How long to wait for the child after the kill cascade")
	cmd.Flags().StringVar(&opts.LoggingLevel, "logging-level", opts.LoggingLevel, "Logging level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.LoggingFormat, "logging-format", opts.LoggingFormat, "Logging format (text, json, auto)")
	cmd.Flags().BoolVar(&opts.LoggingJournal, "logging-journal", opts.LoggingJournal, "Also log to the systemd journal")
	cmd.Flags().StringVar(&opts.StatusAddr, "status-addr", opts.StatusAddr, "Serve the status API on this address (disabled when empty)")

	return cmd
}

// run supervises argv until it exits and returns the exit code.
func run(opts config.Options, argv []string, stdio process.Stdio) (int, error) {
	runID := uuid.NewString()
	logCfg := opts.Logging()
	logCfg.RunID = runID
	logCfg.Output = stderrOf(stdio)
	logging.Initialize(logCfg)
	logger := logging.GetLogger("supervisor")

	// Install before spawning so no signal is missed
	latch, err := signals.Install(signals.Termination...)
	if err != nil {
		return ExitFailure, fmt.Errorf("install signal handler: %w", err)
	}
	defer latch.Stop()

	provider, err := proctree.NewProvider(logging.GetLogger("proctree"))
	if err != nil {
		return ExitFailure, fmt.Errorf("process table: %w", err)
	}

	parentPID, err := supervisor.ResolveParent(provider, os.Getpid())
	if err != nil {
		return ExitFailure, err
	}

	logger.Info("Launching command", "command", argv)
	child, err := process.Spawn(argv, stdio)
	if err != nil {
		return ExitFailure, err
	}
	logger.Info("Spawned process with pid", "pid", child.PID())

	bus := events.New()
	defer bus.Close()
	recorder := metrics.Attach(bus)
	defer recorder.Detach()
	notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
	notifier.Attach(bus)
	defer notifier.Detach()

	sup, err := supervisor.New(supervisor.Options{
		Provider:       provider,
		Latch:          latch,
		Child:          child,
		ParentPID:      parentPID,
		WatchOwnParent: parentPID == os.Getppid(),
		PollInterval:   opts.PollInterval,
		GracePeriod:    opts.GracePeriod,
		Command:        child.Args(),
		StartedAt:      child.StartedAt(),
		Bus:            bus,
		Logger:         logger,
	})
	if err != nil {
		_ = child.Kill()
		return ExitFailure, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	startBackground(gctx, g, opts, sup, bus, runID)
	g.Go(func() error { return notifier.RunWatchdog(gctx) })

	// Background services never stop the supervisor, so it gets its own context
	code, runErr := sup.Run(context.Background())

	// The exit and give-up events must reach metrics and systemd before os.Exit
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := bus.Drain(drainCtx); err != nil {
		logger.Warn("Lifecycle events not delivered before exit", "error", err)
	}
	drainCancel()

	cancel()
	if err := g.Wait(); err != nil {
		logging.GetLogger("main").Warn("Background service failed", "error", err)
	}
	return code, runErr
}

// startBackground starts the optional status API and config watcher.
func startBackground(ctx context.Context, g *errgroup.Group, opts config.Options, sup *supervisor.Supervisor, bus *events.Bus, runID string) {
	if opts.StatusAddr != "" {
		server := api.NewServer(api.Options{
			Status:            sup,
			Bus:               bus,
			PrometheusHandler: exporters.HTTPHandler(),
			RunID:             runID,
		})
		g.Go(func() error {
			if err := server.Run(ctx, opts.StatusAddr); err != nil {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
	}

	if _, err := os.Stat(opts.Config); err == nil {
		watcher := config.NewConfigWatcher(opts.Config, config.Load, logging.GetLogger("config"))
		watcher.OnReload(func(reloaded config.Options) {
			logging.SetLevels(reloaded.Logging())
			logging.GetLogger("config").Info("Log levels reloaded", "level", reloaded.LoggingLevel)
		})
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil {
				return fmt.Errorf("config watcher: %w", err)
			}
			return nil
		})
	}
}

func stdoutOf(stdio process.Stdio) io.Writer {
	if stdio.Stdout != nil {
		return stdio.Stdout
	}
	return io.Discard
}

func stderrOf(stdio process.Stdio) io.Writer {
	if stdio.Stderr != nil {
		return stdio.Stderr
	}
	return io.Discard
}

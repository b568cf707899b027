package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/api"
	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/executor"
	"github.com/taskweave/taskweave/internal/orchestrator"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/store"
)

var (
	debug     bool
	jsonLogs  bool
	quiet     bool
	storePath string
	version   = "v0.1.0"

	processManager = executor.NewProcessManager()

	rootCmd = &cobra.Command{
		Use:           "taskweave",
		Short:         "A workflow engine that runs task graphs through agent executors",
		Long:          `taskweave validates task graphs, schedules tasks whose dependencies are satisfied, and drives them through per-capability executors with retry and failure isolation.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case quiet:
				log.SetLevel(log.ErrorLevel)
			case debug:
				log.SetLevel(log.DebugLevel)
				log.Debug("Debug logging enabled")
			default:
				log.SetLevel(log.InfoLevel)
			}
			if jsonLogs {
				log.SetFormatter(&log.JSONFormatter{})
			} else {
				log.SetFormatter(&log.TextFormatter{
					FullTimestamp: true,
				})
			}
			log.SetOutput(os.Stderr)
		},
	}
)

// Execute runs the CLI with the given signal-aware context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Path to the workflow database (default ~/.taskweave/taskweave.db)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
}

// app bundles the wired engine for one command invocation.
type app struct {
	cfg      *config.Config
	store    store.Store
	bus      *events.Bus
	registry *executor.Registry
	handler  *api.Handler
}

// openApp loads configuration and opens the store. Commands that dispatch
// tasks call registry.Complete() before running the coordinator, so a
// missing executor binding fails up front instead of per task.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Store.Path
	if storePath != "" {
		dbPath = storePath
	}
	if dbPath == "" {
		dbPath, err = config.DefaultStorePath()
		if err != nil {
			return nil, fmt.Errorf("resolving store path: %w", err)
		}
	}

	st, err := store.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry := buildRegistry(cfg)

	bus := events.NewBus()
	logEvents(bus)

	coord := orchestrator.New(st, registry, bus, engineConfig(cfg))
	return &app{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		registry: registry,
		handler:  api.NewHandler(st, coord),
	}, nil
}

// buildRegistry binds one command executor per configured agent type.
// Entries for unknown agent types are ignored with a warning.
func buildRegistry(cfg *config.Config) *executor.Registry {
	registry := executor.NewRegistry()
	for name, ec := range cfg.Executors {
		agentType := scheduler.AgentType(name)
		if !agentType.Valid() {
			log.WithField("agent_type", name).Warn("Ignoring executor config for unknown agent type")
			continue
		}
		cmdExec := executor.NewCommandExecutor(ec.Command, ec.Args, processManager)
		cmdExec.Env = ec.Env
		registry.Register(agentType, cmdExec)
	}
	return registry
}

func (a *app) close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

// engineConfig maps file configuration onto the coordinator.
func engineConfig(cfg *config.Config) orchestrator.Config {
	retry := orchestrator.DefaultRetryConfig()
	if cfg.Engine.RetryInitialMs > 0 {
		retry.InitialInterval = time.Duration(cfg.Engine.RetryInitialMs) * time.Millisecond
	}
	if cfg.Engine.RetryMaxMs > 0 {
		retry.MaxInterval = time.Duration(cfg.Engine.RetryMaxMs) * time.Millisecond
	}
	if cfg.Engine.RetryBudgetMs > 0 {
		retry.MaxElapsedTime = time.Duration(cfg.Engine.RetryBudgetMs) * time.Millisecond
	}
	return orchestrator.Config{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		BestEffort:     cfg.Engine.BestEffort,
		Retry:          retry,
	}
}

// logEvents drains the bus into debug logs so --debug shows the full
// event stream alongside coordinator logging.
func logEvents(bus *events.Bus) {
	sub := bus.SubscribeAll(256)
	go func() {
		for ev := range sub {
			log.WithFields(log.Fields{
				"workflow": ev.WorkflowID(),
				"event":    ev.EventType(),
			}).Debug("Event")
		}
	}()
}

// printResponse writes the response as indented JSON to stdout. Logs go
// to stderr, so output stays machine-readable.
func printResponse(resp *api.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

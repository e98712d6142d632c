package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/audit"
	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/config"
	"github.com/fentz26/deskpilot/internal/connectors"
	"github.com/fentz26/deskpilot/internal/connectors/localexec"
	"github.com/fentz26/deskpilot/internal/connectors/mcpdesktop"
	"github.com/fentz26/deskpilot/internal/controlplane"
	"github.com/fentz26/deskpilot/internal/events"
	"github.com/fentz26/deskpilot/internal/mcp"
	"github.com/fentz26/deskpilot/internal/metrics"
	"github.com/fentz26/deskpilot/internal/planner"
	"github.com/fentz26/deskpilot/internal/safety"
	"github.com/fentz26/deskpilot/internal/scheduler"
	"github.com/fentz26/deskpilot/internal/store"
)

const shutdownTimeout = 30 * time.Second

var (
	serveListen string
	serveDB     string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon"},
	Short:   "Start the DeskPilot daemon",
	Long:    `Starts the daemon that runs the agent and serves the HTTP control API.`,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Override the configured listen address")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Override the configured SQLite database path")
}

// loadConfig reads the config file and applies the logging flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if _, err := config.ParseLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// desktop is the connector chosen by the config plus whatever must be
// released on shutdown.
type desktop struct {
	connectors.Connector
	closer io.Closer
}

func newDesktop(cfg *config.Config, logger *slog.Logger) (*desktop, error) {
	switch cfg.Desktop.Connector {
	case config.ConnectorLocal:
		return &desktop{Connector: localexec.New(cfg.Desktop.Display, localexec.WithLogger(logger))}, nil
	default:
		reg, err := mcp.NewRegistryFromConfig(cfg.Hosts)
		if err != nil {
			return nil, err
		}
		router, err := mcp.NewRouter(cfg.Hosts, reg)
		if err != nil {
			return nil, err
		}
		pool := mcp.NewPool(reg, mcp.Dial, logger)
		logger.Info("MCP hosts registered", "count", reg.Count(), "enabled", len(reg.GetEnabled()))
		d := mcpdesktop.New(pool, router,
			mcpdesktop.WithLogger(logger),
			mcpdesktop.WithCallTimeout(cfg.Hosts.CallTimeout),
		)
		return &desktop{Connector: d, closer: pool}, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveDB != "" {
		cfg.Server.DBPath = serveDB
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("Failed to set GOMAXPROCS", "error", err)
	}

	logger.Info("Starting DeskPilot daemon", "version", version, "connector", cfg.Desktop.Connector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guard, err := safety.New(cfg.Safety, safety.WithLogger(logger))
	if err != nil {
		return err
	}
	if cfg.SafetyPolicy != "" {
		go func() {
			if err := safety.Watch(ctx, cfg.SafetyPolicy, guard, logger); err != nil {
				logger.Warn("Safety policy watcher stopped", "path", cfg.SafetyPolicy, "error", err)
			}
		}()
	}

	llm, err := planner.NewFromConfig(cfg.Planner, logger)
	if err != nil {
		return err
	}

	desk, err := newDesktop(cfg, logger)
	if err != nil {
		return err
	}

	s, err := store.New(cfg.Server.DBPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	sched := scheduler.New(cfg.Scheduler, logger)
	broker := events.NewBroker(cfg.Server.EventBuffer, logger)

	orch, err := agent.New(agent.Deps{
		Vision:   desk.Connector,
		Planner:  llm,
		Executor: desk.Connector,
		Guard:    guard,
		Events:   events.Tee(broker, events.LogSink(logger)),
		Recorder: audit.NewRecorder(s, logger),
		Metrics:  m,
		Runner:   sched,
		Logger:   logger,
	}, cfg.Agent)
	if err != nil {
		s.Close()
		return err
	}

	service := controlplane.NewService(orch, s, broker, logger)
	server := controlplane.NewServer(service, cfg.Server.Listen,
		controlplane.WithAuthenticator(auth.NewAuthenticator(cfg.Server.Tokens)),
		controlplane.WithMetrics(m.Handler()),
		controlplane.WithLogger(logger),
		controlplane.WithVersion(version),
	)

	// Channel to receive server errors
	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received signal, initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", "error", err)
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := shutdown(shutdownCtx, logger, server, orch, service, sched, broker, desk, s); err != nil {
		logger.Error("Shutdown finished with errors", "error", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("Shutdown complete")
	}
	return runErr
}

// shutdown stops the daemon front to back: no new requests, then no
// running tasks, then the background workers and finally storage.
func shutdown(ctx context.Context, logger *slog.Logger, server *controlplane.Server, orch *agent.Orchestrator,
	service *controlplane.Service, sched *scheduler.Scheduler, broker *events.Broker, desk *desktop, s *store.Store) error {
	var result *multierror.Error

	logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}

	logger.Info("Cancelling active tasks")
	if err := orch.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("agent: %w", err))
	}
	service.Close()
	sched.Stop()
	broker.Close()

	if desk.closer != nil {
		logger.Info("Closing desktop connections")
		if err := desk.closer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("desktop: %w", err))
		}
	}

	logger.Info("Closing database connection")
	if err := s.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("database: %w", err))
	}
	return result.ErrorOrNil()
}

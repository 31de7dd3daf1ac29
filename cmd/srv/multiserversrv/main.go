package main

import (
	"context"
	"fmt"
	"os"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"
	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-multiserver/pkg/config"
	"github.com/core-tools/hsu-multiserver/pkg/control"
	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/process"
	"github.com/core-tools/hsu-multiserver/pkg/processfile"
	"github.com/core-tools/hsu-multiserver/pkg/supervisor"
	"github.com/core-tools/hsu-multiserver/pkg/worlds"
)

type flagOptions struct {
	Config        string `long:"config" short:"c" description:"path to YAML configuration file"`
	Worlds        string `long:"worlds" description:"worlds root directory"`
	Proxy         string `long:"proxy" description:"proxy executable path"`
	Binary        string `long:"binary" description:"world server binary"`
	InheritOutput bool   `long:"inherit-output" description:"connect children to this process's stdout/stderr"`
	LogLevel      string `long:"log-level" description:"debug, info, warn or error"`
	StatusPort    int    `long:"status-port" description:"gRPC control/health port, 0 disables"`
	HTTPPort      int    `long:"http-port" description:"HTTP status port, 0 disables"`
	Validate      bool   `long:"validate" description:"validate configuration and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(opts))
}

func run(opts flagOptions) int {
	stdLogger := sprintfLogging.NewStdSprintfLogger()

	cfg, err := loadConfig(opts)
	if err != nil {
		stdLogger.Errorf("Configuration is invalid: %v", err)
		return 1
	}
	if opts.Validate {
		stdLogger.Infof("Configuration is valid")
		return 0
	}

	runID := uuid.NewString()
	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Fields: map[string]string{"run_id": runID},
	})
	if err != nil {
		stdLogger.Errorf("Failed to create logger: %v", err)
		return 1
	}
	defer zapLogger.Sync()

	logger := logging.NewLogger(logPrefix("hsu-multiserver"), logging.FuncsOf(zapLogger))
	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: zapLogger.Debugf,
			Infof:  zapLogger.Infof,
			Warnf:  zapLogger.Warnf,
			Errorf: zapLogger.Errorf,
		})

	logger.Infof("Starting, run_id: %s, proxy: %s, worlds: %s", runID, cfg.Proxy.ExecutablePath, cfg.Worlds.Root)

	health := control.NewHealthReporter(logging.WithPrefix(logger, "health: "))
	s, err := newSupervisor(cfg, runID, health, logger)
	if err != nil {
		logger.Errorf("Failed to create supervisor: %v", err)
		return 1
	}

	ctx, stop := supervisor.WithShutdownSignals(context.Background(), logger)
	defer stop()

	stopControl, err := startControl(cfg.Control, s, health, coreLogger, logger)
	if err != nil {
		logger.Errorf("Failed to start control surface: %v", err)
		return 1
	}
	defer stopControl()

	err = s.Run(ctx)
	switch {
	case err == nil:
		logger.Infof("Stopped")
		return 0
	case errors.IsCancelledError(err):
		logger.Infof("Stopped during startup: %v", err)
		return 0
	default:
		logger.Errorf("Stopped with error: %v", err)
		return 1
	}
}

// loadConfig reads the file (or defaults) and applies flag overrides
func loadConfig(opts flagOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.LoadConfigFromFile(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.Worlds != "" {
		cfg.Worlds.Root = opts.Worlds
	}
	if opts.Proxy != "" {
		cfg.Proxy.ExecutablePath = opts.Proxy
	}
	if opts.Binary != "" {
		cfg.Worlds.Binary = opts.Binary
	}
	if opts.InheritOutput {
		cfg.Output = process.StdioInherit.String()
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.StatusPort != 0 {
		cfg.Control.GRPCPort = opts.StatusPort
	}
	if opts.HTTPPort != 0 {
		cfg.Control.HTTPPort = opts.HTTPPort
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSupervisor(cfg *config.Config, runID string, health *control.HealthReporter, logger logging.Logger) (*supervisor.Supervisor, error) {
	stdio, err := process.ParseStdioMode(cfg.Output)
	if err != nil {
		return nil, err
	}

	launcher, err := worlds.NewLauncher(worlds.LauncherConfig{
		Root:       cfg.Worlds.Root,
		Binary:     cfg.Worlds.Binary,
		ConfigFile: cfg.Worlds.ConfigFile,
		LogFile:    cfg.Worlds.LogFile,
	})
	if err != nil {
		return nil, err
	}

	processFiles, err := newProcessFileManager(cfg.ProcessFile, launcher.Root(), logging.WithPrefix(logger, "pidfiles: "))
	if err != nil {
		return nil, err
	}

	return supervisor.New(supervisor.Options{
		RunID: runID,
		Proxy: process.LaunchSpec{
			ID:             supervisor.ProxyID,
			ExecutablePath: cfg.Proxy.ExecutablePath,
		},
		ProxyStartupDelay: cfg.Proxy.StartupDelay,
		Launcher:          launcher,
		RequireManifest:   cfg.Worlds.RequireManifest,
		Stdio:             stdio,
		PollInterval:      cfg.Supervision.PollInterval,
		GracefulTimeout:   cfg.Supervision.GracefulTimeout,
		Restart: supervisor.RestartConfig{
			Cooldown:    cfg.Supervision.Cooldown,
			BackoffRate: cfg.Supervision.BackoffRate,
			MaxCooldown: cfg.Supervision.MaxCooldown,
			MaxRestarts: cfg.Supervision.MaxRestarts,
			ResetAfter:  cfg.Supervision.ResetAfter,
		},
		ProcessFiles: processFiles,
		Observer:     health,
	}, logger)
}

// newProcessFileManager returns nil when PID files are disabled. Files are scoped by
// worlds root so that deployments sharing a base directory never see each other's.
func newProcessFileManager(cfg config.ProcessFileConfig, worldsRoot string, logger logging.Logger) (*processfile.ProcessFileManager, error) {
	if cfg.Disabled {
		return nil, nil
	}

	serviceContext, err := processfile.ParseServiceContext(cfg.ServiceContext)
	if err != nil {
		return nil, err
	}

	useSubdirectory := cfg.UseSubdirectory == nil || *cfg.UseSubdirectory
	files := processfile.ProcessFileConfig{
		BaseDirectory:   cfg.BaseDirectory,
		ServiceContext:  serviceContext,
		UseSubdirectory: useSubdirectory,
	}
	if useSubdirectory {
		files.Scope = processfile.ScopeFor(worldsRoot)
	}

	manager := processfile.NewProcessFileManager(files, logger)
	logger.Debugf("PID file directory: %s", manager.Directory())
	return manager, nil
}

// startControl starts whichever endpoints have a port and returns their stop func.
// They outlive the signal context so that status stays visible during teardown.
func startControl(cfg config.ControlConfig, s *supervisor.Supervisor, health *control.HealthReporter, coreLogger coreLogging.Logger, logger logging.Logger) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cfg.GRPCPort != 0 {
		grpcServer, err := control.NewGRPCServer(cfg.GRPCPort, health, coreLogger, logging.WithPrefix(logger, "grpc: "))
		if err != nil {
			return stopAll, err
		}
		grpcServer.Start(context.Background())
		stops = append(stops, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			grpcServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.HTTPPort != 0 {
		httpLogger := logging.WithPrefix(logger, "http: ")
		httpServer, err := control.ListenHTTP(cfg.HTTPPort, control.NewHTTPHandler(s, httpLogger), httpLogger)
		if err != nil {
			stopAll()
			return func() {}, err
		}

		httpCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := httpServer.Serve(httpCtx); err != nil {
				httpLogger.Errorf("HTTP status server stopped: %v", err)
			}
		}()
		stops = append(stops, func() {
			cancel()
			<-done
		})
	}

	return stopAll, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/stoic-cms/internal/application"
	"github.com/eugenenazirov/stoic-cms/internal/config"
	"github.com/eugenenazirov/stoic-cms/internal/logging"
)

var signalNotify = signal.Notify

const startupTimeout = 90 * time.Second

type cliFlags struct {
	overrides   *config.CLIOverrides
	checkConfig bool
}

func parseFlags(args []string) (cliFlags, error) {
	kingpinApp := kingpin.New("stoic-cms", "Stoic CMS - content API server with a user sync bridge to MongoDB")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to a .env file (defaults to ./.env when present)").String()
	host := kingpinApp.Flag("host", "Interface the HTTP server binds to").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").Default("-1").Int()
	environment := kingpinApp.Flag("env", "Deployment environment (development, production)").String()
	databaseClient := kingpinApp.Flag("database-client", "Database client (postgres, sqlite)").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	checkConfig := kingpinApp.Flag("check-config", "Print the resolved configuration with secrets redacted and exit").Bool()

	if _, err := kingpinApp.Parse(args); err != nil {
		return cliFlags{}, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		EnvFile:    *envFile,
	}
	if *host != "" {
		overrides.Host = host
	}
	if *port >= 0 {
		overrides.Port = port
	}
	if *environment != "" {
		overrides.Environment = environment
	}
	if *databaseClient != "" {
		overrides.DatabaseClient = databaseClient
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	return cliFlags{overrides: overrides, checkConfig: *checkConfig}, nil
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	cfg, err := config.Load(flags.overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	if flags.checkConfig {
		if err := writeConfig(os.Stdout, cfg); err != nil {
			panic(fmt.Sprintf("failed to print configuration: %v", err))
		}
		return
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	app, err := application.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	waitAndStop(app, cfg.Server.ShutdownGracePeriod, logger)
}

// runningApp is what main drives once the server has started.
type runningApp interface {
	Server() *http.Server
	Close(ctx context.Context) error
}

// waitAndStop blocks until a termination signal, drains the server and then
// releases the database clients held by app.
func waitAndStop(app runningApp, grace time.Duration, logger *zap.Logger) {
	shutdown(app.Server(), grace, logger)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		logger.Warn("failed to release resources", zap.Error(err))
	}
}

// writeConfig prints the resolved configuration as YAML with secrets redacted.
func writeConfig(w io.Writer, cfg config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"watchreload/internal/api"
	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/version"
)

const shutdownTimeout = 5 * time.Second

func run(args []string, environ []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "modules":
			return runModulesCommand(args[1:], environ, os.Stdout, os.Stderr)
		case "reload":
			return runReloadCommand(args[1:], environ, os.Stderr)
		}
	}

	cfg, err := loadConfig(args, environ)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintln(os.Stdout, version.GetVersionInfo().String())
		return 0
	}

	logBuffer := logging.NewLogBuffer(int(cfg.Settings.Log.BufferSize))
	logger := logging.NewLogger(logBuffer, logLevel(cfg))
	logStartupSettings(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	if err := serve(ctx, cfg, logger, metrics.Default, nil); err != nil {
		logger.Error("watchreload stopped", map[string]string{
			logging.FieldError: err.Error(),
		})
		return 1
	}
	return 0
}

// serve registers the configured modules, starts the API when an address
// is set, and blocks until ctx is cancelled. ready, when non-nil, receives
// the API listener address (empty without a server) once startup is done.
func serve(ctx context.Context, cfg Config, logger *logging.Logger, registryMetrics *metrics.Registry, ready chan<- string) error {
	d, err := newDaemon(cfg.Settings, logger, registryMetrics)
	if err != nil {
		return err
	}
	shutdown := newShutdownCoordinator(logger)

	for _, specifier := range cfg.Settings.Modules {
		if err := d.Register(specifier); err != nil {
			_ = d.Close(ctx)
			return fmt.Errorf("watch %q: %w", specifier, err)
		}
	}
	if len(cfg.Settings.Modules) == 0 {
		logger.Warn("no modules configured", nil)
	}

	serverErr := make(chan error, 1)
	addr := ""
	if cfg.Settings.Server.Addr != "" {
		listener, err := net.Listen("tcp", cfg.Settings.Server.Addr)
		if err != nil {
			_ = d.Close(ctx)
			return err
		}
		addr = listener.Addr().String()

		mux := http.NewServeMux()
		api.RegisterRoutes(mux, api.Config{
			Source:    d.registry,
			Metrics:   registryMetrics,
			Reload:    d.Reload,
			Logger:    logger,
			AuthToken: cfg.AuthToken,
		})
		server := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		shutdown.Add("http server", server.Shutdown)
		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		logger.Info("watchreload listening", map[string]string{
			"addr": addr,
		})
	}
	shutdown.Add("reload registry", d.Close)

	logger.Info("watchreload started", map[string]string{
		"modules": strconv.Itoa(len(d.Modules())),
	})
	if ready != nil {
		ready <- addr
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, shutdown.Run(stopCtx))
}

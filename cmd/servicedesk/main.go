package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/HerbHall/servicedesk/internal/config"
	"github.com/HerbHall/servicedesk/internal/event"
	"github.com/HerbHall/servicedesk/internal/loader"
	"github.com/HerbHall/servicedesk/internal/modules/email"
	"github.com/HerbHall/servicedesk/internal/modules/health"
	"github.com/HerbHall/servicedesk/internal/modules/notifications"
	"github.com/HerbHall/servicedesk/internal/modules/users"
	"github.com/HerbHall/servicedesk/internal/registry"
	"github.com/HerbHall/servicedesk/internal/server"
	"github.com/HerbHall/servicedesk/internal/version"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.GetString("log.level"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("ServiceDesk server starting", zap.String("version", version.Short()))

	modules, err := config.LoadModules(cfg)
	if err != nil {
		logger.Fatal("failed to load module configuration", zap.Error(err))
	}

	reg := registry.New(logger)
	if err := registerPlugins(reg); err != nil {
		logger.Fatal("failed to register plugin", zap.Error(err))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ldr := loader.New(reg, modules, logger,
		loader.WithBus(event.NewBus(logger)),
		loader.WithMetrics(loader.NewMetrics(promReg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := ldr.Initialize(ctx)
	if err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}
	for _, f := range res.Failed {
		logger.Warn("module not loaded", zap.String("module", f.Name), zap.Error(f.Err))
	}

	addr := net.JoinHostPort(cfg.GetString("server.host"), cfg.GetString("server.port"))
	srv := server.New(addr, ldr, promReg, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("ServiceDesk server ready",
		zap.String("addr", addr),
		zap.Strings("modules", ldr.LoadedModules()),
	)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetDuration("server.shutdown_timeout"))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := ldr.Close(shutdownCtx); err != nil {
		logger.Error("module shutdown error", zap.Error(err))
	}

	logger.Info("ServiceDesk server stopped")
}

// registerPlugins adds every compiled-in plugin to reg.
func registerPlugins(reg *registry.Registry) error {
	plugins := []plugin.Plugin{
		health.New(),
		users.New(),
		email.New(),
		notifications.New(),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

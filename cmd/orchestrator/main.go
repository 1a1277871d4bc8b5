// Command orchestrator starts the FTL orchestrator: a TLS-PSK-authenticated
// TCP coordinator that routes live video streams between ingest, edge, and
// relay nodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ftl-orchestrator/internal/audit"
	"ftl-orchestrator/internal/clusterstate"
	"ftl-orchestrator/internal/config"
	"ftl-orchestrator/internal/listener"
	"ftl-orchestrator/internal/observability/logging"
	"ftl-orchestrator/internal/observability/metrics"
	"ftl-orchestrator/internal/orchestrator"
	"ftl-orchestrator/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if cfg.UsingDefaultPSK() {
		logger.Warn("using built-in default PSK; set -tls-psk or FTL_ORCHESTRATOR_PSK for production")
	}

	recorder := metrics.Default()

	var cluster orchestrator.ClusterMirror
	if cfg.RedisAddr != "" {
		mirror, err := clusterstate.New(clusterstate.Config{
			Addr:   cfg.RedisAddr,
			Logger: logging.WithComponent(logger, "clusterstate"),
		})
		if err != nil {
			logger.Error("failed to initialise cluster-state mirror", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		cluster = mirror
	}

	var auditSink orchestrator.AuditSink
	if cfg.PostgresDSN != "" {
		sink, err := audit.New(context.Background(), audit.Config{
			DSN:    cfg.PostgresDSN,
			Logger: logging.WithComponent(logger, "audit"),
		})
		if err != nil {
			logger.Error("failed to initialise audit sink", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		auditSink = sink
	}

	svc := orchestrator.NewService(orchestrator.Config{
		Logger:  logger,
		Metrics: recorder,
		Cluster: cluster,
		Audit:   auditSink,
	})

	tlsConfig, err := transport.NewServerTLSConfig(cfg.PSK)
	if err != nil {
		logger.Error("failed to build TLS configuration", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: ":9090", Handler: recorder.Handler()}
	go func() {
		logger.Info("metrics endpoint listening", "addr", metricsServer.Addr, "path", "/metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening", "addr", cfg.Addr, "backlog", cfg.ListenBacklog)
		err := listener.Run(ctx, listener.Config{
			Addr:      cfg.Addr,
			TLSConfig: tlsConfig,
			Accept:    svc.Accept,
			Logger:    logging.WithComponent(logger, "listener"),
		})
		if err != nil {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("listener error", "error", err)
	}

	cancel()
	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	logger.Info("orchestrator stopped")
}

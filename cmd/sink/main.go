package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Schera-ole/scaleagent/internal/audit"
	"github.com/Schera-ole/scaleagent/internal/config"
	"github.com/Schera-ole/scaleagent/internal/handler"
	"github.com/Schera-ole/scaleagent/internal/migration"
	"github.com/Schera-ole/scaleagent/internal/repository"
	"github.com/Schera-ole/scaleagent/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	sinkConfig, err := config.NewSinkConfig(os.Args[1:])
	if err != nil {
		log.Fatal("Failed to parse configuration: ", err)
	}
	logger, err := config.NewLogger(sinkConfig.LogLevel)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}

	if err := run(sinkConfig, logger); err != nil {
		logger.Errorw("sink stopped with error", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(sinkConfig *config.SinkConfig, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, sinkConfig, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reportService, err := service.NewReportService(repo, registry)
	if err != nil {
		return err
	}

	auditLogger, stopAudit := audit.Setup(sinkConfig.AuditFile, sinkConfig.AuditURL, logger)
	defer stopAudit()

	server := &http.Server{
		Addr:              sinkConfig.Address,
		Handler:           handler.Router(reportService, logger, sinkConfig, registry, auditLogger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow(
			"Starting report sink",
			"address", sinkConfig.Address,
			"auth", sinkConfig.Token != "",
			"hash_check", sinkConfig.Key != "",
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infow("Shutting down report sink")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openRepository picks Postgres when a DSN is configured and the in-memory
// ring otherwise.
func openRepository(ctx context.Context, sinkConfig *config.SinkConfig, logger *zap.SugaredLogger) (repository.Repository, error) {
	if sinkConfig.DatabaseDSN == "" {
		logger.Infow("Using in-memory report storage", "retention", sinkConfig.Retention)
		return repository.NewMemStorage(sinkConfig.Retention), nil
	}

	if err := migration.RunMigrations(ctx, sinkConfig.DatabaseDSN, sinkConfig.MigrationsPath, logger); err != nil {
		return nil, err
	}
	storage, err := repository.NewDBStorage(sinkConfig.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := storage.Ping(ctx); err != nil {
		storage.Close()
		return nil, err
	}
	logger.Infow("Using database report storage")
	return storage, nil
}

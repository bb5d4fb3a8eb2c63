package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/procedo/internal/analysis"
	"github.com/joseph-ayodele/procedo/internal/async"
	"github.com/joseph-ayodele/procedo/internal/blob"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/export"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/history"
	"github.com/joseph-ayodele/procedo/internal/llm/anthropic"
	"github.com/joseph-ayodele/procedo/internal/recommend"
	repo "github.com/joseph-ayodele/procedo/internal/repository"
	"github.com/joseph-ayodele/procedo/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("procedod exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	db, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer repo.Close(db, logger)

	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(ctx, db, logger); err != nil {
			return err
		}
	}

	store, err := blob.NewLocalStore(cfg.Blob.Dir, logger)
	if err != nil {
		return err
	}
	params, err := recommend.DefaultParameters()
	if err != nil {
		return err
	}

	cases := repo.NewCaseRepository(db, logger)
	rules := repo.NewRuleRepository(db, logger)
	precedents := repo.NewPrecedentRepository(db, logger)

	extractor := extract.NewExtractor(extract.Config{Pdftotext: cfg.Extract.Pdftotext}, logger)
	llmClient := anthropic.NewClient(anthropic.Config{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		ExtractModel: cfg.LLM.ExtractModel,
		MaxTokens:    cfg.LLM.MaxTokens,
		Timeout:      cfg.LLM.Timeout,
		RPS:          cfg.LLM.RPS,
		MaxRetries:   cfg.LLM.MaxRetries,
	}, logger)
	builder := recommend.NewBuilder(rules, precedents, logger)

	processor := analysis.NewProcessor(cases, store, extractor, builder, llmClient, params, logger)
	queue := async.NewWorkerQueue(processor, logger,
		async.WithWorkers(cfg.Worker.Workers),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithJobTimeout(cfg.Worker.JobTimeout),
	)
	svc := analysis.NewService(cases, store, queue, extractor, builder, llmClient, params, logger)

	// stale work first, then put what is left back on the queue
	reaper := analysis.NewReaper(cases, cfg.Worker.StaleAfter, logger)
	if _, err := reaper.Sweep(ctx); err != nil {
		logger.Warn("startup sweep failed", "error", err)
	}
	if _, err := svc.RequeueUnfinished(ctx); err != nil {
		logger.Warn("requeue failed", "error", err)
	}
	if err := reaper.Start(cfg.Worker.ReaperSchedule); err != nil {
		return err
	}

	// gRPC status service
	zlog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()
	grpcServer, hs := server.NewGRPCServer(server.NewCaseStatusService(svc, zlog), zlog)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}
	go func() {
		logger.Info("grpc.serve", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", "error", err)
		}
	}()

	api := server.NewHTTPServer(server.Deps{
		Analysis: svc,
		History:  history.NewIngestor(precedents, extractor, llmClient, store, logger),
		Export:   export.NewService(cases, logger).WithLevels(params),
		Rules:    rules,
		DB:       db,
		Logger:   logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := server.Serve(ctx, httpServer, cfg.Server.ShutdownTimeout, logger)

	logger.Info("shutting down...")
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	reaper.Stop(shutdownCtx)
	queue.Shutdown(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("stopped")
	return nil
}

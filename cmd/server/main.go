package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/config"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/router"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/service"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Structured logger — dev: pretty, prod: JSON
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Infrastructure ───────────────────────────────────────────────────────
	srmClient := infra.NewSRMClient(cfg.SRMGatewayURL, time.Duration(cfg.SRMTimeoutSeconds)*time.Second)
	srmCB := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	mailer := infra.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	events := infra.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer events.Close()

	// ── Repositories ─────────────────────────────────────────────────────────
	fiscalRepo := repository.NewFiscalTransactionRepository(db)
	branchRepo := repository.NewBranchRepository(db)

	// ── Queue plumbing ───────────────────────────────────────────────────────
	dispatcher := worker.NewDispatcher(rdb)
	snapshots := worker.NewSnapshotStore(rdb)

	drainer := worker.NewDrainer(worker.DrainerConfig{
		Repo:       fiscalRepo,
		Branches:   branchRepo,
		Snapshots:  snapshots,
		Client:     srmClient,
		CB:         srmCB,
		Policy: worker.RetryPolicy{
			Base: time.Duration(cfg.RetryBaseSeconds) * time.Second,
			Cap:  time.Duration(cfg.RetryCapSeconds) * time.Second,
		},
		Events:     events,
		Dispatcher: dispatcher,
		RDB:        rdb,
		AlertEmail: cfg.AlertEmail,
		BatchSize:  cfg.DrainBatchSize,
		Budget:     time.Duration(cfg.DrainBudgetSeconds) * time.Second,
		StaleAfter: time.Duration(cfg.StaleClaimMinutes) * time.Minute,
	})

	fiscalSvc := service.NewFiscalService(fiscalRepo, snapshots, drainer, events, rdb, cfg.MaxRetries, cfg.ReceiptQRBase)

	// Worker pool consumes order fiscal events and operator alerts
	workerHandlers := &worker.WorkerHandlers{
		Fiscal: worker.NewFiscalEventWorker(fiscalSvc),
		Alert:  worker.NewAlertWorker(mailer),
	}
	worker.StartWorkerPool(ctx, rdb, workerHandlers, cfg.WorkerPoolSize)

	// Scheduled drain across all branches with eligible work
	worker.StartDrainCron(ctx, worker.DrainCronConfig{
		Drainer:        drainer,
		CB:             srmCB,
		TickInterval:   time.Duration(cfg.DrainTickSeconds) * time.Second,
		BranchParallel: cfg.DrainBranchParallel,
	})

	r := router.New(cfg, db, rdb, srmCB, fiscalSvc)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("fiscal queue service listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}

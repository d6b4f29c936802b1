// Package main is the entry point of the scholarship coordinator.
//
// The coordinator accepts graded guide submissions over HTTP, releases
// scholarships through the settlement ledger, mirrors confirmed payments
// into PostgreSQL, and runs the background jobs that resolve transactions
// whose confirmation wait timed out.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edubeca/scholarship-hub/config"
	"github.com/edubeca/scholarship-hub/internal/application/command"
	"github.com/edubeca/scholarship-hub/internal/application/query"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/messaging"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/postgres"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/redis"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/scheduler"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/edubeca/scholarship-hub/internal/interface/http"
	"github.com/edubeca/scholarship-hub/internal/interface/http/handlers"
	"github.com/edubeca/scholarship-hub/internal/ledger"
	"github.com/edubeca/scholarship-hub/internal/settlement"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting scholarship coordinator",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("devnet", cfg.UseDevnet()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRESQL (reporting mirror, never the payment authority)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("running database migrations")
	if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reportRepo := postgres.NewReportRepository(dbConn)
	pendingRepo := postgres.NewPendingTxRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (advisory cache; the service runs without it)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var statusCache *redis.GuideStatusCache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("Redis unavailable, caching disabled", logger.Err(err))
		} else {
			defer redisCache.Close()
			statusCache = redis.NewGuideStatusCache(redisCache, cfg.Redis.GuideStatusTTL, log)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SETTLEMENT LAYER
	// ─────────────────────────────────────────────────────────────────────────
	settlementCfg := settlement.Config{
		RPCURL:            cfg.Settlement.RPCURL,
		NetworkID:         cfg.Settlement.NetworkID,
		SignerCredential:  cfg.Settlement.SignerCredential,
		RequestTimeout:    cfg.Settlement.RequestTimeout,
		ConfirmationDepth: cfg.Settlement.ConfirmationDepth,
		PollInterval:      cfg.Settlement.PollInterval,
		MaxPollAttempts:   cfg.Settlement.MaxPollAttempts,
	}

	credential := cfg.Settlement.SignerCredential
	if credential == "" {
		credential = "devnet-platform-credential"
	}
	signer := settlement.NewSigner(credential)

	var client settlement.Client
	if cfg.UseDevnet() {
		log.Info("using in-process devnet settlement backend")
		client = settlement.NewDevnetClient(ledger.New(shared.Address(signer.Address)))
	} else {
		log.Info("using settlement RPC gateway", logger.String("url", cfg.Settlement.RPCURL))
		client = settlement.NewRPCClient(settlementCfg, log)
	}

	submitter := settlement.NewSubmitter(client, settlementCfg, log)
	remote := settlement.NewRemoteLedger(client, submitter, signer, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	eventBus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	processHandler := command.NewProcessSubmissionHandler(
		remote, submitter, signer, statusCache, reportRepo, pendingRepo,
		eventBus, log,
		command.ProcessSubmissionHandlerConfig{
			MinProfileScore: shared.ProfileScore(cfg.Coordinator.MinProfileScore),
		},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. BACKGROUND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{
			Logger:            log,
			MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
			JobTimeout:        cfg.Scheduler.JobTimeout,
		})

		if cfg.Features.IsEnabled(config.FeaturePendingReconcile, nil) {
			reconcileJob := jobs.NewReconcilePendingJob(
				pendingRepo, reportRepo, remote, client, eventBus, log,
				jobs.ReconcilePendingConfig{
					ConfirmationDepth: cfg.Settlement.ConfirmationDepth,
				},
			)
			if err := sched.Register(reconcileJob, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcilePendingInterval)); err != nil {
				return fmt.Errorf("failed to register reconcile job: %w", err)
			}
		}

		if cfg.Features.IsEnabled(config.FeatureVaultAudit, nil) {
			auditJob := jobs.NewVaultAuditJob(remote, reportRepo, log)
			if err := sched.Register(auditJob, scheduler.NewIntervalSchedule(cfg.Scheduler.VaultAuditInterval)); err != nil {
				return fmt.Errorf("failed to register vault audit job: %w", err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	if redisCache != nil {
		health.AddCheck("redis", handlers.NewCacheCheck(redisCache))
	}
	health.AddCheck("settlement", handlers.NewSettlementCheck(remote))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.APIKeys = cfg.HTTP.AdminAPIKeys

	// The write timeout must outlive a full confirmation wait, or the
	// intake response is cut off mid-poll.
	confirmationWait := cfg.Settlement.PollInterval * time.Duration(cfg.Settlement.MaxPollAttempts)
	if serverCfg.WriteTimeout < confirmationWait+10*time.Second {
		serverCfg.WriteTimeout = confirmationWait + 10*time.Second
	}

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		ProcessSubmissionHandler: processHandler,
		CreateVaultHandler:       command.NewCreateVaultHandler(remote, eventBus, log),
		DepositHandler:           command.NewDepositHandler(remote, eventBus, log),
		GetVaultStatusHandler:    query.NewGetVaultStatusHandler(remote),
		GetGuideStatusHandler:    query.NewGetGuideStatusHandler(remote, statusCache),
		GetPaymentHistoryHandler: query.NewGetPaymentHistoryHandler(reportRepo),
		Logger:                   log,
		HealthChecker:            health,
	})

	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("scholarship coordinator is running",
		logger.String("address", server.Address()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed")
	return nil
}

// setupLogger builds the process logger from observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
}

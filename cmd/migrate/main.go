// Package main is the entry point of the ledger migration tool.
//
// The tool drains every vault on the old settlement contract, transfers the
// funds to the new contract's account, recreates the vault layout, and
// replays historical guide payments so students cannot be paid twice across
// the contract boundary. Runs are journaled and resumable; re-running a
// completed batch is a no-op.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edubeca/scholarship-hub/config"
	"github.com/edubeca/scholarship-hub/internal/application/migration"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/postgres"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/redis"
	"github.com/edubeca/scholarship-hub/internal/ledger"
	"github.com/edubeca/scholarship-hub/internal/settlement"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

func main() {
	batch := flag.String("batch", "", "migration batch name (required, e.g. batch-2026-08)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *batch); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, batch string) error {
	if batch == "" {
		return errors.New("-batch is required")
	}

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

	sourceURL := os.Getenv("MIGRATION_SOURCE_RPC_URL")
	targetURL := os.Getenv("MIGRATION_TARGET_RPC_URL")
	sourceCredential := envOr("MIGRATION_SOURCE_CREDENTIAL", "devnet-old-contract-credential")
	targetCredential := envOr("MIGRATION_TARGET_CREDENTIAL", "devnet-new-contract-credential")

	if (sourceURL == "") != (targetURL == "") {
		return errors.New("MIGRATION_SOURCE_RPC_URL and MIGRATION_TARGET_RPC_URL must be set together")
	}

	log := setupLogger(cfg)
	log.Info("starting ledger migration",
		logger.String("batch", batch),
		logger.Bool("devnet", sourceURL == ""),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. POSTGRESQL (journal and historical payment reports)
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	journal := postgres.NewMigrationRunRepository(dbConn)
	reports := postgres.NewReportRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS LOCK (optional; prevents two operators running one batch)
	// ─────────────────────────────────────────────────────────────────────────
	var locks *redis.Cache
	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		locks, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("Redis unavailable, running without the batch lock", logger.Err(err))
			locks = nil
		} else {
			defer locks.Close()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SOURCE AND TARGET LEDGERS
	// ─────────────────────────────────────────────────────────────────────────
	source := buildLedger(sourceURL, sourceCredential, cfg, log)
	target := buildLedger(targetURL, targetCredential, cfg, log)
	targetSigner := settlement.NewSigner(targetCredential)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. RUN THE BATCH
	// ─────────────────────────────────────────────────────────────────────────
	reconciler := migration.NewReconciler(
		source, target,
		shared.Address(targetSigner.Address),
		reports, journal, locks, nil, log,
	)

	run, err := reconciler.Run(ctx, batch)
	if run != nil {
		log.Info("migration batch state",
			logger.String("batch", run.BatchName),
			logger.String("step", string(run.CurrentStep)),
			logger.Uint64("drained", uint64(run.DrainedAmount)),
			logger.Int("vaults_recreated", run.VaultsRecreated),
			logger.Int("payments_replayed", run.PaymentsReplayed),
		)
	}
	if err != nil {
		return fmt.Errorf("migration halted, re-run to resume: %w", err)
	}

	log.Info("migration batch completed", logger.String("batch", batch))
	return nil
}

// buildLedger wires a remote ledger for one contract endpoint. An empty URL
// selects a fresh in-process devnet backend, used for rehearsal runs.
func buildLedger(rpcURL, credential string, cfg *config.Config, log *logger.Logger) *settlement.RemoteLedger {
	settlementCfg := settlement.Config{
		RPCURL:            rpcURL,
		NetworkID:         cfg.Settlement.NetworkID,
		SignerCredential:  credential,
		RequestTimeout:    cfg.Settlement.RequestTimeout,
		ConfirmationDepth: cfg.Settlement.ConfirmationDepth,
		PollInterval:      cfg.Settlement.PollInterval,
		MaxPollAttempts:   cfg.Settlement.MaxPollAttempts,
	}

	signer := settlement.NewSigner(credential)

	var client settlement.Client
	if rpcURL == "" {
		client = settlement.NewDevnetClient(ledger.New(shared.Address(signer.Address)))
	} else {
		client = settlement.NewRPCClient(settlementCfg, log)
	}

	submitter := settlement.NewSubmitter(client, settlementCfg, log)
	return settlement.NewRemoteLedger(client, submitter, signer, log)
}

// setupLogger builds the process logger from observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

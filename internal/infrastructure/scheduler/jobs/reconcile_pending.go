// Package jobs contains the scheduled background jobs of the scholarship hub.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/internal/settlement"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE PENDING TRANSACTIONS JOB
// Re-polls transactions whose confirmation wait timed out and settles their
// reporting side once the ledger gives a terminal answer.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcilePendingJob resolves unknown-outcome transactions.
type ReconcilePendingJob struct {
	pending   scholarship.PendingTxRepository
	reports   scholarship.ReportRepository
	reader    vault.Reader
	client    settlement.Client
	publisher shared.EventPublisher
	log       *logger.Logger

	// Configuration
	batchSize         int
	maxAttempts       int
	confirmationDepth int
}

// ReconcilePendingConfig contains configuration for the job.
type ReconcilePendingConfig struct {
	// BatchSize bounds how many transactions one run picks up.
	BatchSize int

	// MaxAttempts is the abandonment threshold: a transaction still pending
	// after this many checks is marked abandoned for operator review.
	MaxAttempts int

	// ConfirmationDepth is the depth at which a pending transaction counts
	// as durably included. Matches the submitter's depth.
	ConfirmationDepth int
}

// DefaultReconcilePendingConfig returns default configuration.
func DefaultReconcilePendingConfig() ReconcilePendingConfig {
	return ReconcilePendingConfig{
		BatchSize:         50,
		MaxAttempts:       20,
		ConfirmationDepth: 1,
	}
}

// NewReconcilePendingJob creates a new ReconcilePendingJob.
func NewReconcilePendingJob(
	pending scholarship.PendingTxRepository,
	reports scholarship.ReportRepository,
	reader vault.Reader,
	client settlement.Client,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config ReconcilePendingConfig,
) *ReconcilePendingJob {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcilePendingConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultReconcilePendingConfig().MaxAttempts
	}
	if config.ConfirmationDepth <= 0 {
		config.ConfirmationDepth = DefaultReconcilePendingConfig().ConfirmationDepth
	}
	if log == nil {
		log = logger.Default()
	}

	return &ReconcilePendingJob{
		pending:           pending,
		reports:           reports,
		reader:            reader,
		client:            client,
		publisher:         publisher,
		log:               log.With(logger.Component("reconcile_pending")),
		batchSize:         config.BatchSize,
		maxAttempts:       config.MaxAttempts,
		confirmationDepth: config.ConfirmationDepth,
	}
}

// Name implements scheduler.Job.
func (j *ReconcilePendingJob) Name() string {
	return "reconcile_pending"
}

// Description implements scheduler.Job.
func (j *ReconcilePendingJob) Description() string {
	return "Resolves transactions whose confirmation wait timed out"
}

// Run implements scheduler.Job.
func (j *ReconcilePendingJob) Run(ctx context.Context) error {
	txs, err := j.pending.ListPending(ctx, j.batchSize)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		return nil
	}

	j.log.Info("reconciling pending transactions", logger.BatchSize(len(txs)))

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		j.reconcileOne(ctx, tx)
	}
	return nil
}

// reconcileOne settles a single tracked transaction. Per-transaction failures
// are logged, not propagated: a stuck transaction must not starve the batch.
func (j *ReconcilePendingJob) reconcileOne(ctx context.Context, tx *scholarship.PendingTransaction) {
	log := j.log.With(
		logger.TxID(tx.TxID),
		logger.CourseID(uint64(tx.CourseID)),
		logger.GuideNumber(uint64(tx.GuideNumber)),
		logger.Student(string(tx.Student)),
	)

	if err := j.pending.MarkChecked(ctx, tx.TxID); err != nil {
		log.Warn("failed to mark transaction checked", logger.Err(err))
	}

	status, err := j.client.TxStatus(ctx, tx.TxID)
	if err != nil {
		// A transaction the endpoint has never seen will not appear later;
		// give it the same abandonment budget as a stuck one.
		if errors.Is(err, shared.ErrNotFound) && tx.Attempts+1 >= j.maxAttempts {
			log.Error("transaction unknown to settlement, abandoning", logger.Int("attempts", tx.Attempts+1))
			if resolveErr := j.pending.Resolve(ctx, tx.TxID, scholarship.PendingStatusAbandoned); resolveErr != nil {
				log.Error("failed to abandon transaction", logger.Err(resolveErr))
			}
			return
		}
		log.Warn("status poll failed", logger.Err(err))
		return
	}

	confirmed := status.State == settlement.StateConfirmed ||
		(status.State == settlement.StatePending && status.Confirmations >= j.confirmationDepth)

	switch {
	case confirmed:
		j.settleConfirmed(ctx, tx, log)

	case status.State == settlement.StateRejected:
		log.Warn("tracked transaction rejected", logger.String("reason", status.Reason))
		if err := j.pending.Resolve(ctx, tx.TxID, scholarship.PendingStatusRejected); err != nil {
			log.Error("failed to resolve rejected transaction", logger.Err(err))
		}

	default:
		if tx.Attempts+1 >= j.maxAttempts {
			log.Error("transaction abandoned after repeated checks", logger.Int("attempts", tx.Attempts+1))
			if err := j.pending.Resolve(ctx, tx.TxID, scholarship.PendingStatusAbandoned); err != nil {
				log.Error("failed to abandon transaction", logger.Err(err))
			}
		}
	}
}

// settleConfirmed finishes the reporting side of a confirmed transaction.
// The payment decision is read from the ledger, never guessed from the
// original submission.
func (j *ReconcilePendingJob) settleConfirmed(ctx context.Context, tx *scholarship.PendingTransaction, log *logger.Logger) {
	guideStatus, err := j.reader.GetStudentGuideStatus(ctx, tx.CourseID, tx.GuideNumber, tx.Student)
	if err != nil {
		// Leave the row pending; the next run re-reads.
		log.Warn("guide status read failed during reconcile", logger.Err(err))
		return
	}

	if guideStatus.PaidAmount > 0 {
		report := &scholarship.PaymentReport{
			CourseID:      tx.CourseID,
			GuideNumber:   tx.GuideNumber,
			Student:       tx.Student,
			AmountPaid:    guideStatus.PaidAmount,
			TxID:          tx.TxID,
			CorrelationID: tx.CorrelationID,
			Source:        scholarship.SourceReconcile,
			PaidAt:        time.Now().UTC(),
		}
		if err := j.reports.UpsertPaid(ctx, report); err != nil {
			// Keep the row pending so the report write is retried.
			log.Error("failed to record reconciled payment", logger.Err(err))
			return
		}

		log.Info("reconciled payment recorded", logger.Amount(uint64(guideStatus.PaidAmount)))
		if j.publisher != nil {
			event := shared.NewScholarshipReleasedEvent(
				uint64(tx.CourseID), uint64(tx.GuideNumber), string(tx.Student),
				uint64(guideStatus.PaidAmount), tx.TxID,
			)
			event.BaseEvent = event.BaseEvent.WithCorrelationID(tx.CorrelationID)
			if err := j.publisher.Publish(event); err != nil {
				log.Warn("event publish failed", logger.Err(err))
			}
		}
	} else {
		log.Info("transaction confirmed without payment")
	}

	if err := j.pending.Resolve(ctx, tx.TxID, scholarship.PendingStatusConfirmed); err != nil {
		log.Error("failed to resolve confirmed transaction", logger.Err(err))
	}
}

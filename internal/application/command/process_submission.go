// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
// Every state change flows through the settlement ledger; the local
// database only mirrors what the ledger confirmed.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/redis"
	"github.com/edubeca/scholarship-hub/internal/settlement"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS SUBMISSION COMMAND
// Applies one graded guide submission to the scholarship ledger.
// This is the core command of the coordinator: it gates, submits, waits for
// confirmation, and reports a definite status for every submission.
// ══════════════════════════════════════════════════════════════════════════════

// ProcessSubmissionCommand carries one graded submission from the grading
// collaborator.
type ProcessSubmissionCommand struct {
	// CourseID identifies the course vault.
	CourseID shared.CourseID

	// GuideNumber is the guide within the course.
	GuideNumber shared.GuideNumber

	// Student is the student's settlement-layer address.
	Student shared.StudentAddress

	// IsCorrect is the grading verdict.
	IsCorrect bool

	// ProfileScore is the student's aggregate profile score at grading time.
	ProfileScore shared.ProfileScore

	// CorrelationID for tracing across services. Generated when empty.
	CorrelationID string
}

// Validate validates the command.
func (c ProcessSubmissionCommand) Validate() error {
	sub := scholarship.Submission{
		CourseID:     c.CourseID,
		GuideNumber:  c.GuideNumber,
		Student:      c.Student,
		IsCorrect:    c.IsCorrect,
		ProfileScore: c.ProfileScore,
	}
	return sub.Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ProcessSubmissionHandler handles the ProcessSubmissionCommand.
type ProcessSubmissionHandler struct {
	reader         vault.Reader
	submitter      *settlement.Submitter
	signer         settlement.Signer
	statusCache    *redis.GuideStatusCache
	reportRepo     scholarship.ReportRepository
	pendingRepo    scholarship.PendingTxRepository
	eventPublisher shared.EventPublisher
	log            *logger.Logger

	// Configuration
	minProfileScore shared.ProfileScore
}

// ProcessSubmissionHandlerConfig contains configuration for the handler.
type ProcessSubmissionHandlerConfig struct {
	MinProfileScore shared.ProfileScore
}

// DefaultProcessSubmissionHandlerConfig returns default configuration.
func DefaultProcessSubmissionHandlerConfig() ProcessSubmissionHandlerConfig {
	return ProcessSubmissionHandlerConfig{
		MinProfileScore: scholarship.MinProfileScore,
	}
}

// NewProcessSubmissionHandler creates a new ProcessSubmissionHandler.
// statusCache may be nil when Redis is disabled.
func NewProcessSubmissionHandler(
	reader vault.Reader,
	submitter *settlement.Submitter,
	signer settlement.Signer,
	statusCache *redis.GuideStatusCache,
	reportRepo scholarship.ReportRepository,
	pendingRepo scholarship.PendingTxRepository,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config ProcessSubmissionHandlerConfig,
) *ProcessSubmissionHandler {
	if config.MinProfileScore == 0 {
		config = DefaultProcessSubmissionHandlerConfig()
	}
	if log == nil {
		log = logger.Default()
	}

	return &ProcessSubmissionHandler{
		reader:          reader,
		submitter:       submitter,
		signer:          signer,
		statusCache:     statusCache,
		reportRepo:      reportRepo,
		pendingRepo:     pendingRepo,
		eventPublisher:  eventPublisher,
		log:             log.With(logger.Component("coordinator")),
		minProfileScore: config.MinProfileScore,
	}
}

// Handle executes the process submission command. Every submission yields a
// receipt; a non-nil error means the submission could not be evaluated at
// all, not that it was evaluated and declined.
func (h *ProcessSubmissionHandler) Handle(ctx context.Context, cmd ProcessSubmissionCommand) (*scholarship.Receipt, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("process_submission: validation failed: %w", err)
	}

	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	log := h.log.With(
		logger.CourseID(uint64(cmd.CourseID)),
		logger.GuideNumber(uint64(cmd.GuideNumber)),
		logger.Student(string(cmd.Student)),
		logger.CorrelationID(cmd.CorrelationID),
	)

	// Off-chain gate first: a disqualified submission must not cost a
	// settlement call.
	if cmd.ProfileScore < h.minProfileScore {
		log.Info("submission skipped, profile score below minimum",
			logger.Int("profile_score", int(cmd.ProfileScore)))
		h.publishSkipped(cmd, string(scholarship.StatusScoreTooLow))
		return &scholarship.Receipt{
			Status:        scholarship.StatusScoreTooLow,
			Reason:        fmt.Sprintf("profile score %d below minimum %d", cmd.ProfileScore, h.minProfileScore),
			CorrelationID: cmd.CorrelationID,
		}, nil
	}

	// Advisory cooldown pre-check. The ledger re-enforces the cooldown on
	// the write path, so a stale positive here only costs one reverted
	// submission, and a read failure falls through to the submit.
	if blocked := h.cooldownBlocked(ctx, cmd, log); blocked {
		h.publishSkipped(cmd, string(scholarship.StatusCooldown))
		return &scholarship.Receipt{
			Status:        scholarship.StatusCooldown,
			Reason:        "cooldown window still open",
			CorrelationID: cmd.CorrelationID,
		}, nil
	}

	call := settlement.Call{
		Function: settlement.FnSubmitGuideResult,
		Args: []interface{}{
			uint64(cmd.CourseID), uint64(cmd.GuideNumber), string(cmd.Student),
			cmd.IsCorrect, uint64(cmd.ProfileScore),
		},
	}

	result, err := h.submitter.Submit(ctx, call, h.signer)
	if err != nil {
		return h.receiptFromLedgerError(ctx, cmd, err, log)
	}

	// Any landed submission restarts the cooldown and may have paid the
	// guide; cached reads for this student are stale either way.
	h.statusCache.InvalidateStudent(ctx, cmd.CourseID, cmd.Student)

	if result.Outcome == settlement.OutcomeUnknown {
		return h.receiptFromUnknownOutcome(ctx, cmd, result, log)
	}

	return h.receiptFromConfirmed(ctx, cmd, result, log)
}

// cooldownBlocked runs the advisory pre-check, preferring the cache.
func (h *ProcessSubmissionHandler) cooldownBlocked(ctx context.Context, cmd ProcessSubmissionCommand, log *logger.Logger) bool {
	if canSubmit, found := h.statusCache.GetCanSubmit(ctx, cmd.CourseID, cmd.Student); found {
		return !canSubmit
	}

	canSubmit, err := h.reader.StudentCanSubmit(ctx, cmd.CourseID, cmd.Student)
	if err != nil {
		log.Warn("cooldown pre-check failed, deferring to submit path", logger.Err(err))
		return false
	}

	// A missing vault also reads as "cannot submit". That case must reach
	// the submit path so it surfaces as a vault error, not a cooldown.
	if !canSubmit {
		v, err := h.reader.Vault(ctx, cmd.CourseID)
		if err != nil || v == nil || !v.Exists {
			return false
		}
	}

	h.statusCache.SetCanSubmit(ctx, cmd.CourseID, cmd.Student, canSubmit)
	return !canSubmit
}

// receiptFromLedgerError maps a terminal submit error to a receipt. Ledger
// rule violations are outcomes, not failures; only submissions the settlement
// layer could not evaluate surface as StatusError.
func (h *ProcessSubmissionHandler) receiptFromLedgerError(ctx context.Context, cmd ProcessSubmissionCommand, err error, log *logger.Logger) (*scholarship.Receipt, error) {
	receipt := &scholarship.Receipt{CorrelationID: cmd.CorrelationID}

	switch {
	case errors.Is(err, shared.ErrCooldownActive):
		receipt.Status = scholarship.StatusCooldown
		receipt.Reason = "cooldown window still open"
		h.statusCache.SetCanSubmit(ctx, cmd.CourseID, cmd.Student, false)
	case errors.Is(err, shared.ErrAlreadyPaid):
		receipt.Status = scholarship.StatusAlreadyPaid
		receipt.Reason = "guide already paid for this student"
	default:
		log.Error("submission failed at settlement", logger.Err(err))
		receipt.Status = scholarship.StatusError
		receipt.Reason = err.Error()
	}

	if receipt.Status != scholarship.StatusError {
		log.Info("submission declined by ledger", logger.String("status", string(receipt.Status)))
	}
	h.publishSkipped(cmd, string(receipt.Status))
	return receipt, nil
}

// receiptFromUnknownOutcome records the transaction for reconciliation and
// reports it as submitted-but-unconfirmed. Not a failure: the transaction
// may still land, and the reconcile job owns the follow-up.
func (h *ProcessSubmissionHandler) receiptFromUnknownOutcome(ctx context.Context, cmd ProcessSubmissionCommand, result settlement.Result, log *logger.Logger) (*scholarship.Receipt, error) {
	if err := h.trackPending(ctx, cmd, result.TxID); err != nil {
		// The transaction identifier must not be lost. Surface the storage
		// failure so the caller retries the whole submission; the ledger's
		// cooldown and paid checks make the retry safe.
		log.Error("failed to track unconfirmed transaction", logger.Err(err), logger.TxID(result.TxID))
		return nil, fmt.Errorf("process_submission: failed to track unconfirmed tx %s: %w", result.TxID, err)
	}

	log.Warn("submission unconfirmed, queued for reconciliation", logger.TxID(result.TxID))

	event := shared.NewTxUnconfirmedEvent(result.TxID, uint64(cmd.CourseID), uint64(cmd.GuideNumber), string(cmd.Student))
	event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	h.publish(event)

	return &scholarship.Receipt{
		Status:        scholarship.StatusPaidUnconfirmed,
		TxID:          result.TxID,
		Reason:        "confirmation wait elapsed",
		CorrelationID: cmd.CorrelationID,
	}, nil
}

// receiptFromConfirmed derives the decision from the post-confirmation guide
// status read and mirrors a payment into the reporting store.
func (h *ProcessSubmissionHandler) receiptFromConfirmed(ctx context.Context, cmd ProcessSubmissionCommand, result settlement.Result, log *logger.Logger) (*scholarship.Receipt, error) {
	status, err := h.reader.GetStudentGuideStatus(ctx, cmd.CourseID, cmd.GuideNumber, cmd.Student)
	if err != nil {
		// The write is confirmed; only the decision read failed. Queue the
		// transaction so the reconcile job finishes the reporting side.
		log.Warn("guide status read failed after confirmed submit", logger.Err(err), logger.TxID(result.TxID))
		if trackErr := h.trackPending(ctx, cmd, result.TxID); trackErr != nil {
			log.Error("failed to track confirmed transaction for reconciliation", logger.Err(trackErr), logger.TxID(result.TxID))
		}
		return &scholarship.Receipt{
			Status:        scholarship.StatusPaidUnconfirmed,
			TxID:          result.TxID,
			Reason:        "confirmed, decision pending reconciliation",
			CorrelationID: cmd.CorrelationID,
		}, nil
	}

	receipt := &scholarship.Receipt{
		TxID:          result.TxID,
		CorrelationID: cmd.CorrelationID,
	}

	switch {
	case status.PaidAmount > 0:
		receipt.Status = scholarship.StatusPaid
		receipt.AmountPaid = status.PaidAmount
		h.recordPayment(ctx, cmd, result.TxID, status.PaidAmount, log)

		log.Info("scholarship released",
			logger.Amount(uint64(status.PaidAmount)),
			logger.TxID(result.TxID),
		)
		event := shared.NewScholarshipReleasedEvent(
			uint64(cmd.CourseID), uint64(cmd.GuideNumber), string(cmd.Student),
			uint64(status.PaidAmount), result.TxID,
		)
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		h.publish(event)

	case cmd.IsCorrect:
		receipt.Status = scholarship.StatusVaultDrained
		receipt.Reason = "vault balance below payout amount"
		log.Warn("correct submission with drained vault", logger.TxID(result.TxID))
		h.publishSkipped(cmd, string(scholarship.StatusVaultDrained))

	default:
		receipt.Status = scholarship.StatusIncorrect
		log.Info("incorrect submission, cooldown consumed", logger.TxID(result.TxID))
		h.publishSkipped(cmd, string(scholarship.StatusIncorrect))
	}

	return receipt, nil
}

// recordPayment mirrors a confirmed payment into the reporting store. A
// storage failure never fails the payment; the transaction is queued so the
// reconcile job retries the report write.
func (h *ProcessSubmissionHandler) recordPayment(ctx context.Context, cmd ProcessSubmissionCommand, txID string, amount shared.Amount, log *logger.Logger) {
	report := &scholarship.PaymentReport{
		CourseID:      cmd.CourseID,
		GuideNumber:   cmd.GuideNumber,
		Student:       cmd.Student,
		AmountPaid:    amount,
		TxID:          txID,
		CorrelationID: cmd.CorrelationID,
		Source:        scholarship.SourceCoordinator,
		PaidAt:        time.Now().UTC(),
	}

	if err := h.reportRepo.UpsertPaid(ctx, report); err != nil {
		log.Error("failed to record payment report", logger.Err(err), logger.TxID(txID))
		if trackErr := h.trackPending(ctx, cmd, txID); trackErr != nil {
			log.Error("failed to queue payment for reconciliation", logger.Err(trackErr), logger.TxID(txID))
		}
	}
}

// trackPending queues a transaction for the reconcile job.
func (h *ProcessSubmissionHandler) trackPending(ctx context.Context, cmd ProcessSubmissionCommand, txID string) error {
	return h.pendingRepo.Insert(ctx, &scholarship.PendingTransaction{
		TxID:          txID,
		Function:      settlement.FnSubmitGuideResult,
		CourseID:      cmd.CourseID,
		GuideNumber:   cmd.GuideNumber,
		Student:       cmd.Student,
		IsCorrect:     cmd.IsCorrect,
		CorrelationID: cmd.CorrelationID,
		SubmittedAt:   time.Now().UTC(),
	})
}

func (h *ProcessSubmissionHandler) publishSkipped(cmd ProcessSubmissionCommand, reason string) {
	event := shared.NewScholarshipSkippedEvent(
		uint64(cmd.CourseID), uint64(cmd.GuideNumber), string(cmd.Student), reason,
	)
	event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	h.publish(event)
}

// publish delivers an event best-effort. Events are notifications, not state;
// a delivery failure never changes a receipt.
func (h *ProcessSubmissionHandler) publish(event shared.Event) {
	if h.eventPublisher == nil {
		return
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("event publish failed", logger.Err(err), logger.String("event_type", string(event.EventType())))
	}
}

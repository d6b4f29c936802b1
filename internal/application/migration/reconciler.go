// Package migration implements the ledger migration reconciler: the ordered,
// resumable move of funds and payment history from a retired vault contract
// to its replacement.
//
// The reconciler is a step machine journaled in the database. Every step is
// idempotent against re-execution: a crashed or interrupted run is restarted
// with the same batch name and resumes at the recorded step, re-verifying
// ledger state through reads before repeating any write.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/redis"
	"github.com/edubeca/scholarship-hub/internal/settlement"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STEP MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// Step is one stage of a migration batch. Steps execute strictly in order;
// a batch never moves backwards.
type Step string

const (
	// StepDrainOld empties the old contract's aggregate balance.
	StepDrainOld Step = "drain_old"

	// StepTransferFunds moves the drained funds to the new contract.
	StepTransferFunds Step = "transfer_funds"

	// StepRecreateVaults rebuilds every course vault on the new contract
	// with its old balance and payout configuration.
	StepRecreateVaults Step = "recreate_vaults"

	// StepReplayPayments re-records historical payment facts so the
	// at-most-once rule holds across the contract swap.
	StepReplayPayments Step = "replay_payments"

	// StepDone is the terminal step.
	StepDone Step = "done"
)

// next returns the step after s.
func (s Step) next() Step {
	switch s {
	case StepDrainOld:
		return StepTransferFunds
	case StepTransferFunds:
		return StepRecreateVaults
	case StepRecreateVaults:
		return StepReplayPayments
	case StepReplayPayments:
		return StepDone
	default:
		return StepDone
	}
}

// VaultSnapshot is the funding state of one vault, captured before the drain
// destroys it. The recreate step replays vaults from these, never from the
// old ledger's post-drain reads.
type VaultSnapshot struct {
	AmountPerGuide shared.Amount `json:"amount_per_guide"`
	Balance        shared.Amount `json:"balance"`
}

// Run is the journaled state of one migration batch.
type Run struct {
	ID               string
	BatchName        string
	CurrentStep      Step
	VaultSnapshots   map[shared.CourseID]VaultSnapshot
	DrainedAmount    shared.Amount
	VaultsRecreated  int
	PaymentsReplayed int
	StartedAt        time.Time
	CompletedAt      *time.Time
	LastError        string
}

// Completed reports whether the batch has reached the terminal step.
func (r *Run) Completed() bool {
	return r.CurrentStep == StepDone
}

// Journal persists migration run progress. Progress is written after every
// completed step, before the next one starts.
type Journal interface {
	// GetOrCreate returns the run for a batch name, creating it at the
	// first step if it does not exist.
	GetOrCreate(ctx context.Context, batchName string) (*Run, error)

	// Update persists the run's current state.
	Update(ctx context.Context, run *Run) error
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILER
// ══════════════════════════════════════════════════════════════════════════════

// lockTTL bounds how long a crashed runner can block a batch.
const lockTTL = 10 * time.Minute

// ErrBatchLocked is returned when another runner holds the batch.
var ErrBatchLocked = errors.New("migration: batch locked by another runner")

// Reconciler executes migration batches from an old ledger to a new one.
type Reconciler struct {
	source        *settlement.RemoteLedger
	target        *settlement.RemoteLedger
	targetAddress shared.Address
	reports       scholarship.ReportRepository
	journal       Journal
	locks         *redis.Cache // optional, nil runs without cross-process locking
	publisher     shared.EventPublisher
	log           *logger.Logger
}

// NewReconciler creates a migration reconciler. targetAddress is the new
// contract's settlement account, the destination of the fund transfer.
// locks and publisher may be nil.
func NewReconciler(
	source, target *settlement.RemoteLedger,
	targetAddress shared.Address,
	reports scholarship.ReportRepository,
	journal Journal,
	locks *redis.Cache,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *Reconciler {
	if log == nil {
		log = logger.Default()
	}
	return &Reconciler{
		source:        source,
		target:        target,
		targetAddress: targetAddress,
		reports:       reports,
		journal:       journal,
		locks:         locks,
		publisher:     publisher,
		log:           log.With(logger.Component("migration")),
	}
}

// Run executes a migration batch to completion, resuming from the journaled
// step when the batch already exists. Calling Run on a completed batch is a
// no-op.
func (r *Reconciler) Run(ctx context.Context, batchName string) (*Run, error) {
	if batchName == "" {
		return nil, fmt.Errorf("migration: %w: batch name required", shared.ErrEmptyValue)
	}

	release, err := r.acquireLock(ctx, batchName)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := r.journal.GetOrCreate(ctx, batchName)
	if err != nil {
		return nil, fmt.Errorf("migration: journal read failed: %w", err)
	}

	log := r.log.With(logger.String("batch", batchName))
	if run.Completed() {
		log.Info("batch already completed")
		return run, nil
	}

	for !run.Completed() {
		if err := ctx.Err(); err != nil {
			return run, r.fail(ctx, run, err)
		}

		log.Info("executing migration step", logger.MigrationStep(string(run.CurrentStep)))

		var stepErr error
		switch run.CurrentStep {
		case StepDrainOld:
			stepErr = r.drainOld(ctx, run)
		case StepTransferFunds:
			stepErr = r.transferFunds(ctx, run)
		case StepRecreateVaults:
			stepErr = r.recreateVaults(ctx, run)
		case StepReplayPayments:
			stepErr = r.replayPayments(ctx, run)
		default:
			stepErr = fmt.Errorf("%w: unknown step %q", shared.ErrInvalidState, run.CurrentStep)
		}

		if stepErr != nil {
			return run, r.fail(ctx, run, stepErr)
		}

		completedStep := run.CurrentStep
		run.CurrentStep = run.CurrentStep.next()
		run.LastError = ""
		if run.Completed() {
			now := time.Now().UTC()
			run.CompletedAt = &now
		}
		if err := r.journal.Update(ctx, run); err != nil {
			return run, fmt.Errorf("migration: journal write failed after %s: %w", completedStep, err)
		}

		r.publish(shared.NewMigrationStepCompletedEvent(string(completedStep), run.PaymentsReplayed, 0))
	}

	log.Info("migration batch completed",
		logger.Amount(uint64(run.DrainedAmount)),
		logger.Int("vaults_recreated", run.VaultsRecreated),
		logger.Int("payments_replayed", run.PaymentsReplayed),
	)
	r.publish(shared.NewMigrationCompletedEvent(batchName, uint64(run.DrainedAmount), run.VaultsRecreated, run.PaymentsReplayed))
	return run, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Steps
// ─────────────────────────────────────────────────────────────────────────────

// drainOld withdraws the old contract's entire aggregate balance. Per-vault
// funding is snapshotted and journaled first, because the withdrawal zeroes
// the balances the recreate step needs. A re-run reads the balance after the
// snapshot: zero means a previous attempt already drained.
func (r *Reconciler) drainOld(ctx context.Context, run *Run) error {
	if len(run.VaultSnapshots) == 0 {
		courses, err := r.source.Courses(ctx)
		if err != nil {
			return fmt.Errorf("drain_old: %w", err)
		}

		snapshots := make(map[shared.CourseID]VaultSnapshot, len(courses))
		for _, courseID := range courses {
			v, err := r.source.Vault(ctx, courseID)
			if err != nil {
				return fmt.Errorf("drain_old: read course %d: %w", courseID, err)
			}
			if !v.Exists {
				continue
			}
			snapshots[courseID] = VaultSnapshot{
				AmountPerGuide: v.AmountPerGuide,
				Balance:        v.Balances[shared.DefaultCurrency],
			}
		}
		run.VaultSnapshots = snapshots

		if err := r.journal.Update(ctx, run); err != nil {
			return fmt.Errorf("drain_old: journal snapshot failed: %w", err)
		}
	}

	total, err := r.source.TotalBalance(ctx)
	if err != nil {
		return fmt.Errorf("drain_old: %w", err)
	}
	if total == 0 {
		return nil
	}

	if err := r.source.EmergencyWithdraw(ctx, total); err != nil {
		return fmt.Errorf("drain_old: %w", err)
	}
	run.DrainedAmount += total
	return nil
}

// transferFunds moves the drained amount to the new contract's account.
//
// This is the one step without a ledger-side idempotency anchor: a crash in
// the window between the confirmed transfer and the journal write would
// repeat it. The journal is written immediately after confirmation to keep
// that window as small as one database round trip; an unknown outcome stops
// the batch for operator review instead of guessing.
func (r *Reconciler) transferFunds(ctx context.Context, run *Run) error {
	if run.DrainedAmount == 0 {
		return nil
	}

	if err := r.source.Transfer(ctx, r.targetAddress, run.DrainedAmount); err != nil {
		return fmt.Errorf("transfer_funds: %w", err)
	}
	return nil
}

// recreateVaults rebuilds every snapshotted vault on the new contract.
// Creation tolerates vaults that already exist from a previous attempt, and
// funding only lands on a vault whose balance is still zero, so a resumed
// run never clobbers payouts already made on the new ledger.
func (r *Reconciler) recreateVaults(ctx context.Context, run *Run) error {
	courses := make([]shared.CourseID, 0, len(run.VaultSnapshots))
	for courseID := range run.VaultSnapshots {
		courses = append(courses, courseID)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i] < courses[j] })

	recreated := 0
	for _, courseID := range courses {
		snapshot := run.VaultSnapshots[courseID]

		err := r.target.CreateVault(ctx, courseID, snapshot.AmountPerGuide)
		if err != nil && !errors.Is(err, shared.ErrVaultAlreadyExists) {
			return fmt.Errorf("recreate_vaults: create course %d: %w", courseID, err)
		}

		if snapshot.Balance > 0 {
			current, err := r.target.Vault(ctx, courseID)
			if err != nil {
				return fmt.Errorf("recreate_vaults: read course %d: %w", courseID, err)
			}
			if current.Balances[shared.DefaultCurrency] == 0 {
				if err := r.target.SetVaultBalance(ctx, courseID, snapshot.Balance); err != nil {
					return fmt.Errorf("recreate_vaults: fund course %d: %w", courseID, err)
				}
			}
		}
		recreated++
	}

	run.VaultsRecreated = recreated
	return nil
}

// replayPayments re-records historical payment facts on the new contract so
// already-paid guides stay unpayable. Report rows serve only as the key
// index: each candidate is verified against the old ledger and replayed with
// the old ledger's amount, because the reporting mirror is informational and
// a stale row must never close a payable guide. Keys the new ledger already
// knows are skipped; SetGuidePaid itself is a no-op on paid keys, so the
// pre-read is an optimization, not the correctness guarantee.
func (r *Reconciler) replayPayments(ctx context.Context, run *Run) error {
	reports, err := r.reports.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("replay_payments: %w", err)
	}

	replayed := 0
	for _, report := range reports {
		sourceAmount, err := r.source.GuidePaid(ctx, report.CourseID, report.GuideNumber, report.Student)
		if err != nil {
			return fmt.Errorf("replay_payments: verify %d/%d/%s: %w", report.CourseID, report.GuideNumber, report.Student, err)
		}
		if sourceAmount == 0 {
			r.log.Warn("skipping report row not backed by the old ledger",
				logger.CourseID(uint64(report.CourseID)),
				logger.GuideNumber(uint64(report.GuideNumber)),
				logger.Student(string(report.Student)),
			)
			continue
		}

		paid, err := r.target.GuidePaid(ctx, report.CourseID, report.GuideNumber, report.Student)
		if err != nil {
			return fmt.Errorf("replay_payments: read %d/%d/%s: %w", report.CourseID, report.GuideNumber, report.Student, err)
		}
		if paid > 0 {
			continue
		}

		if err := r.target.SetGuidePaid(ctx, report.CourseID, report.GuideNumber, report.Student, sourceAmount); err != nil {
			return fmt.Errorf("replay_payments: record %d/%d/%s: %w", report.CourseID, report.GuideNumber, report.Student, err)
		}
		replayed++
	}

	run.PaymentsReplayed = replayed
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// fail journals the error on the current step and returns it. The step is
// not advanced; the next run resumes here.
func (r *Reconciler) fail(ctx context.Context, run *Run, stepErr error) error {
	run.LastError = stepErr.Error()
	if err := r.journal.Update(ctx, run); err != nil {
		r.log.Error("failed to journal migration error",
			logger.Err(err),
			logger.MigrationStep(string(run.CurrentStep)),
		)
	}
	r.log.Error("migration step failed",
		logger.Err(stepErr),
		logger.MigrationStep(string(run.CurrentStep)),
		logger.String("batch", run.BatchName),
	)
	return stepErr
}

// acquireLock takes the cross-process batch lock when Redis is available.
func (r *Reconciler) acquireLock(ctx context.Context, batchName string) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}

	resource := "migration:" + batchName
	token := uuid.NewString()

	ok, err := r.locks.AcquireLock(ctx, resource, token, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("migration: lock acquire failed: %w", err)
	}
	if !ok {
		return nil, ErrBatchLocked
	}

	return func() {
		if err := r.locks.ReleaseLock(context.WithoutCancel(ctx), resource, token); err != nil {
			r.log.Warn("migration lock release failed", logger.Err(err), logger.String("batch", batchName))
		}
	}, nil
}

func (r *Reconciler) publish(event shared.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(event); err != nil {
		r.log.Warn("event publish failed", logger.Err(err), logger.String("event_type", string(event.EventType())))
	}
}

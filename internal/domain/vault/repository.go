package vault

import (
	"context"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// Reader is the read-only view of the ledger. Reads are free and never
// mutate state; they may be served from a cache that tolerates short
// staleness, but payment decisions always re-check on the write path.
type Reader interface {
	// Vault returns the vault for a course. A course with no vault returns
	// a Vault with Exists=false, not an error.
	Vault(ctx context.Context, courseID shared.CourseID) (*Vault, error)

	// GuidePaid returns the amount recorded for (course, guide, student),
	// zero if the guide has not been paid.
	GuidePaid(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (shared.Amount, error)

	// StudentCanSubmit reports whether the cooldown window has elapsed.
	// A missing vault yields false.
	StudentCanSubmit(ctx context.Context, courseID shared.CourseID, student shared.StudentAddress) (bool, error)

	// GetStudentGuideStatus returns the combined paid/cooldown view for a
	// guide. Used by the coordinator and by later reconciliation of
	// unknown-outcome transactions.
	GetStudentGuideStatus(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (GuideStatus, error)

	// Courses lists every course ID that has a vault. Drives migration.
	Courses(ctx context.Context) ([]shared.CourseID, error)

	// TotalBalance returns the aggregate primary-currency balance across
	// all vaults. Drives the DRAIN_OLD migration step.
	TotalBalance(ctx context.Context) (shared.Amount, error)
}

// Writer is the state-changing surface of the ledger. Every call is a
// settlement-layer transaction: it either lands durably or fails with a
// terminal ledger error.
type Writer interface {
	// CreateVault creates the vault for a course. Administrative.
	CreateVault(ctx context.Context, courseID shared.CourseID, amountPerGuide shared.Amount) error

	// Deposit adds funds to an existing vault.
	Deposit(ctx context.Context, courseID shared.CourseID, currency shared.Currency, amount shared.Amount) error

	// SubmitGuideResult applies a graded submission to the ledger: enforces
	// the cooldown, the at-most-once payment rule, and the balance check,
	// in that order, and releases the payout when all pass.
	SubmitGuideResult(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress, isCorrect bool, profileScore shared.ProfileScore) (SubmitResult, error)
}

// Admin is the restricted surface used only for migration and incident
// recovery. These are the sanctioned raw-write paths: they import historical
// facts without re-running grading, cooldown, or balance-debit logic.
type Admin interface {
	// EmergencyWithdraw removes funds from the ledger's aggregate balance.
	EmergencyWithdraw(ctx context.Context, amount shared.Amount) error

	// SetVaultBalance sets a vault's primary-currency balance directly,
	// bypassing deposit accounting. Migration only: the funds moved in
	// aggregate during the transfer step.
	SetVaultBalance(ctx context.Context, courseID shared.CourseID, balance shared.Amount) error

	// SetGuidePaid records a historical payment fact. Idempotent by
	// definition: a key that is already paid is a no-op, never an error.
	SetGuidePaid(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress, amount shared.Amount) error
}

// Ledger is the full vault ledger surface.
type Ledger interface {
	Reader
	Writer
	Admin
}

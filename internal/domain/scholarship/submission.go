// Package scholarship defines the coordinator-facing view of a grading
// event and the statuses the coordinator reports back to its caller.
package scholarship

import (
	"fmt"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// MinProfileScore is the default minimum aggregate profile score required
// before a submission is worth a settlement call. Gating happens off-chain:
// the ledger does not encode this business rule, and calling it just to be
// told "no" would burn fees.
const MinProfileScore shared.ProfileScore = 50

// Submission is the coordinator's transient view of a grading event,
// produced by the grading collaborator. It is discarded after processing;
// its effect lives only in ledger state and reporting rows.
type Submission struct {
	CourseID      shared.CourseID
	GuideNumber   shared.GuideNumber
	Student       shared.StudentAddress
	IsCorrect     bool
	ProfileScore  shared.ProfileScore
	CorrelationID string
}

// Validate checks the submission's fields.
func (s Submission) Validate() error {
	if err := s.CourseID.Validate(); err != nil {
		return fmt.Errorf("submission: %w", err)
	}
	if err := s.GuideNumber.Validate(); err != nil {
		return fmt.Errorf("submission: %w", err)
	}
	if err := s.Student.Validate(); err != nil {
		return fmt.Errorf("submission: %w", err)
	}
	if err := s.ProfileScore.Validate(); err != nil {
		return fmt.Errorf("submission: %w", err)
	}
	return nil
}

// Status is the definite outcome the coordinator's caller always receives.
// The caller never sees a silently dropped submission.
type Status string

const (
	// StatusPaid: graded correct and the scholarship was released and
	// confirmed.
	StatusPaid Status = "paid"

	// StatusPaidUnconfirmed: the payment call was submitted but the
	// confirmation wait elapsed. Not a failure; the transaction ID is kept
	// and the payment is reconciled later.
	StatusPaidUnconfirmed Status = "paid_unconfirmed"

	// StatusIncorrect: graded incorrect. Cooldown consumed, no payment.
	StatusIncorrect Status = "incorrect"

	// StatusCooldown: the student's cooldown window is still open.
	StatusCooldown Status = "cooldown_active"

	// StatusScoreTooLow: the profile score is below the minimum; no ledger
	// call was made.
	StatusScoreTooLow Status = "score_too_low"

	// StatusVaultDrained: graded correct but the vault cannot cover the
	// payout. Cooldown consumed; the guide remains payable after refunding.
	StatusVaultDrained Status = "vault_drained"

	// StatusAlreadyPaid: the guide was already paid for this student.
	// Idempotent replay outcome, not an operational error.
	StatusAlreadyPaid Status = "already_paid"

	// StatusError: grading-error. The submission was invalid or the
	// settlement layer rejected the call terminally.
	StatusError Status = "error"
)

// Receipt is what the coordinator returns for every processed submission.
type Receipt struct {
	Status        Status
	AmountPaid    shared.Amount
	TxID          string
	Reason        string
	CorrelationID string
}

package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// RemoteLedger implements vault.Ledger over a settlement Client. Reads go
// straight to Query; writes go through the Submitter so every mutation gets
// the nonce retry and the bounded confirmation wait.
//
// An unknown confirmation outcome surfaces as ErrConfirmationTimeout with the
// transaction identifier in the message. Callers on the migration and admin
// paths re-verify through reads before repeating a write.
type RemoteLedger struct {
	client    Client
	submitter *Submitter
	signer    Signer
	log       *logger.Logger
}

// NewRemoteLedger creates the ledger adapter for the given signing identity.
func NewRemoteLedger(client Client, submitter *Submitter, signer Signer, log *logger.Logger) *RemoteLedger {
	if log == nil {
		log = logger.Default()
	}
	return &RemoteLedger{
		client:    client,
		submitter: submitter,
		signer:    signer,
		log:       log.With(logger.Component("settlement.ledger")),
	}
}

// Signer returns the identity writes are signed with.
func (l *RemoteLedger) Signer() Signer {
	return l.signer
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Vault implements vault.Reader.
func (l *RemoteLedger) Vault(ctx context.Context, courseID shared.CourseID) (*vault.Vault, error) {
	raw, err := l.client.Query(ctx, QueryVaults, []interface{}{uint64(courseID)})
	if err != nil {
		return nil, err
	}
	var dto VaultDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, shared.WrapError("settlement", "Vault", shared.ErrExternalService, "decode vault", err)
	}

	v := &vault.Vault{
		CourseID:       shared.CourseID(dto.CourseID),
		Balances:       make(map[shared.Currency]shared.Amount, len(dto.Balances)),
		AmountPerGuide: shared.Amount(dto.AmountPerGuide),
		Exists:         dto.Exists,
	}
	for cur, bal := range dto.Balances {
		v.Balances[shared.Currency(cur)] = shared.Amount(bal)
	}
	return v, nil
}

// GuidePaid implements vault.Reader.
func (l *RemoteLedger) GuidePaid(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (shared.Amount, error) {
	raw, err := l.client.Query(ctx, QueryGuidePaid, []interface{}{uint64(courseID), uint64(guide), string(student)})
	if err != nil {
		return 0, err
	}
	var amount uint64
	if err := json.Unmarshal(raw, &amount); err != nil {
		return 0, shared.WrapError("settlement", "GuidePaid", shared.ErrExternalService, "decode amount", err)
	}
	return shared.Amount(amount), nil
}

// StudentCanSubmit implements vault.Reader.
func (l *RemoteLedger) StudentCanSubmit(ctx context.Context, courseID shared.CourseID, student shared.StudentAddress) (bool, error) {
	raw, err := l.client.Query(ctx, QueryStudentCanSubmit, []interface{}{uint64(courseID), string(student)})
	if err != nil {
		return false, err
	}
	var can bool
	if err := json.Unmarshal(raw, &can); err != nil {
		return false, shared.WrapError("settlement", "StudentCanSubmit", shared.ErrExternalService, "decode flag", err)
	}
	return can, nil
}

// GetStudentGuideStatus implements vault.Reader.
func (l *RemoteLedger) GetStudentGuideStatus(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (vault.GuideStatus, error) {
	raw, err := l.client.Query(ctx, QueryGuideStatus, []interface{}{uint64(courseID), uint64(guide), string(student)})
	if err != nil {
		return vault.GuideStatus{}, err
	}
	var dto GuideStatusDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return vault.GuideStatus{}, shared.WrapError("settlement", "GetStudentGuideStatus", shared.ErrExternalService, "decode status", err)
	}
	return vault.GuideStatus{
		PaidAmount: shared.Amount(dto.PaidAmount),
		CanSubmit:  dto.CanSubmit,
	}, nil
}

// Courses implements vault.Reader.
func (l *RemoteLedger) Courses(ctx context.Context) ([]shared.CourseID, error) {
	raw, err := l.client.Query(ctx, QueryCourses, nil)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, shared.WrapError("settlement", "Courses", shared.ErrExternalService, "decode course list", err)
	}
	out := make([]shared.CourseID, len(ids))
	for i, id := range ids {
		out[i] = shared.CourseID(id)
	}
	return out, nil
}

// TotalBalance implements vault.Reader.
func (l *RemoteLedger) TotalBalance(ctx context.Context) (shared.Amount, error) {
	raw, err := l.client.Query(ctx, QueryTotalBalance, nil)
	if err != nil {
		return 0, err
	}
	var total uint64
	if err := json.Unmarshal(raw, &total); err != nil {
		return 0, shared.WrapError("settlement", "TotalBalance", shared.ErrExternalService, "decode balance", err)
	}
	return shared.Amount(total), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// CreateVault implements vault.Writer.
func (l *RemoteLedger) CreateVault(ctx context.Context, courseID shared.CourseID, amountPerGuide shared.Amount) error {
	call := Call{Function: FnCreateVault, Args: []interface{}{uint64(courseID), uint64(amountPerGuide)}}
	_, err := l.submitConfirmed(ctx, "CreateVault", call)
	return err
}

// Deposit implements vault.Writer.
func (l *RemoteLedger) Deposit(ctx context.Context, courseID shared.CourseID, currency shared.Currency, amount shared.Amount) error {
	if currency != shared.DefaultCurrency {
		return shared.NewDomainError("settlement", "Deposit", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported currency %q", currency))
	}
	call := Call{Function: FnDeposit, Args: []interface{}{uint64(courseID), uint64(amount)}}
	_, err := l.submitConfirmed(ctx, "Deposit", call)
	return err
}

// SubmitGuideResult implements vault.Writer. After confirmation the decision
// is derived from the guide status read: a recorded payment means the payout
// released, otherwise a correct answer means the vault was drained.
func (l *RemoteLedger) SubmitGuideResult(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress, isCorrect bool, profileScore shared.ProfileScore) (vault.SubmitResult, error) {
	call := Call{Function: FnSubmitGuideResult, Args: []interface{}{
		uint64(courseID), uint64(guide), string(student), isCorrect, uint64(profileScore),
	}}
	if _, err := l.submitConfirmed(ctx, "SubmitGuideResult", call); err != nil {
		return vault.SubmitResult{}, err
	}

	status, err := l.GetStudentGuideStatus(ctx, courseID, guide, student)
	if err != nil {
		// The write landed; only the decision read failed. Report the
		// conservative decision rather than failing a confirmed payment.
		l.log.Warn("guide status read failed after confirmed submit",
			logger.Err(err),
			logger.CourseID(uint64(courseID)),
			logger.GuideNumber(uint64(guide)),
			logger.Student(string(student)),
		)
		return vault.SubmitResult{Decision: vault.DecisionIncorrect}, nil
	}

	switch {
	case status.PaidAmount > 0:
		return vault.SubmitResult{Decision: vault.DecisionPaid, Amount: status.PaidAmount}, nil
	case isCorrect:
		return vault.SubmitResult{Decision: vault.DecisionVaultDrained}, nil
	default:
		return vault.SubmitResult{Decision: vault.DecisionIncorrect}, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Admin
// ─────────────────────────────────────────────────────────────────────────────

// EmergencyWithdraw implements vault.Admin.
func (l *RemoteLedger) EmergencyWithdraw(ctx context.Context, amount shared.Amount) error {
	call := Call{Function: FnEmergencyWithdraw, Args: []interface{}{uint64(amount)}}
	_, err := l.submitConfirmed(ctx, "EmergencyWithdraw", call)
	return err
}

// SetVaultBalance implements vault.Admin.
func (l *RemoteLedger) SetVaultBalance(ctx context.Context, courseID shared.CourseID, balance shared.Amount) error {
	call := Call{Function: FnSetVaultBalance, Args: []interface{}{uint64(courseID), uint64(balance)}}
	_, err := l.submitConfirmed(ctx, "SetVaultBalance", call)
	return err
}

// SetGuidePaid implements vault.Admin.
func (l *RemoteLedger) SetGuidePaid(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress, amount shared.Amount) error {
	call := Call{Function: FnSetGuidePaid, Args: []interface{}{
		uint64(courseID), uint64(guide), string(student), uint64(amount),
	}}
	_, err := l.submitConfirmed(ctx, "SetGuidePaid", call)
	return err
}

// Transfer moves primary-currency funds between settlement accounts. Used by
// the migration's fund-transfer step; not part of the vault.Ledger surface.
func (l *RemoteLedger) Transfer(ctx context.Context, to shared.Address, amount shared.Amount) error {
	call := Call{Function: FnTransfer, Args: []interface{}{string(to), uint64(amount)}}
	_, err := l.submitConfirmed(ctx, "Transfer", call)
	return err
}

// submitConfirmed submits a call and requires a confirmed outcome. Unknown
// outcomes become ErrConfirmationTimeout carrying the transaction identifier.
func (l *RemoteLedger) submitConfirmed(ctx context.Context, op string, call Call) (Result, error) {
	result, err := l.submitter.Submit(ctx, call, l.signer)
	if err != nil {
		return result, err
	}
	if result.Outcome == OutcomeUnknown {
		return result, shared.NewDomainError("settlement", op, shared.ErrConfirmationTimeout,
			fmt.Sprintf("tx %s unconfirmed", result.TxID))
	}
	return result, nil
}

// Package vault defines the scholarship vault domain: per-course escrow
// state, per-student cooldowns, per-guide payment records, and the Ledger
// interface through which all of it is mutated.
//
// The settlement layer is the source of truth for everything in this package.
// Other components hold read-derived copies only; the Ledger operations are
// the single sanctioned mutation path.
package vault

import (
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// CooldownSeconds is the minimum wait between scholarship-eligible
// submissions per (course, student). 24 hours in the reference behavior.
const CooldownSeconds = 86400

// Vault is the per-course escrow tracking available scholarship funds.
//
// Invariants: Exists is monotonic (once true, never false); every balance is
// non-negative; AmountPerGuide is positive and fixed at creation.
type Vault struct {
	CourseID       shared.CourseID
	Balances       map[shared.Currency]shared.Amount
	AmountPerGuide shared.Amount
	Exists         bool
}

// Balance returns the balance for a currency, zero if never deposited.
func (v *Vault) Balance(currency shared.Currency) shared.Amount {
	if v == nil || v.Balances == nil {
		return 0
	}
	return v.Balances[currency]
}

// CanPayGuide reports whether the primary-currency balance covers one guide
// payout.
func (v *Vault) CanPayGuide(currency shared.Currency) bool {
	return v != nil && v.Exists && v.Balance(currency) >= v.AmountPerGuide
}

// StudentCooldown records the last submission time for a (course, student)
// pair. The timestamp is monotonically non-decreasing: both correct and
// incorrect submissions advance it.
type StudentCooldown struct {
	CourseID   shared.CourseID
	Student    shared.StudentAddress
	LastAction time.Time
}

// Active reports whether the cooldown window still covers now.
func (c StudentCooldown) Active(now time.Time, window time.Duration) bool {
	if c.LastAction.IsZero() {
		return false
	}
	return now.Sub(c.LastAction) < window
}

// GuidePayment records a released scholarship for a (course, guide, student)
// key. Once Paid is true, Amount is immutable and no further payment may be
// issued for the key.
type GuidePayment struct {
	CourseID    shared.CourseID
	GuideNumber shared.GuideNumber
	Student     shared.StudentAddress
	Paid        bool
	Amount      shared.Amount
}

// PaymentKey identifies a guide payment.
type PaymentKey struct {
	CourseID    shared.CourseID
	GuideNumber shared.GuideNumber
	Student     shared.StudentAddress
}

// Key returns the payment's key.
func (p GuidePayment) Key() PaymentKey {
	return PaymentKey{CourseID: p.CourseID, GuideNumber: p.GuideNumber, Student: p.Student}
}

// GuideStatus is the combined read the coordinator and the reconcile job use:
// what has been paid for a guide, and whether the student may submit now.
type GuideStatus struct {
	PaidAmount shared.Amount
	CanSubmit  bool
}

// SubmitDecision is the outcome of a SubmitGuideResult call that did not
// fail. Exactly one of the three is reported.
type SubmitDecision int

const (
	// DecisionPaid: answer correct, balance sufficient, payment released.
	DecisionPaid SubmitDecision = iota
	// DecisionIncorrect: answer wrong; cooldown consumed, no payment.
	DecisionIncorrect
	// DecisionVaultDrained: answer correct but the vault cannot cover the
	// payout; cooldown consumed, no payment, no paid flag. The guide stays
	// payable once the balance is restored.
	DecisionVaultDrained
)

// String returns a human-readable decision name.
func (d SubmitDecision) String() string {
	switch d {
	case DecisionPaid:
		return "paid"
	case DecisionIncorrect:
		return "incorrect"
	case DecisionVaultDrained:
		return "vault_drained"
	default:
		return "unknown"
	}
}

// SubmitResult carries the decision plus the released amount (zero unless
// DecisionPaid).
type SubmitResult struct {
	Decision SubmitDecision
	Amount   shared.Amount
}

// Package ledger implements the authoritative vault ledger state machine:
// the settlement layer's view of per-course vaults, student cooldowns, and
// guide payments.
//
// The state machine is deliberately sequential. The settlement layer
// serializes all state-changing calls, so a single mutex models its
// execution semantics exactly: no two concurrent SubmitGuideResult calls for
// the same key can both observe an unpaid guide.
//
// State is mutated only through the operations defined here. Components that
// need the ledger depend on the vault.Ledger interface, never on this
// package's internals.
package ledger

import (
	"sync"
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
)

// State holds the full contract state. The owner set at initialization is
// the only identity allowed to call administrative operations.
type State struct {
	mu sync.Mutex

	owner           shared.Address
	primaryCurrency shared.Currency
	cooldown        time.Duration
	now             func() time.Time

	// scoreScaled enables the UBI-style variant where the payout is scaled
	// by the profile score with integer truncation.
	scoreScaled bool

	vaults    map[shared.CourseID]*vault.Vault
	cooldowns map[cooldownKey]time.Time
	payments  map[vault.PaymentKey]*vault.GuidePayment

	// accounts are currency balances held at the settlement layer: student
	// payouts land here, emergency withdrawals credit the owner here.
	accounts map[shared.Address]shared.Amount

	events []shared.Event
}

type cooldownKey struct {
	courseID shared.CourseID
	student  shared.Address
}

// Option configures the state machine.
type Option func(*State)

// WithClock injects a time source. Tests use this to advance time across
// cooldown windows.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithCooldown overrides the cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(s *State) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithPrimaryCurrency sets the currency payouts draw from.
func WithPrimaryCurrency(c shared.Currency) Option {
	return func(s *State) {
		if c != "" {
			s.primaryCurrency = c
		}
	}
}

// WithScoreScaledRewards enables profile-score-scaled payouts:
// reward = floor(amountPerGuide * score / 100).
func WithScoreScaledRewards() Option {
	return func(s *State) { s.scoreScaled = true }
}

// New creates a ledger state machine owned by the given administrative
// identity.
func New(owner shared.Address, opts ...Option) *State {
	s := &State{
		owner:           owner,
		primaryCurrency: shared.DefaultCurrency,
		cooldown:        vault.CooldownSeconds * time.Second,
		now:             func() time.Time { return time.Now().UTC() },
		vaults:          make(map[shared.CourseID]*vault.Vault),
		cooldowns:       make(map[cooldownKey]time.Time),
		payments:        make(map[vault.PaymentKey]*vault.GuidePayment),
		accounts:        make(map[shared.Address]shared.Amount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Write operations
// ─────────────────────────────────────────────────────────────────────────────

// CreateVault creates the vault for a course with a fixed per-guide payout.
// Restricted to the owner.
func (s *State) CreateVault(caller shared.Address, courseID shared.CourseID, amountPerGuide shared.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return shared.NewDomainError("vault", "CreateVault", shared.ErrUnauthorized, "caller is not the ledger owner")
	}
	if amountPerGuide == 0 {
		return shared.NewDomainError("vault", "CreateVault", shared.ErrInvalidAmount, "amount per guide must be positive")
	}
	if v, ok := s.vaults[courseID]; ok && v.Exists {
		return shared.NewDomainError("vault", "CreateVault", shared.ErrVaultAlreadyExists, "course already has a vault")
	}

	s.vaults[courseID] = &vault.Vault{
		CourseID:       courseID,
		Balances:       make(map[shared.Currency]shared.Amount),
		AmountPerGuide: amountPerGuide,
		Exists:         true,
	}
	s.emit(shared.NewVaultCreatedEvent(uint64(courseID), uint64(amountPerGuide)))
	return nil
}

// Deposit adds funds to an existing vault.
func (s *State) Deposit(caller shared.Address, courseID shared.CourseID, currency shared.Currency, amount shared.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[courseID]
	if !ok || !v.Exists {
		return shared.NewDomainError("vault", "Deposit", shared.ErrVaultNotFound, "no vault for course")
	}
	if amount == 0 {
		return shared.NewDomainError("vault", "Deposit", shared.ErrInvalidAmount, "deposit must be positive")
	}
	if err := currency.Validate(); err != nil {
		return shared.WrapError("vault", "Deposit", shared.ErrInvalidInput, "bad currency tag", err)
	}

	v.Balances[currency] += amount
	s.emit(shared.NewVaultDepositedEvent(uint64(courseID), string(currency), uint64(amount)))
	return nil
}

// SubmitGuideResult applies a graded submission. The check order is fixed:
// vault existence, student identity, cooldown, at-most-once payment, then
// correctness and balance. Both correct and incorrect submissions reset the
// cooldown timer, which is what makes resubmission spam unprofitable.
func (s *State) SubmitGuideResult(
	caller shared.Address,
	courseID shared.CourseID,
	guide shared.GuideNumber,
	student shared.Address,
	isCorrect bool,
	profileScore shared.ProfileScore,
) (vault.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero vault.SubmitResult

	v, ok := s.vaults[courseID]
	if !ok || !v.Exists {
		return zero, shared.NewDomainError("vault", "SubmitGuideResult", shared.ErrVaultNotFound, "no vault for course")
	}
	if student.IsZero() {
		return zero, shared.NewDomainError("vault", "SubmitGuideResult", shared.ErrInvalidStudent, "zero student identity")
	}

	now := s.now()
	ck := cooldownKey{courseID: courseID, student: student}
	if last, ok := s.cooldowns[ck]; ok && now.Sub(last) < s.cooldown {
		return zero, shared.NewDomainError("vault", "SubmitGuideResult", shared.ErrCooldownActive, "cooldown window still open")
	}

	pk := vault.PaymentKey{CourseID: courseID, GuideNumber: guide, Student: student}
	if p, ok := s.payments[pk]; ok && p.Paid {
		return zero, shared.NewDomainError("vault", "SubmitGuideResult", shared.ErrAlreadyPaid, "guide already paid for student")
	}

	// Every outcome below consumes the cooldown slot.
	s.cooldowns[ck] = now

	if !isCorrect {
		return vault.SubmitResult{Decision: vault.DecisionIncorrect}, nil
	}

	reward := v.AmountPerGuide
	if s.scoreScaled {
		reward = reward.ScaleByPercent(uint8(profileScore))
	}

	if v.Balances[s.primaryCurrency] < reward {
		// Correct answer, drained vault: no payment, no paid flag. The
		// guide remains payable once the balance is restored.
		return vault.SubmitResult{Decision: vault.DecisionVaultDrained}, nil
	}

	v.Balances[s.primaryCurrency] -= reward
	s.accounts[student] += reward
	s.payments[pk] = &vault.GuidePayment{
		CourseID:    courseID,
		GuideNumber: guide,
		Student:     student,
		Paid:        true,
		Amount:      reward,
	}
	s.emit(shared.NewScholarshipReleasedEvent(uint64(courseID), uint64(guide), string(student), uint64(reward), ""))
	return vault.SubmitResult{Decision: vault.DecisionPaid, Amount: reward}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Administrative operations (migration and incident recovery only)
// ─────────────────────────────────────────────────────────────────────────────

// EmergencyWithdraw drains funds from vault balances into the owner's
// account, largest-course-first is not guaranteed; only the aggregate
// matters to callers.
func (s *State) EmergencyWithdraw(caller shared.Address, amount shared.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return shared.NewDomainError("vault", "EmergencyWithdraw", shared.ErrUnauthorized, "caller is not the ledger owner")
	}
	if amount == 0 {
		return shared.NewDomainError("vault", "EmergencyWithdraw", shared.ErrInvalidAmount, "withdrawal must be positive")
	}
	if s.totalBalanceLocked() < amount {
		return shared.NewDomainError("vault", "EmergencyWithdraw", shared.ErrInsufficientBalance, "aggregate balance too low")
	}

	remaining := amount
	for _, v := range s.vaults {
		if remaining == 0 {
			break
		}
		bal := v.Balances[s.primaryCurrency]
		if bal == 0 {
			continue
		}
		take := bal
		if take > remaining {
			take = remaining
		}
		v.Balances[s.primaryCurrency] = bal - take
		remaining -= take
	}
	s.accounts[s.owner] += amount
	return nil
}

// SetVaultBalance sets a vault's primary-currency balance directly. Used by
// migration after funds already moved in aggregate; it bypasses deposit
// accounting on purpose.
func (s *State) SetVaultBalance(caller shared.Address, courseID shared.CourseID, balance shared.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return shared.NewDomainError("vault", "SetVaultBalance", shared.ErrUnauthorized, "caller is not the ledger owner")
	}
	v, ok := s.vaults[courseID]
	if !ok || !v.Exists {
		return shared.NewDomainError("vault", "SetVaultBalance", shared.ErrVaultNotFound, "no vault for course")
	}
	v.Balances[s.primaryCurrency] = balance
	return nil
}

// SetGuidePaid imports a historical payment fact. Idempotent: a key that is
// already paid is a no-op, never an error, so replay can run any number of
// times.
func (s *State) SetGuidePaid(caller shared.Address, courseID shared.CourseID, guide shared.GuideNumber, student shared.Address, amount shared.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return shared.NewDomainError("vault", "SetGuidePaid", shared.ErrUnauthorized, "caller is not the ledger owner")
	}
	if student.IsZero() {
		return shared.NewDomainError("vault", "SetGuidePaid", shared.ErrInvalidStudent, "zero student identity")
	}

	pk := vault.PaymentKey{CourseID: courseID, GuideNumber: guide, Student: student}
	if p, ok := s.payments[pk]; ok && p.Paid {
		return nil
	}
	s.payments[pk] = &vault.GuidePayment{
		CourseID:    courseID,
		GuideNumber: guide,
		Student:     student,
		Paid:        true,
		Amount:      amount,
	}
	return nil
}

// Transfer moves account-level funds between settlement identities. This is
// the currency transfer migration uses to move drained funds to the new
// ledger's holding account; it is not a vault-scoped operation.
func (s *State) Transfer(caller, to shared.Address, amount shared.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == 0 {
		return shared.NewDomainError("vault", "Transfer", shared.ErrInvalidAmount, "transfer must be positive")
	}
	if to.IsZero() {
		return shared.NewDomainError("vault", "Transfer", shared.ErrInvalidStudent, "zero recipient")
	}
	if s.accounts[caller] < amount {
		return shared.NewDomainError("vault", "Transfer", shared.ErrInsufficientBalance, "account balance too low")
	}
	s.accounts[caller] -= amount
	s.accounts[to] += amount
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read operations
// ─────────────────────────────────────────────────────────────────────────────

// Vault returns a copy of the vault for a course. A course with no vault
// yields Exists=false.
func (s *State) Vault(courseID shared.CourseID) *vault.Vault {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[courseID]
	if !ok {
		return &vault.Vault{CourseID: courseID}
	}
	cp := &vault.Vault{
		CourseID:       v.CourseID,
		Balances:       make(map[shared.Currency]shared.Amount, len(v.Balances)),
		AmountPerGuide: v.AmountPerGuide,
		Exists:         v.Exists,
	}
	for c, b := range v.Balances {
		cp.Balances[c] = b
	}
	return cp
}

// GuidePaid returns the recorded amount for a payment key, zero if unpaid.
func (s *State) GuidePaid(courseID shared.CourseID, guide shared.GuideNumber, student shared.Address) shared.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := vault.PaymentKey{CourseID: courseID, GuideNumber: guide, Student: student}
	if p, ok := s.payments[pk]; ok && p.Paid {
		return p.Amount
	}
	return 0
}

// StudentCanSubmit reports whether the student may submit for the course
// now. A missing vault yields false.
func (s *State) StudentCanSubmit(courseID shared.CourseID, student shared.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[courseID]
	if !ok || !v.Exists {
		return false
	}
	last, ok := s.cooldowns[cooldownKey{courseID: courseID, student: student}]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= s.cooldown
}

// Courses lists every course that has a vault.
func (s *State) Courses() []shared.CourseID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]shared.CourseID, 0, len(s.vaults))
	for id, v := range s.vaults {
		if v.Exists {
			out = append(out, id)
		}
	}
	return out
}

// TotalBalance returns the aggregate primary-currency balance across all
// vaults.
func (s *State) TotalBalance() shared.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBalanceLocked()
}

func (s *State) totalBalanceLocked() shared.Amount {
	var total shared.Amount
	for _, v := range s.vaults {
		total += v.Balances[s.primaryCurrency]
	}
	return total
}

// AccountBalance returns the settlement-layer account balance for an
// identity (student payouts, owner withdrawals, holding accounts).
func (s *State) AccountBalance(addr shared.Address) shared.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[addr]
}

// Owner returns the administrative identity.
func (s *State) Owner() shared.Address {
	return s.owner
}

// DrainEvents returns the events emitted since the last drain and clears
// the buffer.
func (s *State) DrainEvents() []shared.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.events
	s.events = nil
	return out
}

func (s *State) emit(e shared.Event) {
	s.events = append(s.events, e)
}

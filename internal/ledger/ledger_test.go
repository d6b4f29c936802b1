package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
)

const (
	owner   = shared.Address("0xadmin")
	alice   = shared.Address("0xalice")
	bob     = shared.Address("0xbob")
	course1 = shared.CourseID(1)
)

// testClock is a manually advanced time source.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time            { return c.now }
func (c *testClock) Advance(d time.Duration)   { c.now = c.now.Add(d) }
func (c *testClock) AdvanceSeconds(secs int64) { c.Advance(time.Duration(secs) * time.Second) }

func newLedger(t *testing.T, clock *testClock) *State {
	t.Helper()
	return New(owner, WithClock(clock.Now))
}

func fundVault(t *testing.T, s *State, courseID shared.CourseID, perGuide, deposit shared.Amount) {
	t.Helper()
	require.NoError(t, s.CreateVault(owner, courseID, perGuide))
	require.NoError(t, s.Deposit(owner, courseID, shared.DefaultCurrency, deposit))
}

func TestCreateVault(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)

	t.Run("success", func(t *testing.T) {
		require.NoError(t, s.CreateVault(owner, course1, 2_000000))
		v := s.Vault(course1)
		assert.True(t, v.Exists)
		assert.Equal(t, shared.Amount(2_000000), v.AmountPerGuide)
		assert.Equal(t, shared.Amount(0), v.Balance(shared.DefaultCurrency))
	})

	t.Run("duplicate fails", func(t *testing.T) {
		err := s.CreateVault(owner, course1, 2_000000)
		assert.ErrorIs(t, err, shared.ErrVaultAlreadyExists)
	})

	t.Run("zero amount fails", func(t *testing.T) {
		err := s.CreateVault(owner, 2, 0)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})

	t.Run("non-owner fails", func(t *testing.T) {
		err := s.CreateVault(alice, 3, 1_000000)
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})
}

func TestDeposit(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	require.NoError(t, s.CreateVault(owner, course1, 2_000000))

	t.Run("missing vault", func(t *testing.T) {
		err := s.Deposit(owner, 99, shared.DefaultCurrency, 1)
		assert.ErrorIs(t, err, shared.ErrVaultNotFound)
	})

	t.Run("zero amount", func(t *testing.T) {
		err := s.Deposit(owner, course1, shared.DefaultCurrency, 0)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})

	t.Run("accumulates per currency", func(t *testing.T) {
		require.NoError(t, s.Deposit(owner, course1, shared.DefaultCurrency, 50_000000))
		require.NoError(t, s.Deposit(owner, course1, shared.DefaultCurrency, 50_000000))
		require.NoError(t, s.Deposit(owner, course1, "DAI18", 7))

		v := s.Vault(course1)
		assert.Equal(t, shared.Amount(100_000000), v.Balance(shared.DefaultCurrency))
		assert.Equal(t, shared.Amount(7), v.Balance("DAI18"))
	})
}

// A vault with amountPerGuide=2_000000 and 100_000000 deposited: a correct
// submission pays out and closes the cooldown window.
func TestFirstCorrectSubmissionPays(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	res, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionPaid, res.Decision)
	assert.Equal(t, shared.Amount(2_000000), res.Amount)

	assert.Equal(t, shared.Amount(98_000000), s.Vault(course1).Balance(shared.DefaultCurrency))
	assert.Equal(t, shared.Amount(2_000000), s.AccountBalance(alice))
	assert.Equal(t, shared.Amount(2_000000), s.GuidePaid(course1, 1, alice))
	assert.False(t, s.StudentCanSubmit(course1, alice))
}

// An immediate second submission trips the cooldown and changes nothing.
func TestImmediateResubmissionHitsCooldown(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	_, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	require.NoError(t, err)

	_, err = s.SubmitGuideResult(alice, course1, 2, alice, true, 80)
	assert.ErrorIs(t, err, shared.ErrCooldownActive)
	assert.Equal(t, shared.Amount(98_000000), s.Vault(course1).Balance(shared.DefaultCurrency))
	assert.Equal(t, shared.Amount(0), s.GuidePaid(course1, 2, alice))
}

// After 86401 seconds the next guide pays out cumulatively.
func TestNextGuideAfterCooldownPays(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	_, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	require.NoError(t, err)

	clock.AdvanceSeconds(86401)
	assert.True(t, s.StudentCanSubmit(course1, alice))

	res, err := s.SubmitGuideResult(alice, course1, 2, alice, true, 80)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionPaid, res.Decision)
	assert.Equal(t, shared.Amount(4_000000), s.AccountBalance(alice))
	assert.Equal(t, shared.Amount(96_000000), s.Vault(course1).Balance(shared.DefaultCurrency))
}

// A drained vault consumes the cooldown but pays nothing and leaves the
// guide unpaid.
func TestDrainedVaultConsumesCooldownWithoutPaying(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 1_000000)

	res, err := s.SubmitGuideResult(bob, course1, 1, bob, true, 90)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionVaultDrained, res.Decision)
	assert.Equal(t, shared.Amount(0), res.Amount)

	assert.Equal(t, shared.Amount(1_000000), s.Vault(course1).Balance(shared.DefaultCurrency))
	assert.Equal(t, shared.Amount(0), s.GuidePaid(course1, 1, bob))
	assert.False(t, s.StudentCanSubmit(course1, bob))

	// Balance restored later: after the cooldown the same guide pays.
	require.NoError(t, s.Deposit(owner, course1, shared.DefaultCurrency, 5_000000))
	clock.AdvanceSeconds(vault.CooldownSeconds)
	res, err = s.SubmitGuideResult(bob, course1, 1, bob, true, 90)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionPaid, res.Decision)
}

// TestAtMostOncePayment: two correct submissions for the same key, even
// across a cooldown reset, release exactly one payment.
func TestAtMostOncePayment(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	_, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	require.NoError(t, err)

	clock.AdvanceSeconds(vault.CooldownSeconds + 1)
	_, err = s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	assert.ErrorIs(t, err, shared.ErrAlreadyPaid)

	assert.Equal(t, shared.Amount(2_000000), s.GuidePaid(course1, 1, alice))
	assert.Equal(t, shared.Amount(98_000000), s.Vault(course1).Balance(shared.DefaultCurrency))
	assert.Equal(t, shared.Amount(2_000000), s.AccountBalance(alice))
}

// TestCooldownMonotonicity: the window is closed for its full duration and
// opens exactly at the boundary; incorrect submissions close it too.
func TestCooldownMonotonicity(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	res, err := s.SubmitGuideResult(alice, course1, 1, alice, false, 80)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionIncorrect, res.Decision)

	submittedAt := clock.now
	// Window stays closed strictly inside [T, T+86400).
	for _, secs := range []int64{0, 1, 43200, 86399} {
		clock.now = submittedAt.Add(time.Duration(secs) * time.Second)
		assert.False(t, s.StudentCanSubmit(course1, alice), "t+%ds", secs)
	}

	clock.now = submittedAt.Add(vault.CooldownSeconds * time.Second)
	assert.True(t, s.StudentCanSubmit(course1, alice))
}

// TestBalanceConservation: final balance equals deposits minus payouts minus
// withdrawals, and never goes negative.
func TestBalanceConservation(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 10_000000)

	students := []shared.Address{"0xs1", "0xs2", "0xs3"}
	var paid shared.Amount
	for i, st := range students {
		res, err := s.SubmitGuideResult(st, course1, shared.GuideNumber(i+1), st, true, 70)
		require.NoError(t, err)
		paid += res.Amount
	}
	require.NoError(t, s.EmergencyWithdraw(owner, 1_000000))

	want := shared.Amount(10_000000) - paid - 1_000000
	assert.Equal(t, want, s.TotalBalance())

	// Withdrawing more than remains is refused, the balance cannot go
	// negative.
	err := s.EmergencyWithdraw(owner, want+1)
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)
	assert.Equal(t, want, s.TotalBalance())
}

func TestSubmitGuideResultValidation(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	t.Run("missing vault", func(t *testing.T) {
		_, err := s.SubmitGuideResult(alice, 42, 1, alice, true, 80)
		assert.ErrorIs(t, err, shared.ErrVaultNotFound)
	})

	t.Run("zero student", func(t *testing.T) {
		_, err := s.SubmitGuideResult(alice, course1, 1, shared.ZeroAddress, true, 80)
		assert.ErrorIs(t, err, shared.ErrInvalidStudent)
	})

	t.Run("incorrect resets cooldown without payment", func(t *testing.T) {
		res, err := s.SubmitGuideResult(bob, course1, 1, bob, false, 80)
		require.NoError(t, err)
		assert.Equal(t, vault.DecisionIncorrect, res.Decision)
		assert.False(t, s.StudentCanSubmit(course1, bob))
		assert.Equal(t, shared.Amount(100_000000), s.Vault(course1).Balance(shared.DefaultCurrency))
	})
}

func TestStudentCanSubmit_MissingVault(t *testing.T) {
	s := newLedger(t, newTestClock())
	assert.False(t, s.StudentCanSubmit(7, alice))
}

func TestScoreScaledRewardsTruncate(t *testing.T) {
	clock := newTestClock()
	s := New(owner, WithClock(clock.Now), WithScoreScaledRewards())
	fundVault(t, s, course1, 1_000001, 100_000000)

	// floor(1_000001 * 33 / 100) = 330000, truncation not rounding.
	res, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 33)
	require.NoError(t, err)
	assert.Equal(t, shared.Amount(330000), res.Amount)
}

func TestSetGuidePaidIdempotent(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)

	require.NoError(t, s.SetGuidePaid(owner, course1, 1, alice, 2_000000))
	require.NoError(t, s.SetGuidePaid(owner, course1, 1, alice, 2_000000))
	assert.Equal(t, shared.Amount(2_000000), s.GuidePaid(course1, 1, alice))

	// The imported fact blocks live re-payment.
	_, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	assert.ErrorIs(t, err, shared.ErrAlreadyPaid)

	t.Run("non-owner refused", func(t *testing.T) {
		err := s.SetGuidePaid(alice, course1, 2, alice, 1)
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})
}

func TestTransferBetweenAccounts(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 10_000000)
	require.NoError(t, s.EmergencyWithdraw(owner, 10_000000))

	require.NoError(t, s.Transfer(owner, "0xholding", 10_000000))
	assert.Equal(t, shared.Amount(10_000000), s.AccountBalance("0xholding"))
	assert.Equal(t, shared.Amount(0), s.AccountBalance(owner))

	err := s.Transfer(owner, "0xholding", 1)
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)
}

func TestEventsEmitted(t *testing.T) {
	clock := newTestClock()
	s := newLedger(t, clock)
	fundVault(t, s, course1, 2_000000, 100_000000)
	_, err := s.SubmitGuideResult(alice, course1, 1, alice, true, 80)
	require.NoError(t, err)

	events := s.DrainEvents()
	require.Len(t, events, 3)
	assert.Equal(t, shared.EventVaultCreated, events[0].EventType())
	assert.Equal(t, shared.EventVaultDeposited, events[1].EventType())
	assert.Equal(t, shared.EventScholarshipReleased, events[2].EventType())

	// Drained after reading.
	assert.Empty(t, s.DrainEvents())
}

func TestLedgerErrorsAreTerminal(t *testing.T) {
	s := newLedger(t, newTestClock())
	err := s.Deposit(owner, 1, shared.DefaultCurrency, 5)
	require.Error(t, err)
	assert.True(t, shared.IsLedgerInvariant(err))

	var de *shared.DomainError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "vault", de.Domain)
}

package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/internal/ledger"
)

const testStudent = shared.StudentAddress("0x00000000000000000000000000000000000000aa")

func newTestLedger(t *testing.T) (*RemoteLedger, *DevnetClient) {
	t.Helper()
	signer := NewSigner("platform-test-credential")
	state := ledger.New(shared.Address(signer.Address))
	client := NewDevnetClient(state)
	sub := NewSubmitter(client, testConfig(), nil)
	return NewRemoteLedger(client, sub, signer, nil), client
}

func TestRemoteLedgerVaultLifecycle(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.Deposit(ctx, 7, shared.DefaultCurrency, 100_000000))

	v, err := rl.Vault(ctx, 7)
	require.NoError(t, err)
	assert.True(t, v.Exists)
	assert.Equal(t, shared.Amount(2_000000), v.AmountPerGuide)
	assert.Equal(t, shared.Amount(100_000000), v.Balance(shared.DefaultCurrency))

	courses, err := rl.Courses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shared.CourseID{7}, courses)

	total, err := rl.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, shared.Amount(100_000000), total)
}

func TestRemoteLedgerDepositRejectsUnknownCurrency(t *testing.T) {
	rl, _ := newTestLedger(t)
	err := rl.Deposit(context.Background(), 7, shared.Currency("DOGE"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestRemoteLedgerSubmitGuideResultPays(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.Deposit(ctx, 7, shared.DefaultCurrency, 100_000000))

	result, err := rl.SubmitGuideResult(ctx, 7, 1, testStudent, true, 80)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionPaid, result.Decision)
	assert.Equal(t, shared.Amount(2_000000), result.Amount)

	paid, err := rl.GuidePaid(ctx, 7, 1, testStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.Amount(2_000000), paid)

	can, err := rl.StudentCanSubmit(ctx, 7, testStudent)
	require.NoError(t, err)
	assert.False(t, can, "cooldown starts on payment")
}

func TestRemoteLedgerSubmitGuideResultCooldownSurfaces(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.Deposit(ctx, 7, shared.DefaultCurrency, 100_000000))

	_, err := rl.SubmitGuideResult(ctx, 7, 1, testStudent, true, 80)
	require.NoError(t, err)

	_, err = rl.SubmitGuideResult(ctx, 7, 2, testStudent, true, 80)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCooldownActive)
}

func TestRemoteLedgerSubmitGuideResultIncorrect(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.Deposit(ctx, 7, shared.DefaultCurrency, 100_000000))

	result, err := rl.SubmitGuideResult(ctx, 7, 1, testStudent, false, 80)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionIncorrect, result.Decision)
	assert.Zero(t, result.Amount)

	status, err := rl.GetStudentGuideStatus(ctx, 7, 1, testStudent)
	require.NoError(t, err)
	assert.Zero(t, status.PaidAmount)
	assert.False(t, status.CanSubmit)
}

func TestRemoteLedgerSubmitGuideResultDrained(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.Deposit(ctx, 7, shared.DefaultCurrency, 1_000000))

	result, err := rl.SubmitGuideResult(ctx, 7, 1, testStudent, true, 80)
	require.NoError(t, err)
	assert.Equal(t, vault.DecisionVaultDrained, result.Decision)
	assert.Zero(t, result.Amount)
}

func TestRemoteLedgerUnknownOutcomeBecomesTimeout(t *testing.T) {
	rl, client := newTestLedger(t)
	ctx := context.Background()

	client.HoldConfirmations(true)
	err := rl.CreateVault(ctx, 7, 2_000000)
	require.Error(t, err)
	assert.True(t, shared.IsUnknownOutcome(err))
}

func TestRemoteLedgerSetGuidePaidIdempotent(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.SetGuidePaid(ctx, 7, 1, testStudent, 2_000000))
	require.NoError(t, rl.SetGuidePaid(ctx, 7, 1, testStudent, 2_000000))

	paid, err := rl.GuidePaid(ctx, 7, 1, testStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.Amount(2_000000), paid)
}

func TestRemoteLedgerSetVaultBalance(t *testing.T) {
	rl, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, rl.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, rl.SetVaultBalance(ctx, 7, 42_000000))

	v, err := rl.Vault(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, shared.Amount(42_000000), v.Balance(shared.DefaultCurrency))
}

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddress("credential-one")
	b := DeriveAddress("credential-one")
	c := DeriveAddress("credential-two")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 42)
	assert.Equal(t, "0x", a[:2])
}

package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/ledger"
)

func testConfig() Config {
	return Config{
		NetworkID:         "devnet",
		ConfirmationDepth: 2,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   5,
	}
}

func newTestBackend(t *testing.T) (*DevnetClient, Signer) {
	t.Helper()
	signer := NewSigner("platform-test-credential")
	state := ledger.New(shared.Address(signer.Address))
	return NewDevnetClient(state), signer
}

func TestSubmitConfirms(t *testing.T) {
	client, signer := newTestBackend(t)
	sub := NewSubmitter(client, testConfig(), nil)

	call := Call{Function: FnCreateVault, Args: []interface{}{uint64(7), uint64(2_000000)}}
	result, err := sub.Submit(context.Background(), call, signer)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.GreaterOrEqual(t, result.Confirmations, 2)
	assert.NotEmpty(t, result.TxID)

	v := client.State().Vault(7)
	assert.True(t, v.Exists)
	assert.Equal(t, shared.Amount(2_000000), v.AmountPerGuide)
}

func TestSubmitRetriesOnceOnNonceRejection(t *testing.T) {
	client, signer := newTestBackend(t)
	sub := NewSubmitter(client, testConfig(), nil)

	client.RejectNextSubmit("nonce too low")

	call := Call{Function: FnCreateVault, Args: []interface{}{uint64(7), uint64(2_000000)}}
	result, err := sub.Submit(context.Background(), call, signer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.True(t, client.State().Vault(7).Exists)
}

func TestSubmitGivesUpAfterSecondRejection(t *testing.T) {
	client, signer := newTestBackend(t)
	sub := NewSubmitter(client, testConfig(), nil)

	client.RejectNextSubmit("nonce too low")
	client.RejectNextSubmit("nonce too low")

	call := Call{Function: FnCreateVault, Args: []interface{}{uint64(7), uint64(2_000000)}}
	_, err := sub.Submit(context.Background(), call, signer)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrSubmissionRejected)
	assert.False(t, client.State().Vault(7).Exists)
}

func TestSubmitSurfacesLedgerErrorsWithoutRetry(t *testing.T) {
	client, signer := newTestBackend(t)
	sub := NewSubmitter(client, testConfig(), nil)
	ctx := context.Background()

	create := Call{Function: FnCreateVault, Args: []interface{}{uint64(7), uint64(2_000000)}}
	_, err := sub.Submit(ctx, create, signer)
	require.NoError(t, err)

	// Second create violates vault monotonicity and must come back verbatim.
	_, err = sub.Submit(ctx, create, signer)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrVaultAlreadyExists)
}

func TestSubmitTimesOutWithUnknownOutcome(t *testing.T) {
	client, signer := newTestBackend(t)
	sub := NewSubmitter(client, testConfig(), nil)

	client.HoldConfirmations(true)

	call := Call{Function: FnCreateVault, Args: []interface{}{uint64(7), uint64(2_000000)}}
	result, err := sub.Submit(context.Background(), call, signer)

	// Timeout is not a failure: the tx identifier stays usable.
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, result.Outcome)
	assert.NotEmpty(t, result.TxID)

	// Once confirmations resume, the same identifier resolves.
	client.HoldConfirmations(false)
	resumed, err := sub.WaitForConfirmation(context.Background(), result.TxID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, resumed.Outcome)
}

func TestSubmitSerializesPerSigner(t *testing.T) {
	client, signer := newTestBackend(t)
	sub := NewSubmitter(client, testConfig(), nil)
	ctx := context.Background()

	create := Call{Function: FnCreateVault, Args: []interface{}{uint64(1), uint64(1_000000)}}
	_, err := sub.Submit(ctx, create, signer)
	require.NoError(t, err)

	done := make(chan error, 8)
	for i := uint64(2); i < 10; i++ {
		go func(course uint64) {
			call := Call{Function: FnCreateVault, Args: []interface{}{course, uint64(1_000000)}}
			_, err := sub.Submit(ctx, call, signer)
			done <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	nonce, err := client.PendingNonce(ctx, signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), nonce)
}

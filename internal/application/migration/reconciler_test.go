package migration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/ledger"
	"github.com/edubeca/scholarship-hub/internal/settlement"
)

const migratedStudent = shared.StudentAddress("0x00000000000000000000000000000000000000bb")

// ─────────────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────────────

type memoryJournal struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{runs: make(map[string]*Run)}
}

func (j *memoryJournal) GetOrCreate(_ context.Context, batchName string) (*Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if run, ok := j.runs[batchName]; ok {
		copied := *run
		return &copied, nil
	}
	run := &Run{
		ID:          batchName,
		BatchName:   batchName,
		CurrentStep: StepDrainOld,
		StartedAt:   time.Now().UTC(),
	}
	j.runs[batchName] = run
	copied := *run
	return &copied, nil
}

func (j *memoryJournal) Update(_ context.Context, run *Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	copied := *run
	j.runs[run.BatchName] = &copied
	return nil
}

type memoryReports struct {
	reports []*scholarship.PaymentReport
}

func (m *memoryReports) UpsertPaid(_ context.Context, r *scholarship.PaymentReport) error {
	m.reports = append(m.reports, r)
	return nil
}

func (m *memoryReports) GetByKey(context.Context, shared.CourseID, shared.GuideNumber, shared.StudentAddress) (*scholarship.PaymentReport, error) {
	return nil, nil
}

func (m *memoryReports) ListByStudent(context.Context, shared.StudentAddress, int) ([]*scholarship.PaymentReport, error) {
	return nil, nil
}

func (m *memoryReports) ListAll(context.Context) ([]*scholarship.PaymentReport, error) {
	return m.reports, nil
}

func (m *memoryReports) TotalPaid(context.Context) (shared.Amount, error) {
	var total shared.Amount
	for _, r := range m.reports {
		total += r.AmountPaid
	}
	return total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

type migrationFixture struct {
	reconciler   *Reconciler
	sourceClient *settlement.DevnetClient
	targetClient *settlement.DevnetClient
	source       *settlement.RemoteLedger
	target       *settlement.RemoteLedger
	sourceSigner settlement.Signer
	targetSigner settlement.Signer
	journal      *memoryJournal
	reports      *memoryReports
}

func newMigrationFixture(t *testing.T) *migrationFixture {
	t.Helper()

	cfg := settlement.Config{
		NetworkID:         "devnet",
		ConfirmationDepth: 1,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   5,
	}

	sourceSigner := settlement.NewSigner("old-contract-credential")
	sourceState := ledger.New(shared.Address(sourceSigner.Address))
	sourceClient := settlement.NewDevnetClient(sourceState)
	source := settlement.NewRemoteLedger(sourceClient, settlement.NewSubmitter(sourceClient, cfg, nil), sourceSigner, nil)

	targetSigner := settlement.NewSigner("new-contract-credential")
	targetState := ledger.New(shared.Address(targetSigner.Address))
	targetClient := settlement.NewDevnetClient(targetState)
	target := settlement.NewRemoteLedger(targetClient, settlement.NewSubmitter(targetClient, cfg, nil), targetSigner, nil)

	journal := newMemoryJournal()
	reports := &memoryReports{}

	reconciler := NewReconciler(
		source, target,
		shared.Address(targetSigner.Address),
		reports, journal,
		nil, nil, nil,
	)

	return &migrationFixture{
		reconciler:   reconciler,
		sourceClient: sourceClient,
		targetClient: targetClient,
		source:       source,
		target:       target,
		sourceSigner: sourceSigner,
		targetSigner: targetSigner,
		journal:      journal,
		reports:      reports,
	}
}

// seedSource provisions two funded vaults and one historical payment. The
// payment exists both as an old-ledger fact and as a report row, the way a
// confirmed coordinator payout leaves the system.
func (f *migrationFixture) seedSource(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.source.CreateVault(ctx, 1, 2_000000))
	require.NoError(t, f.source.Deposit(ctx, 1, shared.DefaultCurrency, 10_000000))
	require.NoError(t, f.source.CreateVault(ctx, 2, 1_000000))
	require.NoError(t, f.source.Deposit(ctx, 2, shared.DefaultCurrency, 4_000000))

	require.NoError(t, f.sourceClient.State().SetGuidePaid(
		shared.Address(f.sourceSigner.Address), 1, 3, migratedStudent, 2_000000,
	))

	f.reports.reports = []*scholarship.PaymentReport{
		{
			CourseID:    1,
			GuideNumber: 3,
			Student:     migratedStudent,
			AmountPaid:  2_000000,
			Currency:    shared.DefaultCurrency,
			TxID:        "tx-historical-1",
			PaidAt:      time.Now().UTC(),
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRunMigratesFundsVaultsAndPayments(t *testing.T) {
	f := newMigrationFixture(t)
	f.seedSource(t)
	ctx := context.Background()

	run, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	require.True(t, run.Completed())

	assert.Equal(t, shared.Amount(14_000000), run.DrainedAmount)
	assert.Equal(t, 2, run.VaultsRecreated)
	assert.Equal(t, 1, run.PaymentsReplayed)
	require.NotNil(t, run.CompletedAt)

	// Old ledger is empty; drained funds sit on the new contract's account.
	assert.Equal(t, shared.Amount(0), f.sourceClient.State().TotalBalance())
	assert.Equal(t, shared.Amount(14_000000), f.sourceClient.State().AccountBalance(shared.Address(f.targetSigner.Address)))

	// New ledger carries the old balances and payout configuration.
	v1 := f.targetClient.State().Vault(1)
	require.True(t, v1.Exists)
	assert.Equal(t, shared.Amount(2_000000), v1.AmountPerGuide)
	assert.Equal(t, shared.Amount(10_000000), v1.Balances[shared.DefaultCurrency])

	v2 := f.targetClient.State().Vault(2)
	require.True(t, v2.Exists)
	assert.Equal(t, shared.Amount(4_000000), v2.Balances[shared.DefaultCurrency])

	// The historical payment key is closed on the new ledger.
	assert.Equal(t, shared.Amount(2_000000), f.targetClient.State().GuidePaid(1, 3, migratedStudent))
}

func TestRunIsIdempotentAfterCompletion(t *testing.T) {
	f := newMigrationFixture(t)
	f.seedSource(t)
	ctx := context.Background()

	first, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	require.True(t, first.Completed())

	second, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	assert.True(t, second.Completed())
	assert.Equal(t, first.DrainedAmount, second.DrainedAmount)
	assert.Equal(t, first.PaymentsReplayed, second.PaymentsReplayed)

	// No double-replay on the new ledger.
	assert.Equal(t, shared.Amount(2_000000), f.targetClient.State().GuidePaid(1, 3, migratedStudent))
}

func TestRunResumesFromFailedStep(t *testing.T) {
	f := newMigrationFixture(t)
	f.seedSource(t)
	ctx := context.Background()

	// The new ledger stops confirming; the batch must halt at vault
	// recreation with its progress journaled.
	f.targetClient.HoldConfirmations(true)

	run, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConfirmationTimeout)
	assert.Equal(t, StepRecreateVaults, run.CurrentStep)
	assert.NotEmpty(t, run.LastError)
	assert.Equal(t, shared.Amount(14_000000), run.DrainedAmount)

	// Drain and transfer already happened and must not repeat on resume.
	assert.Equal(t, shared.Amount(0), f.sourceClient.State().TotalBalance())

	f.targetClient.HoldConfirmations(false)

	resumed, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	assert.True(t, resumed.Completed())
	assert.Equal(t, shared.Amount(14_000000), resumed.DrainedAmount)
	assert.Equal(t, 2, resumed.VaultsRecreated)
	assert.Equal(t, shared.Amount(14_000000), f.sourceClient.State().AccountBalance(shared.Address(f.targetSigner.Address)))

	// The resumed run funds vaults from the journaled snapshots, not from
	// the old ledger's now-zeroed balances.
	assert.Equal(t, shared.Amount(10_000000), f.targetClient.State().Vault(1).Balances[shared.DefaultCurrency])
	assert.Equal(t, shared.Amount(4_000000), f.targetClient.State().Vault(2).Balances[shared.DefaultCurrency])
}

func TestRunSkipsAlreadyReplayedPayments(t *testing.T) {
	f := newMigrationFixture(t)
	f.seedSource(t)
	ctx := context.Background()

	// The key already exists on the new ledger from an earlier attempt.
	require.NoError(t, f.targetClient.State().SetGuidePaid(
		shared.Address(f.targetSigner.Address), 1, 3, migratedStudent, 2_000000,
	))

	run, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	assert.Equal(t, 0, run.PaymentsReplayed)
	assert.Equal(t, shared.Amount(2_000000), f.targetClient.State().GuidePaid(1, 3, migratedStudent))
}

func TestRunIgnoresReportRowsWithoutLedgerFact(t *testing.T) {
	f := newMigrationFixture(t)
	f.seedSource(t)
	ctx := context.Background()

	// A stale report row the old ledger never paid. Importing it would
	// permanently block a legitimate payment on the new ledger.
	f.reports.reports = append(f.reports.reports, &scholarship.PaymentReport{
		CourseID:    2,
		GuideNumber: 9,
		Student:     migratedStudent,
		AmountPaid:  1_000000,
		Currency:    shared.DefaultCurrency,
		TxID:        "tx-phantom",
		PaidAt:      time.Now().UTC(),
	})

	run, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	assert.Equal(t, 1, run.PaymentsReplayed)
	assert.Equal(t, shared.Amount(0), f.targetClient.State().GuidePaid(2, 9, migratedStudent))
}

func TestRunReplaysOldLedgerAmountNotReportAmount(t *testing.T) {
	f := newMigrationFixture(t)
	f.seedSource(t)
	ctx := context.Background()

	// The mirror drifted; the old ledger's fact is authoritative.
	f.reports.reports[0].AmountPaid = 9_999999

	run, err := f.reconciler.Run(ctx, "batch-2026-03")
	require.NoError(t, err)
	assert.Equal(t, 1, run.PaymentsReplayed)
	assert.Equal(t, shared.Amount(2_000000), f.targetClient.State().GuidePaid(1, 3, migratedStudent))
}

func TestRunRequiresBatchName(t *testing.T) {
	f := newMigrationFixture(t)

	_, err := f.reconciler.Run(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrEmptyValue)
}

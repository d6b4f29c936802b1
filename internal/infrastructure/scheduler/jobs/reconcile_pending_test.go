package jobs

import (
	"context"
	"fmt"
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

const auditStudent = shared.StudentAddress("0x00000000000000000000000000000000000000cc")

type memReportRepo struct {
	mu      sync.Mutex
	reports map[string]*scholarship.PaymentReport
}

func newMemReportRepo() *memReportRepo {
	return &memReportRepo{reports: make(map[string]*scholarship.PaymentReport)}
}

func reportKey(c shared.CourseID, g shared.GuideNumber, s shared.StudentAddress) string {
	return fmt.Sprintf("%d/%d/%s", c, g, s)
}

func (m *memReportRepo) UpsertPaid(_ context.Context, r *scholarship.PaymentReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[reportKey(r.CourseID, r.GuideNumber, r.Student)] = r
	return nil
}

func (m *memReportRepo) GetByKey(_ context.Context, c shared.CourseID, g shared.GuideNumber, s shared.StudentAddress) (*scholarship.PaymentReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[reportKey(c, g, s)], nil
}

func (m *memReportRepo) ListByStudent(context.Context, shared.StudentAddress, int) ([]*scholarship.PaymentReport, error) {
	return nil, nil
}

func (m *memReportRepo) ListAll(context.Context) ([]*scholarship.PaymentReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*scholarship.PaymentReport, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	return out, nil
}

func (m *memReportRepo) TotalPaid(context.Context) (shared.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total shared.Amount
	for _, r := range m.reports {
		total += r.AmountPaid
	}
	return total, nil
}

type memPendingRepo struct {
	mu  sync.Mutex
	txs map[string]*scholarship.PendingTransaction
}

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{txs: make(map[string]*scholarship.PendingTransaction)}
}

func (m *memPendingRepo) Insert(_ context.Context, tx *scholarship.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.TxID]; ok {
		return nil
	}
	if tx.Status == "" {
		tx.Status = scholarship.PendingStatusPending
	}
	m.txs[tx.TxID] = tx
	return nil
}

func (m *memPendingRepo) ListPending(_ context.Context, _ int) ([]*scholarship.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Copies, matching the row-scan semantics of the real repository.
	var out []*scholarship.PendingTransaction
	for _, tx := range m.txs {
		if tx.Status == scholarship.PendingStatusPending {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memPendingRepo) MarkChecked(_ context.Context, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txID]; ok {
		tx.Attempts++
	}
	return nil
}

func (m *memPendingRepo) Resolve(_ context.Context, txID string, status scholarship.PendingTxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txID]; ok && tx.Status == scholarship.PendingStatusPending {
		tx.Status = status
	}
	return nil
}

func (m *memPendingRepo) status(txID string) scholarship.PendingTxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txID]; ok {
		return tx.Status
	}
	return ""
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

type reconcileFixture struct {
	job     *ReconcilePendingJob
	client  *settlement.DevnetClient
	remote  *settlement.RemoteLedger
	signer  settlement.Signer
	pending *memPendingRepo
	reports *memReportRepo
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()

	signer := settlement.NewSigner("platform-test-credential")
	state := ledger.New(shared.Address(signer.Address))
	client := settlement.NewDevnetClient(state)

	cfg := settlement.Config{
		NetworkID:         "devnet",
		ConfirmationDepth: 1,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   3,
	}
	submitter := settlement.NewSubmitter(client, cfg, nil)
	remote := settlement.NewRemoteLedger(client, submitter, signer, nil)

	pending := newMemPendingRepo()
	reports := newMemReportRepo()

	job := NewReconcilePendingJob(
		pending, reports, remote, client, nil, nil,
		ReconcilePendingConfig{BatchSize: 10, MaxAttempts: 3, ConfirmationDepth: 1},
	)

	return &reconcileFixture{
		job:     job,
		client:  client,
		remote:  remote,
		signer:  signer,
		pending: pending,
		reports: reports,
	}
}

// submitUnconfirmed drives a paid submission through a held confirmation so
// it lands on the ledger but times out for its caller.
func (f *reconcileFixture) submitUnconfirmed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.remote.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, f.remote.Deposit(ctx, 7, shared.DefaultCurrency, 10_000000))

	f.client.HoldConfirmations(true)

	cfg := settlement.Config{
		NetworkID:         "devnet",
		ConfirmationDepth: 1,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   3,
	}
	sub := settlement.NewSubmitter(f.client, cfg, nil)
	call := settlement.Call{
		Function: settlement.FnSubmitGuideResult,
		Args:     []interface{}{uint64(7), uint64(3), string(auditStudent), true, uint64(80)},
	}
	result, err := sub.Submit(ctx, call, f.signer)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeUnknown, result.Outcome)

	require.NoError(t, f.pending.Insert(ctx, &scholarship.PendingTransaction{
		TxID:          result.TxID,
		Function:      settlement.FnSubmitGuideResult,
		CourseID:      7,
		GuideNumber:   3,
		Student:       auditStudent,
		IsCorrect:     true,
		CorrelationID: "corr-1",
		SubmittedAt:   time.Now().UTC(),
	}))

	return result.TxID
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRunSettlesConfirmedPayment(t *testing.T) {
	f := newReconcileFixture(t)
	txID := f.submitUnconfirmed(t)
	ctx := context.Background()

	f.client.HoldConfirmations(false)

	require.NoError(t, f.job.Run(ctx))

	assert.Equal(t, scholarship.PendingStatusConfirmed, f.pending.status(txID))

	report, err := f.reports.GetByKey(ctx, 7, 3, auditStudent)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, shared.Amount(2_000000), report.AmountPaid)
	assert.Equal(t, scholarship.SourceReconcile, report.Source)
	assert.Equal(t, txID, report.TxID)
	assert.Equal(t, "corr-1", report.CorrelationID)
}

func TestRunLeavesHeldTransactionsPending(t *testing.T) {
	f := newReconcileFixture(t)
	txID := f.submitUnconfirmed(t)
	ctx := context.Background()

	// Confirmations still held: one run must not resolve anything.
	require.NoError(t, f.job.Run(ctx))
	assert.Equal(t, scholarship.PendingStatusPending, f.pending.status(txID))

	report, err := f.reports.GetByKey(ctx, 7, 3, auditStudent)
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestRunAbandonsAfterMaxAttempts(t *testing.T) {
	f := newReconcileFixture(t)
	txID := f.submitUnconfirmed(t)
	ctx := context.Background()

	// MaxAttempts is 3; the held transaction exhausts its budget.
	require.NoError(t, f.job.Run(ctx))
	require.NoError(t, f.job.Run(ctx))
	require.NoError(t, f.job.Run(ctx))

	assert.Equal(t, scholarship.PendingStatusAbandoned, f.pending.status(txID))
}

func TestRunAbandonsUnknownTransaction(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pending.Insert(ctx, &scholarship.PendingTransaction{
		TxID:        "0xdeadbeef",
		Function:    settlement.FnSubmitGuideResult,
		CourseID:    7,
		GuideNumber: 3,
		Student:     auditStudent,
		SubmittedAt: time.Now().UTC(),
	}))

	require.NoError(t, f.job.Run(ctx))
	require.NoError(t, f.job.Run(ctx))
	require.NoError(t, f.job.Run(ctx))

	assert.Equal(t, scholarship.PendingStatusAbandoned, f.pending.status("0xdeadbeef"))
}

func TestVaultAuditFlagsMismatch(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	require.NoError(t, f.remote.CreateVault(ctx, 7, 2_000000))
	require.NoError(t, f.remote.Deposit(ctx, 7, shared.DefaultCurrency, 10_000000))

	// A report row the ledger does not back.
	require.NoError(t, f.reports.UpsertPaid(ctx, &scholarship.PaymentReport{
		CourseID:    7,
		GuideNumber: 9,
		Student:     auditStudent,
		AmountPaid:  2_000000,
		TxID:        "tx-phantom",
		PaidAt:      time.Now().UTC(),
	}))

	audit := NewVaultAuditJob(f.remote, f.reports, nil)
	// Detection only: mismatches are logged, the run itself succeeds.
	require.NoError(t, audit.Run(ctx))
}

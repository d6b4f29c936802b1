package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/internal/ledger"
	"github.com/edubeca/scholarship-hub/internal/settlement"
)

const testStudent = shared.StudentAddress("0x00000000000000000000000000000000000000aa")

// ─────────────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────────────

type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[vault.PaymentKey]*scholarship.PaymentReport
	failUps bool
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: make(map[vault.PaymentKey]*scholarship.PaymentReport)}
}

func (f *fakeReportRepo) UpsertPaid(_ context.Context, r *scholarship.PaymentReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUps {
		return assert.AnError
	}
	key := vault.PaymentKey{CourseID: r.CourseID, GuideNumber: r.GuideNumber, Student: r.Student}
	f.reports[key] = r
	return nil
}

func (f *fakeReportRepo) GetByKey(_ context.Context, c shared.CourseID, g shared.GuideNumber, s shared.StudentAddress) (*scholarship.PaymentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[vault.PaymentKey{CourseID: c, GuideNumber: g, Student: s}], nil
}

func (f *fakeReportRepo) ListByStudent(_ context.Context, s shared.StudentAddress, _ int) ([]*scholarship.PaymentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*scholarship.PaymentReport
	for _, r := range f.reports {
		if r.Student == s {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportRepo) ListAll(_ context.Context) ([]*scholarship.PaymentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*scholarship.PaymentReport
	for _, r := range f.reports {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeReportRepo) TotalPaid(_ context.Context) (shared.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total shared.Amount
	for _, r := range f.reports {
		total += r.AmountPaid
	}
	return total, nil
}

type fakePendingRepo struct {
	mu  sync.Mutex
	txs map[string]*scholarship.PendingTransaction
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{txs: make(map[string]*scholarship.PendingTransaction)}
}

func (f *fakePendingRepo) Insert(_ context.Context, tx *scholarship.PendingTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.txs[tx.TxID]; exists {
		return nil
	}
	if tx.Status == "" {
		tx.Status = scholarship.PendingStatusPending
	}
	f.txs[tx.TxID] = tx
	return nil
}

func (f *fakePendingRepo) ListPending(_ context.Context, _ int) ([]*scholarship.PendingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*scholarship.PendingTransaction
	for _, tx := range f.txs {
		if tx.Status == scholarship.PendingStatusPending {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakePendingRepo) MarkChecked(_ context.Context, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.txs[txID]; ok {
		tx.Attempts++
	}
	return nil
}

func (f *fakePendingRepo) Resolve(_ context.Context, txID string, status scholarship.PendingTxStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.txs[txID]; ok && tx.Status == scholarship.PendingStatusPending {
		tx.Status = status
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (f *fakePublisher) Publish(event shared.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) typesSeen() []shared.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]shared.EventType, len(f.events))
	for i, e := range f.events {
		types[i] = e.EventType()
	}
	return types
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

type coordinatorFixture struct {
	handler *ProcessSubmissionHandler
	client  *settlement.DevnetClient
	ledger  *settlement.RemoteLedger
	reports *fakeReportRepo
	pending *fakePendingRepo
	bus     *fakePublisher
	clock   *testClock
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	signer := settlement.NewSigner("platform-test-credential")
	state := ledger.New(shared.Address(signer.Address), ledger.WithClock(clock.Now))
	client := settlement.NewDevnetClient(state)

	cfg := settlement.Config{
		NetworkID:         "devnet",
		ConfirmationDepth: 1,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   5,
	}
	submitter := settlement.NewSubmitter(client, cfg, nil)
	remote := settlement.NewRemoteLedger(client, submitter, signer, nil)

	reports := newFakeReportRepo()
	pending := newFakePendingRepo()
	bus := &fakePublisher{}

	handler := NewProcessSubmissionHandler(
		remote, submitter, signer,
		nil, // cache disabled
		reports, pending, bus, nil,
		DefaultProcessSubmissionHandlerConfig(),
	)

	return &coordinatorFixture{
		handler: handler,
		client:  client,
		ledger:  remote,
		reports: reports,
		pending: pending,
		bus:     bus,
		clock:   clock,
	}
}

func (f *coordinatorFixture) fundVault(t *testing.T, courseID shared.CourseID, perGuide, balance shared.Amount) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.CreateVault(ctx, courseID, perGuide))
	if balance > 0 {
		require.NoError(t, f.ledger.Deposit(ctx, courseID, shared.DefaultCurrency, balance))
	}
}

func submission(isCorrect bool, score shared.ProfileScore) ProcessSubmissionCommand {
	return ProcessSubmissionCommand{
		CourseID:     7,
		GuideNumber:  3,
		Student:      testStudent,
		IsCorrect:    isCorrect,
		ProfileScore: score,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestHandlePaysCorrectSubmission(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)

	receipt, err := f.handler.Handle(context.Background(), submission(true, 80))
	require.NoError(t, err)

	assert.Equal(t, scholarship.StatusPaid, receipt.Status)
	assert.Equal(t, shared.Amount(2_000000), receipt.AmountPaid)
	assert.NotEmpty(t, receipt.TxID)
	assert.NotEmpty(t, receipt.CorrelationID)

	report, err := f.reports.GetByKey(context.Background(), 7, 3, testStudent)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, shared.Amount(2_000000), report.AmountPaid)
	assert.Equal(t, scholarship.SourceCoordinator, report.Source)
	assert.Equal(t, receipt.TxID, report.TxID)

	assert.Contains(t, f.bus.typesSeen(), shared.EventScholarshipReleased)
}

func TestHandleGatesLowProfileScore(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)

	receipt, err := f.handler.Handle(context.Background(), submission(true, 49))
	require.NoError(t, err)
	assert.Equal(t, scholarship.StatusScoreTooLow, receipt.Status)
	assert.Empty(t, receipt.TxID)

	// The gate fires before any ledger call: no cooldown was started.
	assert.True(t, f.client.State().StudentCanSubmit(7, testStudent))
	assert.Equal(t, shared.Amount(0), f.client.State().GuidePaid(7, 3, testStudent))
}

func TestHandleScoreAtMinimumPasses(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)

	receipt, err := f.handler.Handle(context.Background(), submission(true, 50))
	require.NoError(t, err)
	assert.Equal(t, scholarship.StatusPaid, receipt.Status)
}

func TestHandleReportsCooldown(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)
	ctx := context.Background()

	first, err := f.handler.Handle(ctx, submission(false, 80))
	require.NoError(t, err)
	require.Equal(t, scholarship.StatusIncorrect, first.Status)

	second, err := f.handler.Handle(ctx, submission(true, 80))
	require.NoError(t, err)
	assert.Equal(t, scholarship.StatusCooldown, second.Status)
	assert.Equal(t, shared.Amount(0), f.client.State().GuidePaid(7, 3, testStudent))
}

func TestHandleIncorrectConsumesCooldown(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)

	receipt, err := f.handler.Handle(context.Background(), submission(false, 80))
	require.NoError(t, err)

	assert.Equal(t, scholarship.StatusIncorrect, receipt.Status)
	assert.Equal(t, shared.Amount(0), receipt.AmountPaid)
	assert.False(t, f.client.State().StudentCanSubmit(7, testStudent))
	assert.Contains(t, f.bus.typesSeen(), shared.EventScholarshipSkipped)
}

func TestHandleVaultDrained(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 1_000000) // below one payout

	receipt, err := f.handler.Handle(context.Background(), submission(true, 80))
	require.NoError(t, err)

	assert.Equal(t, scholarship.StatusVaultDrained, receipt.Status)
	assert.Equal(t, shared.Amount(0), receipt.AmountPaid)
	// Cooldown consumed, guide stays payable after refunding.
	assert.False(t, f.client.State().StudentCanSubmit(7, testStudent))
	assert.Equal(t, shared.Amount(0), f.client.State().GuidePaid(7, 3, testStudent))
}

func TestHandleAlreadyPaidAfterCooldown(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)
	ctx := context.Background()

	first, err := f.handler.Handle(ctx, submission(true, 80))
	require.NoError(t, err)
	require.Equal(t, scholarship.StatusPaid, first.Status)

	f.clock.Advance(25 * time.Hour)

	second, err := f.handler.Handle(ctx, submission(true, 80))
	require.NoError(t, err)
	assert.Equal(t, scholarship.StatusAlreadyPaid, second.Status)

	// The duplicate never touched the books.
	total, err := f.reports.TotalPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, shared.Amount(2_000000), total)
}

func TestHandleUnknownOutcomeQueuesReconcile(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.fundVault(t, 7, 2_000000, 10_000000)

	f.client.HoldConfirmations(true)

	receipt, err := f.handler.Handle(context.Background(), submission(true, 80))
	require.NoError(t, err)

	assert.Equal(t, scholarship.StatusPaidUnconfirmed, receipt.Status)
	assert.NotEmpty(t, receipt.TxID)

	queued, err := f.pending.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, receipt.TxID, queued[0].TxID)
	assert.Equal(t, shared.CourseID(7), queued[0].CourseID)
	assert.True(t, queued[0].IsCorrect)

	assert.Contains(t, f.bus.typesSeen(), shared.EventTxUnconfirmed)
}

func TestHandleRejectsInvalidSubmission(t *testing.T) {
	f := newCoordinatorFixture(t)

	cmd := submission(true, 80)
	cmd.CourseID = 0

	_, err := f.handler.Handle(context.Background(), cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestHandleMissingVaultIsError(t *testing.T) {
	f := newCoordinatorFixture(t)

	receipt, err := f.handler.Handle(context.Background(), submission(true, 80))
	require.NoError(t, err)
	assert.Equal(t, scholarship.StatusError, receipt.Status)
	assert.NotEmpty(t, receipt.Reason)
}

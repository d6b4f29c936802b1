package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubeca/scholarship-hub/internal/application/command"
	"github.com/edubeca/scholarship-hub/internal/application/query"
	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/interface/http/handlers"
	"github.com/edubeca/scholarship-hub/internal/ledger"
	"github.com/edubeca/scholarship-hub/internal/settlement"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

const apiStudent = "0x00000000000000000000000000000000000000aa"

// ─────────────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────────────

type apiReportRepo struct {
	mu      sync.Mutex
	reports map[string]*scholarship.PaymentReport
}

func newAPIReportRepo() *apiReportRepo {
	return &apiReportRepo{reports: make(map[string]*scholarship.PaymentReport)}
}

func apiReportKey(c shared.CourseID, g shared.GuideNumber, s shared.StudentAddress) string {
	return fmt.Sprintf("%d/%d/%s", c, g, s)
}

func (m *apiReportRepo) UpsertPaid(_ context.Context, r *scholarship.PaymentReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[apiReportKey(r.CourseID, r.GuideNumber, r.Student)] = r
	return nil
}

func (m *apiReportRepo) GetByKey(_ context.Context, c shared.CourseID, g shared.GuideNumber, s shared.StudentAddress) (*scholarship.PaymentReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[apiReportKey(c, g, s)], nil
}

func (m *apiReportRepo) ListByStudent(_ context.Context, s shared.StudentAddress, _ int) ([]*scholarship.PaymentReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scholarship.PaymentReport
	for _, r := range m.reports {
		if r.Student == s {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *apiReportRepo) ListAll(context.Context) ([]*scholarship.PaymentReport, error) {
	return nil, nil
}

func (m *apiReportRepo) TotalPaid(context.Context) (shared.Amount, error) {
	return 0, nil
}

type apiPendingRepo struct{}

func (apiPendingRepo) Insert(context.Context, *scholarship.PendingTransaction) error {
	return nil
}

func (apiPendingRepo) ListPending(context.Context, int) ([]*scholarship.PendingTransaction, error) {
	return nil, nil
}

func (apiPendingRepo) MarkChecked(context.Context, string) error { return nil }

func (apiPendingRepo) Resolve(context.Context, string, scholarship.PendingTxStatus) error {
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

const adminKey = "test-admin-key"

type serverFixture struct {
	ts      *httptest.Server
	remote  *settlement.RemoteLedger
	reports *apiReportRepo
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	log := logger.New(logger.Options{Output: io.Discard})

	signer := settlement.NewSigner("platform-test-credential")
	state := ledger.New(shared.Address(signer.Address))
	client := settlement.NewDevnetClient(state)

	cfg := settlement.Config{
		NetworkID:         "devnet",
		ConfirmationDepth: 1,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   5,
	}
	submitter := settlement.NewSubmitter(client, cfg, log)
	remote := settlement.NewRemoteLedger(client, submitter, signer, log)

	reports := newAPIReportRepo()

	deps := Dependencies{
		ProcessSubmissionHandler: command.NewProcessSubmissionHandler(
			remote, submitter, signer, nil, reports, apiPendingRepo{}, nil, log,
			command.DefaultProcessSubmissionHandlerConfig(),
		),
		CreateVaultHandler: command.NewCreateVaultHandler(remote, nil, log),
		DepositHandler:     command.NewDepositHandler(remote, nil, log),

		GetVaultStatusHandler:    query.NewGetVaultStatusHandler(remote),
		GetGuideStatusHandler:    query.NewGetGuideStatusHandler(remote, nil),
		GetPaymentHistoryHandler: query.NewGetPaymentHistoryHandler(reports),

		Logger:        log,
		HealthChecker: handlers.NewNoopHealthChecker(),
	}

	serverCfg := DefaultConfig()
	serverCfg.APIKeys = []string{adminKey}
	serverCfg.RateLimitPerMinute = 0

	srv := NewServer(serverCfg, deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, remote: remote, reports: reports}
}

func (f *serverFixture) post(t *testing.T, path, key string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	return resp, decodeEnvelope(t, resp)
}

func (f *serverFixture) get(t *testing.T, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	resp, err := f.ts.Client().Get(f.ts.URL + path)
	require.NoError(t, err)
	return resp, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func unmarshalData(t *testing.T, envelope map[string]json.RawMessage, dst interface{}) {
	t.Helper()
	require.Contains(t, envelope, "data")
	require.NoError(t, json.Unmarshal(envelope["data"], dst))
}

func (f *serverFixture) createFundedVault(t *testing.T, courseID, amountPerGuide, deposit uint64) {
	t.Helper()

	resp, _ := f.post(t, "/api/v1/vaults", adminKey, CreateVaultRequest{
		CourseID:       courseID,
		AmountPerGuide: amountPerGuide,
		InitialDeposit: deposit,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestSubmissionEndpointPaysCorrectSubmission(t *testing.T) {
	f := newServerFixture(t)
	f.createFundedVault(t, 1, 2_000000, 10_000000)

	resp, envelope := f.post(t, "/api/v1/submissions", "", SubmissionRequest{
		CourseID:     1,
		GuideNumber:  3,
		Student:      apiStudent,
		IsCorrect:    true,
		ProfileScore: 80,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result SubmissionResponse
	unmarshalData(t, envelope, &result)
	assert.Equal(t, string(scholarship.StatusPaid), result.Status)
	assert.Equal(t, uint64(2_000000), result.AmountPaid)
	assert.NotEmpty(t, result.TxID)
	assert.NotEmpty(t, result.CorrelationID)
}

func TestSubmissionEndpointReportsCooldown(t *testing.T) {
	f := newServerFixture(t)
	f.createFundedVault(t, 1, 2_000000, 10_000000)

	req := SubmissionRequest{
		CourseID:     1,
		GuideNumber:  3,
		Student:      apiStudent,
		IsCorrect:    false,
		ProfileScore: 80,
	}

	resp, _ := f.post(t, "/api/v1/submissions", "", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := f.post(t, "/api/v1/submissions", "", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result SubmissionResponse
	unmarshalData(t, envelope, &result)
	assert.Equal(t, string(scholarship.StatusCooldown), result.Status)
}

func TestSubmissionEndpointRejectsMalformedBody(t *testing.T) {
	f := newServerFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/submissions",
		bytes.NewReader([]byte(`{"course_id": "not-a-number"`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionEndpointRejectsInvalidStudent(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.post(t, "/api/v1/submissions", "", SubmissionRequest{
		CourseID:     1,
		GuideNumber:  3,
		Student:      "not-an-address",
		IsCorrect:    true,
		ProfileScore: 80,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVaultAdminRequiresAPIKey(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.post(t, "/api/v1/vaults", "", CreateVaultRequest{
		CourseID:       1,
		AmountPerGuide: 2_000000,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.post(t, "/api/v1/vaults", "wrong-key", CreateVaultRequest{
		CourseID:       1,
		AmountPerGuide: 2_000000,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateVaultConflictOnDuplicate(t *testing.T) {
	f := newServerFixture(t)
	f.createFundedVault(t, 1, 2_000000, 0)

	resp, _ := f.post(t, "/api/v1/vaults", adminKey, CreateVaultRequest{
		CourseID:       1,
		AmountPerGuide: 2_000000,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDepositEndpointFundsVault(t *testing.T) {
	f := newServerFixture(t)
	f.createFundedVault(t, 1, 2_000000, 0)

	resp, _ := f.post(t, "/api/v1/vaults/1/deposits", adminKey, DepositRequest{
		Amount: 6_000000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := f.get(t, "/api/v1/vaults/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view query.VaultStatusView
	unmarshalData(t, envelope, &view)
	assert.Equal(t, shared.Amount(6_000000), view.Balances[shared.DefaultCurrency])
	assert.Equal(t, uint64(3), view.GuidesCoverable)
}

func TestVaultStatusNotFound(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.get(t, "/api/v1/vaults/99")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGuideStatusAndPaymentHistory(t *testing.T) {
	f := newServerFixture(t)
	f.createFundedVault(t, 1, 2_000000, 10_000000)

	resp, _ := f.post(t, "/api/v1/submissions", "", SubmissionRequest{
		CourseID:     1,
		GuideNumber:  3,
		Student:      apiStudent,
		IsCorrect:    true,
		ProfileScore: 80,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := f.get(t, "/api/v1/vaults/1/guides/3/students/"+apiStudent)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var guideView query.GuideStatusView
	unmarshalData(t, envelope, &guideView)
	assert.Equal(t, shared.Amount(2_000000), guideView.PaidAmount)
	assert.False(t, guideView.CanSubmit)

	resp, envelope = f.get(t, "/api/v1/students/"+apiStudent+"/payments")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history query.PaymentHistoryView
	unmarshalData(t, envelope, &history)
	require.Len(t, history.Payments, 1)
	assert.Equal(t, shared.Amount(2_000000), history.TotalPaid)
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp, envelope := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status handlers.HealthStatus
	unmarshalData(t, envelope, &status)
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
}

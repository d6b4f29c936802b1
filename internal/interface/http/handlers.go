// Package http implements the REST intake and administration API of the
// scholarship hub.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/edubeca/scholarship-hub/internal/application/command"
	"github.com/edubeca/scholarship-hub/internal/application/query"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Scholarship Hub API",
		"version":     "v1",
		"description": "Submission intake and vault administration for the scholarship coordinator",
		"endpoints": map[string]string{
			"health":      "/health",
			"submissions": "/api/v1/submissions",
			"vaults":      "/api/v1/vaults/{courseID}",
			"payments":    "/api/v1/students/{student}/payments",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION INTAKE
// ══════════════════════════════════════════════════════════════════════════════

// SubmissionRequest is the intake payload for one graded submission.
type SubmissionRequest struct {
	CourseID      uint64 `json:"course_id"`
	GuideNumber   uint64 `json:"guide_number"`
	Student       string `json:"student"`
	IsCorrect     bool   `json:"is_correct"`
	ProfileScore  uint64 `json:"profile_score"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SubmissionResponse mirrors the coordinator receipt.
type SubmissionResponse struct {
	Status        string `json:"status"`
	AmountPaid    uint64 `json:"amount_paid"`
	TxID          string `json:"tx_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// handleProcessSubmission handles POST /api/v1/submissions.
// Every accepted submission yields a definite receipt; 200 covers declined
// outcomes like cooldown or a too-low score, since the submission itself was
// evaluated.
func (s *Server) handleProcessSubmission(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProcessSubmissionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Submission handler not configured")
		return
	}

	var req SubmissionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cmd := command.ProcessSubmissionCommand{
		CourseID:      shared.CourseID(req.CourseID),
		GuideNumber:   shared.GuideNumber(req.GuideNumber),
		Student:       shared.StudentAddress(req.Student),
		IsCorrect:     req.IsCorrect,
		ProfileScore:  shared.ProfileScore(req.ProfileScore),
		CorrelationID: req.CorrelationID,
	}

	receipt, err := s.deps.ProcessSubmissionHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.logger.Error("submission processing failed", logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())))
		status, code := mapDomainError(err)
		writeJSONError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SubmissionResponse{
		Status:        string(receipt.Status),
		AmountPaid:    uint64(receipt.AmountPaid),
		TxID:          receipt.TxID,
		Reason:        receipt.Reason,
		CorrelationID: receipt.CorrelationID,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// VAULT ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// CreateVaultRequest is the payload for provisioning a course vault.
type CreateVaultRequest struct {
	CourseID       uint64 `json:"course_id"`
	AmountPerGuide uint64 `json:"amount_per_guide"`
	InitialDeposit uint64 `json:"initial_deposit,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// handleCreateVault handles POST /api/v1/vaults.
func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateVaultHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Vault handler not configured")
		return
	}

	var req CreateVaultRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cmd := command.CreateVaultCommand{
		CourseID:       shared.CourseID(req.CourseID),
		AmountPerGuide: shared.Amount(req.AmountPerGuide),
		InitialDeposit: shared.Amount(req.InitialDeposit),
		CorrelationID:  req.CorrelationID,
	}

	result, err := s.deps.CreateVaultHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.logger.Error("vault creation failed", logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())))
		status, code := mapDomainError(err)
		writeJSONError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// DepositRequest is the payload for funding a course vault.
type DepositRequest struct {
	Currency      string `json:"currency,omitempty"`
	Amount        uint64 `json:"amount"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// handleDeposit handles POST /api/v1/vaults/{courseID}/deposits.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if s.deps.DepositHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Deposit handler not configured")
		return
	}

	courseID, ok := parseCourseID(w, r)
	if !ok {
		return
	}

	var req DepositRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cmd := command.DepositCommand{
		CourseID:      courseID,
		Currency:      shared.Currency(req.Currency),
		Amount:        shared.Amount(req.Amount),
		CorrelationID: req.CorrelationID,
	}

	result, err := s.deps.DepositHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.logger.Error("deposit failed", logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())))
		status, code := mapDomainError(err)
		writeJSONError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ SIDE
// ══════════════════════════════════════════════════════════════════════════════

// handleGetVaultStatus handles GET /api/v1/vaults/{courseID}.
func (s *Server) handleGetVaultStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetVaultStatusHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Vault status handler not configured")
		return
	}

	courseID, ok := parseCourseID(w, r)
	if !ok {
		return
	}

	view, err := s.deps.GetVaultStatusHandler.Handle(r.Context(), query.GetVaultStatusQuery{CourseID: courseID})
	if err != nil {
		status, code := mapDomainError(err)
		writeJSONError(w, status, code, err.Error())
		return
	}

	if !view.Exists {
		writeJSONError(w, http.StatusNotFound, "not_found", "Vault not found")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetGuideStatus handles
// GET /api/v1/vaults/{courseID}/guides/{guide}/students/{student}.
func (s *Server) handleGetGuideStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetGuideStatusHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Guide status handler not configured")
		return
	}

	courseID, ok := parseCourseID(w, r)
	if !ok {
		return
	}

	guide, err := strconv.ParseUint(r.PathValue("guide"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Guide number must be a positive integer")
		return
	}

	q := query.GetGuideStatusQuery{
		CourseID:    courseID,
		GuideNumber: shared.GuideNumber(guide),
		Student:     shared.StudentAddress(r.PathValue("student")),
	}

	view, err := s.deps.GetGuideStatusHandler.Handle(r.Context(), q)
	if err != nil {
		status, code := mapDomainError(err)
		writeJSONError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetPaymentHistory handles GET /api/v1/students/{student}/payments.
func (s *Server) handleGetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetPaymentHistoryHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Payment history handler not configured")
		return
	}

	q := query.GetPaymentHistoryQuery{
		Student: shared.StudentAddress(r.PathValue("student")),
		Limit:   getQueryParamInt(r, "limit", 100),
	}

	view, err := s.deps.GetPaymentHistoryHandler.Handle(r.Context(), q)
	if err != nil {
		status, code := mapDomainError(err)
		writeJSONError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// maxBodyBytes bounds intake payloads.
const maxBodyBytes = 1 << 20 // 1 MB

// decodeJSONBody decodes a JSON request body into dst.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON payload: " + err.Error())
	}
	return nil
}

// parseCourseID extracts and validates the {courseID} path segment. On
// failure it writes the error response and returns false.
func parseCourseID(w http.ResponseWriter, r *http.Request) (shared.CourseID, bool) {
	raw, err := strconv.ParseUint(r.PathValue("courseID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Course ID must be a positive integer")
		return 0, false
	}
	return shared.CourseID(raw), true
}

// mapDomainError maps domain errors to HTTP status codes and error codes.
// The submission path rarely reaches this: declined outcomes travel inside
// the receipt, not as errors.
func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidID),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidAmount),
		errors.Is(err, shared.ErrInvalidStudent),
		errors.Is(err, shared.ErrEmptyValue),
		errors.Is(err, shared.ErrNegativeValue):
		return http.StatusBadRequest, "validation_error"

	case errors.Is(err, shared.ErrVaultNotFound),
		errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, shared.ErrVaultAlreadyExists),
		errors.Is(err, shared.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"

	case errors.Is(err, shared.ErrConfirmationTimeout):
		// The call was submitted; its effect is pending confirmation.
		return http.StatusAccepted, "confirmation_pending"

	case errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, "service_unavailable"

	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

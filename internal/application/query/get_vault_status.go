// Package query contains read operations (CQRS - Queries).
// Queries never change state; ledger reads may be served through the
// short-lived Redis cache.
package query

import (
	"context"
	"fmt"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET VAULT STATUS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetVaultStatusQuery asks for the current state of a course vault.
type GetVaultStatusQuery struct {
	CourseID shared.CourseID
}

// VaultStatusView is the caller-facing vault snapshot.
type VaultStatusView struct {
	CourseID       shared.CourseID           `json:"course_id"`
	Exists         bool                      `json:"exists"`
	AmountPerGuide shared.Amount             `json:"amount_per_guide"`
	Balances       map[shared.Currency]shared.Amount `json:"balances"`

	// GuidesCoverable is how many payouts the primary-currency balance
	// still covers.
	GuidesCoverable uint64 `json:"guides_coverable"`
}

// GetVaultStatusHandler handles the GetVaultStatusQuery.
type GetVaultStatusHandler struct {
	reader vault.Reader
}

// NewGetVaultStatusHandler creates a new GetVaultStatusHandler.
func NewGetVaultStatusHandler(reader vault.Reader) *GetVaultStatusHandler {
	return &GetVaultStatusHandler{reader: reader}
}

// Handle executes the query.
func (h *GetVaultStatusHandler) Handle(ctx context.Context, q GetVaultStatusQuery) (*VaultStatusView, error) {
	if err := q.CourseID.Validate(); err != nil {
		return nil, fmt.Errorf("get_vault_status: %w", err)
	}

	v, err := h.reader.Vault(ctx, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_vault_status: %w", err)
	}

	view := &VaultStatusView{
		CourseID:       q.CourseID,
		Exists:         v.Exists,
		AmountPerGuide: v.AmountPerGuide,
		Balances:       v.Balances,
	}
	if v.Exists && v.AmountPerGuide > 0 {
		view.GuidesCoverable = uint64(v.Balances[shared.DefaultCurrency] / v.AmountPerGuide)
	}
	return view, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET GUIDE STATUS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetGuideStatusQuery asks for the paid/cooldown view of one guide for one
// student.
type GetGuideStatusQuery struct {
	CourseID    shared.CourseID
	GuideNumber shared.GuideNumber
	Student     shared.StudentAddress
}

// Validate validates the query.
func (q GetGuideStatusQuery) Validate() error {
	if err := q.CourseID.Validate(); err != nil {
		return err
	}
	if err := q.GuideNumber.Validate(); err != nil {
		return err
	}
	return q.Student.Validate()
}

// GuideStatusView is the caller-facing guide status.
type GuideStatusView struct {
	CourseID    shared.CourseID       `json:"course_id"`
	GuideNumber shared.GuideNumber    `json:"guide_number"`
	Student     shared.StudentAddress `json:"student"`
	PaidAmount  shared.Amount         `json:"paid_amount"`
	CanSubmit   bool                  `json:"can_submit"`
}

// GetGuideStatusHandler handles the GetGuideStatusQuery, preferring the
// short-lived cache over a settlement round trip.
type GetGuideStatusHandler struct {
	reader vault.Reader
	cache  *redis.GuideStatusCache
}

// NewGetGuideStatusHandler creates a new GetGuideStatusHandler.
// cache may be nil when Redis is disabled.
func NewGetGuideStatusHandler(reader vault.Reader, cache *redis.GuideStatusCache) *GetGuideStatusHandler {
	return &GetGuideStatusHandler{reader: reader, cache: cache}
}

// Handle executes the query.
func (h *GetGuideStatusHandler) Handle(ctx context.Context, q GetGuideStatusQuery) (*GuideStatusView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_guide_status: %w", err)
	}

	status, found := h.cache.GetGuideStatus(ctx, q.CourseID, q.GuideNumber, q.Student)
	if !found {
		var err error
		status, err = h.reader.GetStudentGuideStatus(ctx, q.CourseID, q.GuideNumber, q.Student)
		if err != nil {
			return nil, fmt.Errorf("get_guide_status: %w", err)
		}
		h.cache.SetGuideStatus(ctx, q.CourseID, q.GuideNumber, q.Student, status)
	}

	return &GuideStatusView{
		CourseID:    q.CourseID,
		GuideNumber: q.GuideNumber,
		Student:     q.Student,
		PaidAmount:  status.PaidAmount,
		CanSubmit:   status.CanSubmit,
	}, nil
}

package query

import (
	"context"
	"fmt"
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PAYMENT HISTORY QUERY
// Served from the reporting mirror, not the ledger: history is exactly what
// the platform confirmed, and a support request must not cost settlement reads.
// ══════════════════════════════════════════════════════════════════════════════

// GetPaymentHistoryQuery asks for a student's confirmed scholarship payments.
type GetPaymentHistoryQuery struct {
	Student shared.StudentAddress
	Limit   int
}

// PaymentView is one confirmed payment.
type PaymentView struct {
	CourseID    shared.CourseID    `json:"course_id"`
	GuideNumber shared.GuideNumber `json:"guide_number"`
	Amount      shared.Amount      `json:"amount"`
	Currency    shared.Currency    `json:"currency"`
	TxID        string             `json:"tx_id"`
	PaidAt      time.Time          `json:"paid_at"`
}

// PaymentHistoryView is the full history response.
type PaymentHistoryView struct {
	Student   shared.StudentAddress `json:"student"`
	Payments  []PaymentView         `json:"payments"`
	TotalPaid shared.Amount         `json:"total_paid"`
}

// GetPaymentHistoryHandler handles the GetPaymentHistoryQuery.
type GetPaymentHistoryHandler struct {
	reports scholarship.ReportRepository
}

// NewGetPaymentHistoryHandler creates a new GetPaymentHistoryHandler.
func NewGetPaymentHistoryHandler(reports scholarship.ReportRepository) *GetPaymentHistoryHandler {
	return &GetPaymentHistoryHandler{reports: reports}
}

// Handle executes the query.
func (h *GetPaymentHistoryHandler) Handle(ctx context.Context, q GetPaymentHistoryQuery) (*PaymentHistoryView, error) {
	if err := q.Student.Validate(); err != nil {
		return nil, fmt.Errorf("get_payment_history: %w", err)
	}

	reports, err := h.reports.ListByStudent(ctx, q.Student, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_payment_history: %w", err)
	}

	view := &PaymentHistoryView{
		Student:  q.Student,
		Payments: make([]PaymentView, 0, len(reports)),
	}
	for _, r := range reports {
		view.Payments = append(view.Payments, PaymentView{
			CourseID:    r.CourseID,
			GuideNumber: r.GuideNumber,
			Amount:      r.AmountPaid,
			Currency:    r.Currency,
			TxID:        r.TxID,
			PaidAt:      r.PaidAt,
		})
		view.TotalPaid += r.AmountPaid
	}

	return view, nil
}

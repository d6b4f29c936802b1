package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT REPORT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ReportRepository implements scholarship.ReportRepository for PostgreSQL.
type ReportRepository struct {
	conn *Connection
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(conn *Connection) *ReportRepository {
	return &ReportRepository{conn: conn}
}

// UpsertPaid records a confirmed payment. The (course, guide, student) key is
// unique, matching the ledger's at-most-once rule: a conflicting insert
// refreshes the transaction reference and keeps the original amount.
func (r *ReportRepository) UpsertPaid(ctx context.Context, report *scholarship.PaymentReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Currency == "" {
		report.Currency = shared.DefaultCurrency
	}
	if report.Source == "" {
		report.Source = scholarship.SourceCoordinator
	}

	query := `
		INSERT INTO payment_reports (
			id, course_id, guide_number, student_address, amount_paid,
			currency, tx_id, correlation_id, source, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (course_id, guide_number, student_address) DO UPDATE SET
			tx_id = EXCLUDED.tx_id,
			correlation_id = EXCLUDED.correlation_id,
			source = EXCLUDED.source
	`

	_, err := r.conn.Exec(ctx, query,
		report.ID,
		int64(report.CourseID),
		int64(report.GuideNumber),
		string(report.Student),
		int64(report.AmountPaid),
		string(report.Currency),
		report.TxID,
		report.CorrelationID,
		string(report.Source),
		report.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment report: %w", err)
	}

	return nil
}

// GetByKey returns the report for a payment key, nil when absent.
func (r *ReportRepository) GetByKey(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (*scholarship.PaymentReport, error) {
	query := `
		SELECT id, course_id, guide_number, student_address, amount_paid,
			   currency, tx_id, correlation_id, source, paid_at
		FROM payment_reports
		WHERE course_id = $1 AND guide_number = $2 AND student_address = $3
	`

	row := r.conn.QueryRow(ctx, query, int64(courseID), int64(guide), string(student))
	report, err := scanReport(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return report, err
}

// ListByStudent returns a student's payment history, newest first.
func (r *ReportRepository) ListByStudent(ctx context.Context, student shared.StudentAddress, limit int) ([]*scholarship.PaymentReport, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, course_id, guide_number, student_address, amount_paid,
			   currency, tx_id, correlation_id, source, paid_at
		FROM payment_reports
		WHERE student_address = $1
		ORDER BY paid_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, string(student), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// ListAll streams every report, oldest first.
func (r *ReportRepository) ListAll(ctx context.Context) ([]*scholarship.PaymentReport, error) {
	query := `
		SELECT id, course_id, guide_number, student_address, amount_paid,
			   currency, tx_id, correlation_id, source, paid_at
		FROM payment_reports
		ORDER BY paid_at ASC
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// TotalPaid returns the aggregate reported amount.
func (r *ReportRepository) TotalPaid(ctx context.Context) (shared.Amount, error) {
	var total int64
	err := r.conn.QueryRow(ctx, `SELECT COALESCE(SUM(amount_paid), 0) FROM payment_reports`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum payment reports: %w", err)
	}
	return shared.Amount(total), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanReport(row pgx.Row) (*scholarship.PaymentReport, error) {
	var (
		report      scholarship.PaymentReport
		courseID    int64
		guideNumber int64
		student     string
		amountPaid  int64
		currency    string
		source      string
	)

	err := row.Scan(
		&report.ID,
		&courseID,
		&guideNumber,
		&student,
		&amountPaid,
		&currency,
		&report.TxID,
		&report.CorrelationID,
		&source,
		&report.PaidAt,
	)
	if err != nil {
		return nil, err
	}

	report.CourseID = shared.CourseID(courseID)
	report.GuideNumber = shared.GuideNumber(guideNumber)
	report.Student = shared.StudentAddress(student)
	report.AmountPaid = shared.Amount(amountPaid)
	report.Currency = shared.Currency(currency)
	report.Source = scholarship.ReportSource(source)

	return &report, nil
}

func collectReports(rows pgx.Rows) ([]*scholarship.PaymentReport, error) {
	reports := make([]*scholarship.PaymentReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PENDING TRANSACTION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PendingTxRepository implements scholarship.PendingTxRepository for
// PostgreSQL.
type PendingTxRepository struct {
	conn *Connection
}

// NewPendingTxRepository creates a new PendingTxRepository.
func NewPendingTxRepository(conn *Connection) *PendingTxRepository {
	return &PendingTxRepository{conn: conn}
}

// Insert records a transaction for reconciliation. An already-tracked
// identifier is left untouched: the first record wins.
func (r *PendingTxRepository) Insert(ctx context.Context, tx *scholarship.PendingTransaction) error {
	if tx.Status == "" {
		tx.Status = scholarship.PendingStatusPending
	}
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO pending_transactions (
			tx_id, function_name, course_id, guide_number, student_address,
			is_correct, correlation_id, status, attempts, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query,
		tx.TxID,
		tx.Function,
		int64(tx.CourseID),
		int64(tx.GuideNumber),
		string(tx.Student),
		tx.IsCorrect,
		tx.CorrelationID,
		string(tx.Status),
		tx.Attempts,
		tx.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending transaction: %w", err)
	}

	return nil
}

// ListPending returns unresolved transactions, oldest first.
func (r *PendingTxRepository) ListPending(ctx context.Context, limit int) ([]*scholarship.PendingTransaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT tx_id, function_name, course_id, guide_number, student_address,
			   is_correct, correlation_id, status, attempts, submitted_at,
			   last_checked_at, resolved_at
		FROM pending_transactions
		WHERE status = 'pending'
		ORDER BY submitted_at ASC
		LIMIT $1
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*scholarship.PendingTransaction, 0)
	for rows.Next() {
		tx, err := scanPendingTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// MarkChecked bumps the attempt counter and check timestamp.
func (r *PendingTxRepository) MarkChecked(ctx context.Context, txID string) error {
	query := `
		UPDATE pending_transactions
		SET attempts = attempts + 1, last_checked_at = NOW()
		WHERE tx_id = $1
	`

	_, err := r.conn.Exec(ctx, query, txID)
	if err != nil {
		return fmt.Errorf("failed to mark pending transaction checked: %w", err)
	}
	return nil
}

// Resolve moves a transaction to a terminal status.
func (r *PendingTxRepository) Resolve(ctx context.Context, txID string, status scholarship.PendingTxStatus) error {
	query := `
		UPDATE pending_transactions
		SET status = $2, resolved_at = NOW()
		WHERE tx_id = $1 AND status = 'pending'
	`

	_, err := r.conn.Exec(ctx, query, txID, string(status))
	if err != nil {
		return fmt.Errorf("failed to resolve pending transaction: %w", err)
	}
	return nil
}

func scanPendingTx(row pgx.Row) (*scholarship.PendingTransaction, error) {
	var (
		tx          scholarship.PendingTransaction
		courseID    int64
		guideNumber int64
		student     string
		status      string
	)

	err := row.Scan(
		&tx.TxID,
		&tx.Function,
		&courseID,
		&guideNumber,
		&student,
		&tx.IsCorrect,
		&tx.CorrelationID,
		&status,
		&tx.Attempts,
		&tx.SubmittedAt,
		&tx.LastCheckedAt,
		&tx.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.CourseID = shared.CourseID(courseID)
	tx.GuideNumber = shared.GuideNumber(guideNumber)
	tx.Student = shared.StudentAddress(student)
	tx.Status = scholarship.PendingTxStatus(status)

	return &tx, nil
}

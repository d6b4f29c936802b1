package scholarship

import (
	"context"
	"time"

	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// ReportSource records which path produced a payment report row.
type ReportSource string

const (
	SourceCoordinator ReportSource = "coordinator"
	SourceReconcile   ReportSource = "reconcile"
	SourceMigration   ReportSource = "migration"
)

// PaymentReport mirrors one confirmed guide payment off the settlement
// ledger. The ledger stays the authority; a report row can always be rebuilt
// from a GuidePaid read.
type PaymentReport struct {
	ID            string
	CourseID      shared.CourseID
	GuideNumber   shared.GuideNumber
	Student       shared.StudentAddress
	AmountPaid    shared.Amount
	Currency      shared.Currency
	TxID          string
	CorrelationID string
	Source        ReportSource
	PaidAt        time.Time
}

// ReportRepository persists payment reports.
type ReportRepository interface {
	// UpsertPaid records a payment, idempotently on the
	// (course, guide, student) key. Re-recording the same payment updates
	// the transaction reference and leaves the amount untouched.
	UpsertPaid(ctx context.Context, report *PaymentReport) error

	// GetByKey returns the report for a payment key, or nil when the guide
	// has not been reported paid.
	GetByKey(ctx context.Context, courseID shared.CourseID, guide shared.GuideNumber, student shared.StudentAddress) (*PaymentReport, error)

	// ListByStudent returns a student's payment history, newest first.
	ListByStudent(ctx context.Context, student shared.StudentAddress, limit int) ([]*PaymentReport, error)

	// ListAll streams every report, oldest first. Drives payment replay
	// during ledger migration.
	ListAll(ctx context.Context) ([]*PaymentReport, error)

	// TotalPaid returns the aggregate reported amount. Compared against the
	// ledger's books during the vault audit.
	TotalPaid(ctx context.Context) (shared.Amount, error)
}

// PendingTxStatus is the lifecycle state of a tracked transaction.
type PendingTxStatus string

const (
	PendingStatusPending   PendingTxStatus = "pending"
	PendingStatusConfirmed PendingTxStatus = "confirmed"
	PendingStatusRejected  PendingTxStatus = "rejected"
	PendingStatusAbandoned PendingTxStatus = "abandoned"
)

// PendingTransaction tracks a submitted settlement transaction whose
// confirmation wait timed out. The reconcile job polls these until the
// settlement layer gives a terminal answer.
type PendingTransaction struct {
	TxID          string
	Function      string
	CourseID      shared.CourseID
	GuideNumber   shared.GuideNumber
	Student       shared.StudentAddress
	IsCorrect     bool
	CorrelationID string
	Status        PendingTxStatus
	Attempts      int
	SubmittedAt   time.Time
	LastCheckedAt *time.Time
	ResolvedAt    *time.Time
}

// PendingTxRepository persists unknown-outcome transactions.
type PendingTxRepository interface {
	// Insert records a transaction for later reconciliation. Inserting an
	// already-tracked identifier is a no-op.
	Insert(ctx context.Context, tx *PendingTransaction) error

	// ListPending returns unresolved transactions, oldest first.
	ListPending(ctx context.Context, limit int) ([]*PendingTransaction, error)

	// MarkChecked bumps the attempt counter and check timestamp.
	MarkChecked(ctx context.Context, txID string) error

	// Resolve moves a transaction to a terminal status.
	Resolve(ctx context.Context, txID string, status PendingTxStatus) error
}

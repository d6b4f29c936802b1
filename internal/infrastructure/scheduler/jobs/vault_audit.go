package jobs

import (
	"context"

	"github.com/edubeca/scholarship-hub/internal/domain/scholarship"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
	"github.com/edubeca/scholarship-hub/internal/domain/vault"
	"github.com/edubeca/scholarship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VAULT AUDIT JOB
// Cross-checks the reporting mirror against ledger state and flags vaults
// that can no longer cover a payout. Detection only: the ledger is the
// authority, so a discrepancy is reported, never auto-corrected.
// ══════════════════════════════════════════════════════════════════════════════

// VaultAuditJob audits vault funding and report consistency.
type VaultAuditJob struct {
	reader  vault.Reader
	reports scholarship.ReportRepository
	log     *logger.Logger
}

// NewVaultAuditJob creates a new VaultAuditJob.
func NewVaultAuditJob(reader vault.Reader, reports scholarship.ReportRepository, log *logger.Logger) *VaultAuditJob {
	if log == nil {
		log = logger.Default()
	}
	return &VaultAuditJob{
		reader:  reader,
		reports: reports,
		log:     log.With(logger.Component("vault_audit")),
	}
}

// Name implements scheduler.Job.
func (j *VaultAuditJob) Name() string {
	return "vault_audit"
}

// Description implements scheduler.Job.
func (j *VaultAuditJob) Description() string {
	return "Flags underfunded vaults and report rows the ledger does not back"
}

// Run implements scheduler.Job.
func (j *VaultAuditJob) Run(ctx context.Context) error {
	if err := j.auditFunding(ctx); err != nil {
		return err
	}
	return j.auditReports(ctx)
}

// auditFunding flags vaults whose balance no longer covers one payout.
func (j *VaultAuditJob) auditFunding(ctx context.Context) error {
	courses, err := j.reader.Courses(ctx)
	if err != nil {
		return err
	}

	drained := 0
	for _, courseID := range courses {
		v, err := j.reader.Vault(ctx, courseID)
		if err != nil {
			return err
		}
		if !v.Exists || v.AmountPerGuide == 0 {
			continue
		}

		balance := v.Balances[shared.DefaultCurrency]
		if balance < v.AmountPerGuide {
			drained++
			j.log.Warn("vault cannot cover a payout",
				logger.CourseID(uint64(courseID)),
				logger.Amount(uint64(balance)),
				logger.Uint64("amount_per_guide", uint64(v.AmountPerGuide)),
			)
		}
	}

	total, err := j.reader.TotalBalance(ctx)
	if err != nil {
		return err
	}

	j.log.Info("vault funding audited",
		logger.Int("courses", len(courses)),
		logger.Int("drained", drained),
		logger.Uint64("total_balance", uint64(total)),
	)
	return nil
}

// auditReports verifies that every report row is backed by a ledger payment
// with the same amount. Drift means a raw write bypassed the platform.
func (j *VaultAuditJob) auditReports(ctx context.Context) error {
	reports, err := j.reports.ListAll(ctx)
	if err != nil {
		return err
	}

	mismatches := 0
	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}

		paid, err := j.reader.GuidePaid(ctx, report.CourseID, report.GuideNumber, report.Student)
		if err != nil {
			j.log.Warn("audit read failed",
				logger.Err(err),
				logger.CourseID(uint64(report.CourseID)),
				logger.GuideNumber(uint64(report.GuideNumber)),
			)
			continue
		}

		if paid != report.AmountPaid {
			mismatches++
			j.log.Error("report not backed by ledger payment",
				logger.CourseID(uint64(report.CourseID)),
				logger.GuideNumber(uint64(report.GuideNumber)),
				logger.Student(string(report.Student)),
				logger.Uint64("reported", uint64(report.AmountPaid)),
				logger.Uint64("on_ledger", uint64(paid)),
			)
		}
	}

	j.log.Info("payment reports audited",
		logger.Int("reports", len(reports)),
		logger.Int("mismatches", mismatches),
	)
	return nil
}

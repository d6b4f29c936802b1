package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PAYMENT REPORTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create payment_reports table
-- Version: 001
-- One row per confirmed guide payment. The settlement ledger is the source
-- of truth; this table is the queryable mirror for support and accounting.

CREATE TABLE IF NOT EXISTS payment_reports (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_id BIGINT NOT NULL,
    guide_number BIGINT NOT NULL,
    student_address VARCHAR(64) NOT NULL,
    amount_paid BIGINT NOT NULL,
    currency VARCHAR(16) NOT NULL DEFAULT 'USDC6',
    tx_id VARCHAR(80) NOT NULL,
    correlation_id VARCHAR(64) NOT NULL DEFAULT '',
    source VARCHAR(20) NOT NULL DEFAULT 'coordinator',
    paid_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- At-most-once payment per (course, guide, student), same as the ledger
    UNIQUE(course_id, guide_number, student_address),

    CONSTRAINT valid_amount CHECK (amount_paid >= 0),
    CONSTRAINT valid_source CHECK (source IN ('coordinator', 'reconcile', 'migration'))
);

CREATE INDEX IF NOT EXISTS idx_payment_reports_student ON payment_reports(student_address);
CREATE INDEX IF NOT EXISTS idx_payment_reports_course ON payment_reports(course_id);
CREATE INDEX IF NOT EXISTS idx_payment_reports_paid_at ON payment_reports(paid_at DESC);
CREATE INDEX IF NOT EXISTS idx_payment_reports_tx_id ON payment_reports(tx_id);

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_payment_reports_updated_at ON payment_reports;
CREATE TRIGGER update_payment_reports_updated_at
    BEFORE UPDATE ON payment_reports
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();`

const migration001Down = `
DROP TRIGGER IF EXISTS update_payment_reports_updated_at ON payment_reports;
DROP TABLE IF EXISTS payment_reports;`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PENDING TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create pending_transactions table
-- Version: 002
-- One row per submitted transaction whose confirmation wait timed out.
-- The reconcile job re-polls these until the ledger gives a terminal answer.

CREATE TABLE IF NOT EXISTS pending_transactions (
    tx_id VARCHAR(80) PRIMARY KEY,
    function_name VARCHAR(40) NOT NULL,
    course_id BIGINT NOT NULL DEFAULT 0,
    guide_number BIGINT NOT NULL DEFAULT 0,
    student_address VARCHAR(64) NOT NULL DEFAULT '',
    is_correct BOOLEAN NOT NULL DEFAULT FALSE,
    correlation_id VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    last_checked_at TIMESTAMP WITH TIME ZONE,
    resolved_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_status CHECK (status IN ('pending', 'confirmed', 'rejected', 'abandoned'))
);

CREATE INDEX IF NOT EXISTS idx_pending_tx_status ON pending_transactions(status) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_pending_tx_submitted_at ON pending_transactions(submitted_at);
CREATE INDEX IF NOT EXISTS idx_pending_tx_correlation ON pending_transactions(correlation_id);`

const migration002Down = `
DROP TABLE IF EXISTS pending_transactions;`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE MIGRATION RUNS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create migration_runs table
-- Version: 003
-- Progress journal of ledger migration batches. Step completion is recorded
-- here so an interrupted run resumes instead of repeating raw writes.

CREATE TABLE IF NOT EXISTS migration_runs (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    batch_name VARCHAR(80) NOT NULL UNIQUE,
    current_step VARCHAR(30) NOT NULL DEFAULT 'drain_old',
    -- Per-vault funding captured before the drain; the recreate step replays
    -- vaults from here because the drain zeroes the old ledger's balances.
    vault_snapshots JSONB NOT NULL DEFAULT '{}'::jsonb,
    drained_amount BIGINT NOT NULL DEFAULT 0,
    vaults_recreated INTEGER NOT NULL DEFAULT 0,
    payments_replayed INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,
    last_error TEXT,

    CONSTRAINT valid_step CHECK (current_step IN (
        'drain_old', 'transfer_funds', 'recreate_vaults', 'replay_payments', 'done'
    ))
);

CREATE INDEX IF NOT EXISTS idx_migration_runs_started_at ON migration_runs(started_at DESC);`

const migration003Down = `
DROP TABLE IF EXISTS migration_runs;`

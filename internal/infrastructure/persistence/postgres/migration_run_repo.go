package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edubeca/scholarship-hub/internal/application/migration"
	"github.com/edubeca/scholarship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION RUN JOURNAL IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// MigrationRunRepository implements migration.Journal for PostgreSQL.
type MigrationRunRepository struct {
	conn *Connection
}

// NewMigrationRunRepository creates a new MigrationRunRepository.
func NewMigrationRunRepository(conn *Connection) *MigrationRunRepository {
	return &MigrationRunRepository{conn: conn}
}

// GetOrCreate returns the run for a batch name, creating it at the first
// step when absent. Concurrent creators converge on one row through the
// unique batch name.
func (r *MigrationRunRepository) GetOrCreate(ctx context.Context, batchName string) (*migration.Run, error) {
	insert := `
		INSERT INTO migration_runs (id, batch_name, current_step, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_name) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, insert, uuid.NewString(), batchName, string(migration.StepDrainOld), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create migration run: %w", err)
	}

	query := `
		SELECT id, batch_name, current_step, vault_snapshots, drained_amount,
			   vaults_recreated, payments_replayed, started_at, completed_at,
			   COALESCE(last_error, '')
		FROM migration_runs
		WHERE batch_name = $1
	`

	var (
		run       migration.Run
		step      string
		snapshots []byte
		drained   int64
	)
	err = r.conn.QueryRow(ctx, query, batchName).Scan(
		&run.ID,
		&run.BatchName,
		&step,
		&snapshots,
		&drained,
		&run.VaultsRecreated,
		&run.PaymentsReplayed,
		&run.StartedAt,
		&run.CompletedAt,
		&run.LastError,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration run: %w", err)
	}

	if len(snapshots) > 0 {
		if err := json.Unmarshal(snapshots, &run.VaultSnapshots); err != nil {
			return nil, fmt.Errorf("failed to decode vault snapshots: %w", err)
		}
	}

	run.CurrentStep = migration.Step(step)
	run.DrainedAmount = shared.Amount(drained)
	return &run, nil
}

// Update persists the run's current state.
func (r *MigrationRunRepository) Update(ctx context.Context, run *migration.Run) error {
	snapshots := []byte("{}")
	if len(run.VaultSnapshots) > 0 {
		var err error
		snapshots, err = json.Marshal(run.VaultSnapshots)
		if err != nil {
			return fmt.Errorf("failed to encode vault snapshots: %w", err)
		}
	}

	query := `
		UPDATE migration_runs
		SET current_step = $2,
			vault_snapshots = $3,
			drained_amount = $4,
			vaults_recreated = $5,
			payments_replayed = $6,
			completed_at = $7,
			last_error = NULLIF($8, '')
		WHERE batch_name = $1
	`

	_, err := r.conn.Exec(ctx, query,
		run.BatchName,
		string(run.CurrentStep),
		snapshots,
		int64(run.DrainedAmount),
		run.VaultsRecreated,
		run.PaymentsReplayed,
		run.CompletedAt,
		run.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to update migration run: %w", err)
	}
	return nil
}

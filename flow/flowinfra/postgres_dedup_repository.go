package flowinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// PostgresDedupRepository registro de triggers procesados. Un reintento del
// transporte encuentra aquí el desenlace grabado en lugar de re-ejecutar.
type PostgresDedupRepository struct {
	db *sqlx.DB
}

var _ flow.TriggerDedupRepository = (*PostgresDedupRepository)(nil)

func NewPostgresDedupRepository(db *sqlx.DB) *PostgresDedupRepository {
	return &PostgresDedupRepository{db: db}
}

type dbTriggerRecord struct {
	TriggerID   string    `db:"trigger_id"`
	InstanceID  string    `db:"instance_id"`
	Instance    []byte    `db:"instance"`
	Effects     []byte    `db:"effects"`
	ProcessedAt time.Time `db:"processed_at"`
}

func (r *PostgresDedupRepository) Find(ctx context.Context, triggerID kernel.TriggerID) (*flow.TriggerRecord, error) {
	query := `
		SELECT trigger_id, instance_id, instance, effects, processed_at
		FROM processed_triggers
		WHERE trigger_id = $1`

	var dbRec dbTriggerRecord
	err := r.db.GetContext(ctx, &dbRec, query, triggerID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find trigger record", errx.TypeInternal).
			WithDetail("trigger_id", triggerID.String())
	}

	return &flow.TriggerRecord{
		TriggerID:   kernel.TriggerID(dbRec.TriggerID),
		InstanceID:  kernel.InstanceID(dbRec.InstanceID),
		Instance:    dbRec.Instance,
		Effects:     dbRec.Effects,
		ProcessedAt: dbRec.ProcessedAt,
	}, nil
}

func (r *PostgresDedupRepository) Save(ctx context.Context, record flow.TriggerRecord) error {
	query := `
		INSERT INTO processed_triggers (trigger_id, instance_id, instance, effects, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trigger_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		record.TriggerID.String(),
		record.InstanceID.String(),
		record.Instance,
		record.Effects,
		record.ProcessedAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to save trigger record", errx.TypeInternal).
			WithDetail("trigger_id", record.TriggerID.String())
	}
	return nil
}

// DeleteProcessedBefore poda registros viejos; el TTL lo gobierna el cron
func (r *PostgresDedupRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM processed_triggers WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, errx.Wrap(err, "failed to prune trigger records", errx.TypeInternal)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	return int(rowsAffected), nil
}

package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"regimesync/internal/domain/regime"
)

// Compile-time check
var _ regime.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository implements regime.HistoryRepository using sqlx
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new regime history repository
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// EnsureSchema creates the transitions table when it does not exist yet
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS regime_transitions (
			id UUID PRIMARY KEY,
			label TEXT NOT NULL,
			previous TEXT NOT NULL,
			code INT NOT NULL,
			index_price DOUBLE PRECISION NOT NULL,
			instrument_price DOUBLE PRECISION NOT NULL,
			spread DOUBLE PRECISION NOT NULL,
			level_count INT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		)`

	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Record inserts a regime transition
func (r *HistoryRepository) Record(ctx context.Context, transition *regime.Transition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}

	query := `
		INSERT INTO regime_transitions (
			id, label, previous, code,
			index_price, instrument_price, spread, level_count, occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := r.db.ExecContext(ctx, query,
		transition.ID, transition.Label, transition.Previous, transition.Code,
		transition.IndexPrice, transition.InstrumentPrice, transition.Spread,
		transition.LevelCount, transition.OccurredAt,
	)

	return err
}

// Recent retrieves the most recent transitions, newest first
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]regime.Transition, error) {
	var transitions []regime.Transition

	query := `
		SELECT * FROM regime_transitions
		ORDER BY occurred_at DESC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &transitions, query, limit)
	if err != nil {
		return nil, err
	}

	return transitions, nil
}

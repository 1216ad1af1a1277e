package regime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transition records a single regime change for historical analysis.
type Transition struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Label           string    `db:"label" json:"label"`
	Previous        string    `db:"previous" json:"previous"`
	Code            int       `db:"code" json:"code"`
	IndexPrice      float64   `db:"index_price" json:"index_price"`
	InstrumentPrice float64   `db:"instrument_price" json:"instrument_price"`
	Spread          float64   `db:"spread" json:"spread"`
	LevelCount      int       `db:"level_count" json:"level_count"`
	OccurredAt      time.Time `db:"occurred_at" json:"occurred_at"`
}

// SnapshotCache stores the most recent aggregate snapshot.
type SnapshotCache interface {
	SaveLatest(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (*Snapshot, error)
}

// HistoryRepository persists regime transitions.
type HistoryRepository interface {
	Record(ctx context.Context, transition *Transition) error
	Recent(ctx context.Context, limit int) ([]Transition, error)
}

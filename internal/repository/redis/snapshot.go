package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"regimesync/internal/domain/regime"
	"regimesync/pkg/errors"
)

const snapshotKey = "regimesync:snapshot:latest"

// Compile-time check
var _ regime.SnapshotCache = (*SnapshotRepository)(nil)

// SnapshotRepository caches the latest aggregate snapshot in Redis so
// late-joining consumers can read state without waiting for the next line.
type SnapshotRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotRepository creates a new snapshot cache
func NewSnapshotRepository(client *redis.Client, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{
		client: client,
		ttl:    ttl,
	}
}

// SaveLatest overwrites the cached snapshot
func (r *SnapshotRepository) SaveLatest(ctx context.Context, snap regime.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}

	if err := r.client.Set(ctx, snapshotKey, data, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save snapshot to redis")
	}

	return nil
}

// Latest returns the cached snapshot
func (r *SnapshotRepository) Latest(ctx context.Context) (*regime.Snapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey).Result()
	if err == redis.Nil {
		return nil, errors.Wrap(errors.ErrNotFound, "no cached snapshot")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get snapshot from redis")
	}

	var snap regime.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal snapshot")
	}

	return &snap, nil
}

package sinks

import (
	"context"
	"sync"
	"time"

	"regimesync/internal/dispatch"
	"regimesync/internal/domain/regime"
	"regimesync/internal/metrics"
	"regimesync/pkg/logger"
)

const writeTimeout = 5 * time.Second

// Sinks forwards published snapshots to optional persistence backends.
// Backend writes run on a dedicated queue so a slow or dead backend never
// backs up into the apply path; write failures are logged and swallowed.
type Sinks struct {
	cache   regime.SnapshotCache
	history regime.HistoryRepository
	queue   *dispatch.Queue
	log     *logger.Logger

	mu       sync.Mutex
	lastCode int
}

// New wires the configured backends. Either may be nil.
func New(cache regime.SnapshotCache, history regime.HistoryRepository, log *logger.Logger) *Sinks {
	return &Sinks{
		cache:    cache,
		history:  history,
		queue:    dispatch.NewQueue(256, log),
		log:      log,
		lastCode: -1,
	}
}

// OnSnapshot is the observer hook. It only inspects the snapshot in memory
// and hands the actual writes to the sink queue: the latest snapshot always
// refreshes the cache, history only gets a row when the regime code changes.
func (s *Sinks) OnSnapshot(snap regime.Snapshot) {
	s.mu.Lock()
	changed := snap.Record.Code != s.lastCode && snap.Record.Current != regime.LabelWaiting
	if changed {
		s.lastCode = snap.Record.Code
	}
	s.mu.Unlock()

	s.queue.Post(func() {
		s.write(snap, changed)
	})
}

// Close drains pending writes and stops the sink queue.
func (s *Sinks) Close() {
	s.queue.Close()
}

func (s *Sinks) write(snap regime.Snapshot, changed bool) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if s.cache != nil {
		err := s.cache.SaveLatest(ctx, snap)
		metrics.RecordSinkWrite("redis", err)
		if err != nil {
			s.log.Warnw("Snapshot cache write failed", "error", err)
		}
	}

	if s.history == nil || !changed {
		return
	}

	transition := &regime.Transition{
		Label:           snap.Record.Current,
		Previous:        snap.Record.Previous,
		Code:            snap.Record.Code,
		IndexPrice:      snap.Prices.IndexPrice,
		InstrumentPrice: snap.Prices.InstrumentPrice,
		Spread:          snap.Prices.Spread,
		LevelCount:      len(snap.Levels),
		OccurredAt:      snap.Record.UpdatedAt,
	}

	err := s.history.Record(ctx, transition)
	metrics.RecordSinkWrite("postgres", err)
	if err != nil {
		s.log.Warnw("Transition history write failed", "error", err)
	}
}

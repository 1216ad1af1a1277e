package regime

import (
	"math"
	"sync"
	"time"

	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// State owns the authoritative copy of the regime aggregate. The record,
// price context and level list form one consistency domain guarded by one
// mutex; Apply and Snapshot are the only entry points, so a reader can never
// observe new levels paired with a stale spread.
type State struct {
	mu     sync.Mutex
	record Record
	prices PriceContext
	levels []Level

	log *logger.Logger
}

// NewState creates a state holding the initial sentinels
func NewState(log *logger.Logger) *State {
	return &State{
		record: Record{
			Current:  LabelWaiting,
			Previous: NoPrevious,
		},
		log: log.With("component", "regime_state"),
	}
}

// Apply folds one decoded update into the aggregate. instrumentPrice is the
// latest value from the price sampler (0 if none yet); now is the update
// timestamp. The whole mutation is staged on copies and committed at the end,
// so a panic mid-apply leaves the prior aggregate untouched.
func (s *State) Apply(u Update, instrumentPrice float64, now time.Time) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("apply panicked: %v", r)
			s.log.Errorw("Update dropped, prior state preserved", "error", err)
		}
	}()

	record := s.record
	prices := s.prices
	levels := s.levels

	// Shift the previous label only on a genuine change away from the
	// initial sentinel. Repeated identical labels must not drift it.
	if record.Current != LabelWaiting && record.Current != u.Regime {
		record.Previous = record.Current
	}
	record.Current = u.Regime
	record.Code = u.Code
	record.UpdatedAt = now.Truncate(time.Second)

	if u.IndexSpot > 0 {
		prices.IndexPrice = u.IndexSpot
	}

	// Price-dependent steps run only once the host has sampled a price;
	// until then the level list and spread stay as they were.
	if instrumentPrice > 0 {
		prices.InstrumentPrice = instrumentPrice

		if prices.IndexPrice > 0 {
			prices.Spread = Spread(prices.IndexPrice, prices.InstrumentPrice)
		}

		levels = AdjustLevels(u.Levels, prices.Spread)
	}

	s.record = record
	s.prices = prices
	s.levels = levels
	return nil
}

// Snapshot returns a copied-out view of the aggregate
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	levels := make([]Level, len(s.levels))
	copy(levels, s.levels)

	return Snapshot{
		Record: s.record,
		Prices: s.prices,
		Levels: levels,
	}
}

// Spread is the integer-rounded difference between the index price and the
// instrument price, used to translate levels between the two price scales
func Spread(indexPrice, instrumentPrice float64) float64 {
	return math.Round(indexPrice) - math.Round(instrumentPrice)
}

// AdjustLevels converts raw wire levels into renderable levels in the
// instrument's own price scale. Zero strikes are dropped; the returned list
// always replaces the prior one wholesale.
func AdjustLevels(raw []RawLevel, spread float64) []Level {
	levels := make([]Level, 0, len(raw))
	for _, r := range raw {
		if r.Strike <= 0 {
			continue
		}
		levels = append(levels, Level{
			Strike:     r.Strike,
			GEX:        r.GEX,
			Adjusted:   r.Strike - spread,
			Resistance: r.GEX > 0,
		})
	}
	return levels
}

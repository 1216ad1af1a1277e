package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regimesync/pkg/logger"
)

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

func TestSpread(t *testing.T) {
	tests := []struct {
		name       string
		index      float64
		instrument float64
		expected   float64
	}{
		{"index below instrument", 15000.6, 15002.1, -1},
		{"index above instrument", 15002.5, 15000.4, 3},
		{"equal after rounding", 15000.4, 15000.3, 0},
		{"negative spread of one tick", 4999.2, 5000.1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Spread(tt.index, tt.instrument))
		})
	}
}

func TestAdjustLevels(t *testing.T) {
	raw := []RawLevel{
		{Strike: 100, GEX: 5000},
		{Strike: 110, GEX: -3000},
	}

	levels := AdjustLevels(raw, 2)

	require.Len(t, levels, 2)
	assert.Equal(t, 98.0, levels[0].Adjusted)
	assert.True(t, levels[0].Resistance)
	assert.Equal(t, 108.0, levels[1].Adjusted)
	assert.False(t, levels[1].Resistance)
}

func TestAdjustLevelsDropsZeroStrikes(t *testing.T) {
	raw := []RawLevel{
		{Strike: 0, GEX: 1000},
		{Strike: -5, GEX: 1000},
		{Strike: 200, GEX: 1000},
	}

	levels := AdjustLevels(raw, 0)

	require.Len(t, levels, 1)
	assert.Equal(t, 200.0, levels[0].Strike)
}

func TestApplySetsCurrentLabel(t *testing.T) {
	s := NewState(newTestLogger())

	err := s.Apply(Update{Regime: "GRIND UP", Code: CodeGrindUp}, 0, time.Now())
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "GRIND UP", snap.Record.Current)
	assert.Equal(t, CodeGrindUp, snap.Record.Code)
	assert.Equal(t, NoPrevious, snap.Record.Previous)
}

func TestApplyShiftsPreviousOnGenuineChange(t *testing.T) {
	s := NewState(newTestLogger())

	require.NoError(t, s.Apply(Update{Regime: "GRIND UP", Code: CodeGrindUp}, 0, time.Now()))
	require.NoError(t, s.Apply(Update{Regime: "MELT UP", Code: CodeMeltUp}, 0, time.Now()))

	snap := s.Snapshot()
	assert.Equal(t, "MELT UP", snap.Record.Current)
	assert.Equal(t, "GRIND UP", snap.Record.Previous)
}

func TestApplyIsIdempotentForRepeatedLabels(t *testing.T) {
	s := NewState(newTestLogger())

	require.NoError(t, s.Apply(Update{Regime: "GRIND UP"}, 0, time.Now()))
	require.NoError(t, s.Apply(Update{Regime: "MELT UP"}, 0, time.Now()))

	first := s.Snapshot()

	// Resubmitting the same label must not drift the previous label
	require.NoError(t, s.Apply(Update{Regime: "MELT UP"}, 0, time.Now()))
	second := s.Snapshot()

	assert.Equal(t, first.Record.Previous, second.Record.Previous)
	assert.Equal(t, "GRIND UP", second.Record.Previous)
}

func TestApplyNeverShiftsFromWaitingSentinel(t *testing.T) {
	s := NewState(newTestLogger())

	require.NoError(t, s.Apply(Update{Regime: "SUPPORT / CHOP"}, 0, time.Now()))

	snap := s.Snapshot()
	assert.Equal(t, NoPrevious, snap.Record.Previous)
	assert.NotEqual(t, LabelWaiting, snap.Record.Current)
}

func TestApplySkipsPriceStepsWithoutSampledPrice(t *testing.T) {
	s := NewState(newTestLogger())

	update := Update{
		Regime:    "GRIND UP",
		IndexSpot: 15000.6,
		Levels:    []RawLevel{{Strike: 15050, GEX: 1000}},
	}
	require.NoError(t, s.Apply(update, 0, time.Now()))

	snap := s.Snapshot()
	assert.Equal(t, 15000.6, snap.Prices.IndexPrice)
	assert.Zero(t, snap.Prices.InstrumentPrice)
	assert.Zero(t, snap.Prices.Spread)
	assert.Empty(t, snap.Levels, "levels must not update before a price is sampled")
}

func TestApplyRecomputesSpreadAndLevels(t *testing.T) {
	s := NewState(newTestLogger())

	update := Update{
		Regime:    "GRIND UP",
		IndexSpot: 15000.6,
		Levels: []RawLevel{
			{Strike: 15050, GEX: 1000},
			{Strike: 14950, GEX: -2000},
		},
	}
	require.NoError(t, s.Apply(update, 15002.1, time.Now()))

	snap := s.Snapshot()
	assert.Equal(t, -1.0, snap.Prices.Spread)
	require.Len(t, snap.Levels, 2)
	assert.Equal(t, 15051.0, snap.Levels[0].Adjusted)
	assert.True(t, snap.Levels[0].Resistance)
	assert.Equal(t, 14951.0, snap.Levels[1].Adjusted)
	assert.False(t, snap.Levels[1].Resistance)
}

func TestApplyRetainsStaleSpreadWhenIndexUnknown(t *testing.T) {
	s := NewState(newTestLogger())

	// Establish a spread first
	require.NoError(t, s.Apply(Update{Regime: "X", IndexSpot: 15010}, 15008, time.Now()))
	require.Equal(t, 2.0, s.Snapshot().Prices.Spread)

	// Next update carries no index spot; spread must not be reset
	require.NoError(t, s.Apply(Update{Regime: "X", Levels: []RawLevel{{Strike: 15000, GEX: 5}}}, 15009, time.Now()))

	snap := s.Snapshot()
	assert.Equal(t, 2.0, snap.Prices.Spread)
	require.Len(t, snap.Levels, 1)
	assert.Equal(t, 14998.0, snap.Levels[0].Adjusted)
}

func TestApplyReplacesLevelListWholesale(t *testing.T) {
	s := NewState(newTestLogger())

	require.NoError(t, s.Apply(Update{
		Regime: "X", IndexSpot: 100,
		Levels: []RawLevel{{Strike: 90, GEX: 1}, {Strike: 95, GEX: 1}, {Strike: 105, GEX: 1}},
	}, 100, time.Now()))
	require.Len(t, s.Snapshot().Levels, 3)

	require.NoError(t, s.Apply(Update{
		Regime: "X", IndexSpot: 100,
		Levels: []RawLevel{{Strike: 101, GEX: -1}},
	}, 100, time.Now()))

	snap := s.Snapshot()
	require.Len(t, snap.Levels, 1)
	assert.Equal(t, 101.0, snap.Levels[0].Strike)
}

func TestApplyTruncatesTimestampToSeconds(t *testing.T) {
	s := NewState(newTestLogger())

	now := time.Date(2026, 3, 12, 14, 30, 45, 987654321, time.UTC)
	require.NoError(t, s.Apply(Update{Regime: "X"}, 0, now))

	assert.Equal(t, now.Truncate(time.Second), s.Snapshot().Record.UpdatedAt)
}

func TestSnapshotIsCopiedOut(t *testing.T) {
	s := NewState(newTestLogger())

	require.NoError(t, s.Apply(Update{
		Regime: "X", IndexSpot: 100,
		Levels: []RawLevel{{Strike: 99, GEX: 10}},
	}, 100, time.Now()))

	snap := s.Snapshot()
	snap.Levels[0].Adjusted = -1

	assert.Equal(t, 99.0, s.Snapshot().Levels[0].Adjusted)
}

package regime

import (
	"strings"
	"time"
)

// Producer label sentinels
const (
	// LabelWaiting is the label before any update has arrived
	LabelWaiting = "WAITING"

	// LabelUnknown is the label used when a line carries no regime field
	LabelUnknown = "UNKNOWN"

	// NoPrevious marks that no genuine regime change has been observed yet
	NoPrevious = "---"
)

// Regime codes are a producer convention; unknown codes must be treated as
// CodeUnknown, never given new meanings on the consumer side.
const (
	CodeUnknown     = 0
	CodeGrindUp     = 1
	CodeMeltUp      = 2
	CodeSupportChop = 3
	CodeCrashFlush  = 4
)

var codeNames = map[int]string{
	CodeGrindUp:     "GRIND UP",
	CodeMeltUp:      "MELT UP",
	CodeSupportChop: "SUPPORT / CHOP",
	CodeCrashFlush:  "CRASH / FLUSH",
}

// CodeName returns the producer-convention label for a regime code
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return LabelUnknown
}

// ExtractRegimeCode maps a free-form regime label to its numeric code by
// substring match, mirroring how the producer derives it
func ExtractRegimeCode(label string) int {
	upper := strings.ToUpper(label)
	for code, name := range codeNames {
		if strings.Contains(upper, name) {
			return code
		}
	}
	return CodeUnknown
}

// Record holds the regime labels as last broadcast by the producer
type Record struct {
	Current   string
	Previous  string
	Code      int
	UpdatedAt time.Time
}

// PriceContext relates the producer's index price to the locally tracked
// instrument price. Spread is round(index) - round(instrument) and is only
// recomputed when both sides are known; otherwise the prior value is kept.
type PriceContext struct {
	IndexPrice      float64 // 0 means unknown
	InstrumentPrice float64 // 0 means unknown
	Spread          float64
}

// RawLevel is a gamma level exactly as decoded off the wire
type RawLevel struct {
	Strike float64 `json:"strike"`
	GEX    float64 `json:"gex"`
}

// Level is a gamma level translated into the instrument's price scale
type Level struct {
	Strike     float64
	GEX        float64
	Adjusted   float64 // Strike - Spread
	Resistance bool    // GEX > 0
}

// Update is one decoded wire line, produced by the protocol decoder
type Update struct {
	Regime    string
	Code      int
	IndexSpot float64
	Levels    []RawLevel
}

// Snapshot is a copied-out, internally consistent view of the aggregate.
// Consumers must treat empty levels and zero prices as "nothing to draw yet".
type Snapshot struct {
	Record Record
	Prices PriceContext
	Levels []Level
}

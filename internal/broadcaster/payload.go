package broadcaster

import (
	"math"
	"strings"
	"time"

	"regimesync/internal/domain/regime"
)

// Compass is the summary direction of the market overview
type Compass struct {
	Label    string  `json:"label"`
	XScore   float64 `json:"x_score"`
	YScore   float64 `json:"y_score"`
	Strategy string  `json:"strategy"`
}

// Component carries per-symbol gamma context
type Component struct {
	Symbol     string  `json:"symbol"`
	Spot       float64 `json:"spot"`
	FlipStrike float64 `json:"flip_strike"`
	NetGEX     float64 `json:"net_gex"`
}

// Overview is the analysis result a producer broadcasts from
type Overview struct {
	Compass     Compass                      `json:"compass"`
	Components  []Component                  `json:"components"`
	GammaLevels map[string][]regime.RawLevel `json:"gamma_levels"`
}

// Payload is the flat wire message consumers decode line by line
type Payload struct {
	Type       string  `json:"type"`
	Timestamp  string  `json:"timestamp"`
	Regime     string  `json:"regime"`
	RegimeCode int     `json:"regime_code"`
	Confidence string  `json:"confidence"`
	XScore     float64 `json:"x_score"`
	YScore     float64 `json:"y_score"`
	Strategy   string  `json:"strategy"`

	SpotSPY   float64 `json:"spot_spy"`
	FlipSPY   float64 `json:"flip_spy"`
	NetGEXSPY float64 `json:"net_gex_spy"`
	SpotSPX   float64 `json:"spot_spx"`
	SpotNDX   float64 `json:"spot_ndx"`

	GammaLevelsNDX []regime.RawLevel `json:"gamma_levels_ndx"`
	GammaLevelsSPX []regime.RawLevel `json:"gamma_levels_spx"`
}

// labelMarkers are presentation prefixes producers attach to compass labels
var labelMarkers = []string{"🟢 ", "🟡 ", "🔴 ", "⚪ "}

func cleanLabel(label string) string {
	for _, marker := range labelMarkers {
		label = strings.ReplaceAll(label, marker, "")
	}
	label = strings.ReplaceAll(label, "WEAK ", "")
	return strings.TrimSpace(label)
}

// BuildPayload flattens an overview into the wire message
func BuildPayload(ov Overview, now time.Time) Payload {
	var spy, spx, ndx Component
	for _, c := range ov.Components {
		switch c.Symbol {
		case "SPY":
			spy = c
		case "SPX":
			spx = c
		case "NDX":
			ndx = c
		}
	}

	label := ov.Compass.Label
	confidence := "HIGH"
	if strings.Contains(label, "WEAK") {
		confidence = "LOW"
	}

	return Payload{
		Type:       "REGIME_UPDATE",
		Timestamp:  now.Format(time.RFC3339),
		Regime:     cleanLabel(label),
		RegimeCode: regime.ExtractRegimeCode(label),
		Confidence: confidence,
		XScore:     round4(ov.Compass.XScore),
		YScore:     round4(ov.Compass.YScore),
		Strategy:   ov.Compass.Strategy,

		SpotSPY:   spy.Spot,
		FlipSPY:   spy.FlipStrike,
		NetGEXSPY: spy.NetGEX,
		SpotSPX:   spx.Spot,
		SpotNDX:   ndx.Spot,

		GammaLevelsNDX: ov.GammaLevels["NDX"],
		GammaLevelsSPX: ov.GammaLevels["SPX"],
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

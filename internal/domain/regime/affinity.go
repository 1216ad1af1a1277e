package regime

import "strings"

// Affinity selects which producer fields this consumer reads
type Affinity string

const (
	AffinityNone Affinity = ""
	AffinityNDX  Affinity = "NDX"
	AffinitySPX  Affinity = "SPX"
)

// AffinityForInstrument derives the symbol affinity from the host's active
// instrument name. NQ/MNQ charts read the NDX fields, ES/MES charts the SPX
// fields; anything else leaves the client idle with respect to price and
// levels.
func AffinityForInstrument(name string) Affinity {
	upper := strings.ToUpper(name)

	switch {
	case strings.Contains(upper, "MNQ"), strings.Contains(upper, "NQ"):
		return AffinityNDX
	case strings.Contains(upper, "MES"), strings.Contains(upper, "ES"):
		return AffinitySPX
	default:
		return AffinityNone
	}
}

// SpotField returns the wire field carrying the index spot for this affinity
func (a Affinity) SpotField() string {
	switch a {
	case AffinityNDX:
		return "spot_ndx"
	case AffinitySPX:
		return "spot_spx"
	default:
		return ""
	}
}

// LevelsField returns the wire field carrying the gamma levels for this affinity
func (a Affinity) LevelsField() string {
	switch a {
	case AffinityNDX:
		return "gamma_levels_ndx"
	case AffinitySPX:
		return "gamma_levels_spx"
	default:
		return ""
	}
}

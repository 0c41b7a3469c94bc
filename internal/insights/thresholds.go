package insights

import "math"

// Band is the magnitude class of a change.
type Band int

const (
	BandNone Band = iota
	BandSignificant
	BandHigh
	BandCritical
)

func (b Band) String() string {
	switch b {
	case BandSignificant:
		return "significant"
	case BandHigh:
		return "high"
	case BandCritical:
		return "critical"
	default:
		return "none"
	}
}

type Thresholds struct {
	Significant float64
	High        float64
	Critical    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Significant: 0.20, High: 0.50, Critical: 0.80}
}

// absorbs float noise such as 0.7999999999 for an 80% move
const epsilon = 1e-9

// Classify bands the absolute value of a fractional change.
func (t Thresholds) Classify(change float64) Band {
	if math.IsNaN(change) || math.IsInf(change, 0) {
		return BandNone
	}
	a := math.Abs(change) + epsilon
	switch {
	case a >= t.Critical:
		return BandCritical
	case a >= t.High:
		return BandHigh
	case a >= t.Significant:
		return BandSignificant
	default:
		return BandNone
	}
}

func (t Thresholds) orDefault() Thresholds {
	if t.Significant <= 0 || t.High <= 0 || t.Critical <= 0 {
		return DefaultThresholds()
	}
	return t
}

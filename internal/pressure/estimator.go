package pressure

// SavingsEstimator guesses how many bytes compressing a resident model would
// save. Estimates are reported separately and never counted as freed.
type SavingsEstimator interface {
	EstimateSavings(m ModelInfo) uint64
}

// NoSavings estimates nothing.
type NoSavings struct{}

func (NoSavings) EstimateSavings(ModelInfo) uint64 { return 0 }

// RatioTier applies Ratio to models smaller than BelowMB (0 = no bound).
type RatioTier struct {
	BelowMB uint64
	Ratio   float64
}

// RatioEstimator applies a size-tiered ratio to each model's footprint.
// Models under MinMB are skipped. Tiers are checked in order.
type RatioEstimator struct {
	MinMB uint64
	Tiers []RatioTier
}

// DefaultRatioEstimator skips models under 10 MB and estimates 15%, 25% and
// 35% for models under 50 MB, under 200 MB and larger.
func DefaultRatioEstimator() RatioEstimator {
	return RatioEstimator{
		MinMB: 10,
		Tiers: []RatioTier{{BelowMB: 50, Ratio: 0.15}, {BelowMB: 200, Ratio: 0.25}, {Ratio: 0.35}},
	}
}

func (e RatioEstimator) EstimateSavings(m ModelInfo) uint64 {
	mb := m.FootprintBytes >> 20
	if mb < e.MinMB {
		return 0
	}
	for _, t := range e.Tiers {
		if t.BelowMB == 0 || mb < t.BelowMB {
			return uint64(float64(m.FootprintBytes) * t.Ratio)
		}
	}
	return 0
}

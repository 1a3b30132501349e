package prediction

// RiskCategory is the coarse band a probability falls into.
type RiskCategory string

const (
	RiskLow    RiskCategory = "Low"
	RiskMedium RiskCategory = "Medium"
	RiskHigh   RiskCategory = "High"
)

const (
	// LowRiskUpperBound is the first probability classified as Medium.
	LowRiskUpperBound = 0.30
	// HighRiskLowerBound is the first probability classified as High.
	HighRiskLowerBound = 0.70
)

// Categorize maps p to Low below 0.30, High from 0.70 and Medium in between.
func Categorize(p float64) RiskCategory {
	switch {
	case p < LowRiskUpperBound:
		return RiskLow
	case p < HighRiskLowerBound:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func (c RiskCategory) String() string {
	return string(c)
}

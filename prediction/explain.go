package prediction

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

// MaterialityThreshold is the absolute attribution a feature must exceed to
// appear in an explanation.
const MaterialityThreshold = 0.01

// FeatureExplanation is one feature's signed contribution to the positive-class probability.
type FeatureExplanation struct {
	Feature       string  `json:"feature"`
	ValueProvided string  `json:"value_provided"`
	Impact        float64 `json:"impact"`
	Description   string  `json:"description"`
}

// RankContributions pairs each column with its attribution and the aligned
// value the caller supplied, orders them by descending absolute attribution
// and keeps the material ones. Equal magnitudes keep column order.
func RankContributions(columns []string, scores, values []float64) []FeatureExplanation {
	type contribution struct {
		feature string
		score   float64
		value   float64
	}
	contributions := make([]contribution, len(columns))
	for i, name := range columns {
		contributions[i] = contribution{feature: name, score: scores[i], value: values[i]}
	}
	slices.SortStableFunc(contributions, func(a, b contribution) int {
		ma, mb := math.Abs(a.score), math.Abs(b.score)
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})

	explanations := make([]FeatureExplanation, 0, len(contributions))
	for _, c := range contributions {
		if math.Abs(c.score) <= MaterialityThreshold {
			continue
		}
		value := formatValue(c.value)
		explanations = append(explanations, FeatureExplanation{
			Feature:       c.feature,
			ValueProvided: value,
			Impact:        c.score,
			Description:   describe(c.feature, value, c.score),
		})
	}
	return explanations
}

func describe(feature, value string, score float64) string {
	direction := "decreased"
	if score > 0 {
		direction = "increased"
	}
	return fmt.Sprintf("Your value of '%s' for '%s' %s your risk.", value, feature, direction)
}

// formatValue renders v in its shortest decimal form: 63 rather than 63.0.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// explain scales the aligned vector, asks the explainer for positive-class
// attributions and ranks them.
func explain(snapshot *Artifacts, vector []float64) ([]FeatureExplanation, float64, error) {
	if snapshot.Explainer == nil {
		return nil, 0, ErrExplainerNotLoaded
	}
	scaled, err := snapshot.Model.Scale(vector)
	if err != nil {
		return nil, 0, fmt.Errorf("scale: %w", err)
	}
	scores, err := snapshot.Explainer.AttributionsForPositiveClass(scaled)
	if err != nil {
		return nil, 0, fmt.Errorf("attributions: %w", err)
	}
	if len(scores) != len(snapshot.Columns) {
		return nil, 0, fmt.Errorf("explainer returned %d scores for %d columns", len(scores), len(snapshot.Columns))
	}
	return RankContributions(snapshot.Columns, scores, vector), snapshot.Explainer.ExpectedValueForPositiveClass(), nil
}

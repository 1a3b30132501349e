package prediction

// RecommendationWindow is how many top-ranked explanations are considered
// for advice.
const RecommendationWindow = 4

// Recommendation is advice for one risk-increasing feature.
type Recommendation struct {
	Feature string `json:"feature"`
	Advice  string `json:"advice"`
}

var recommendationMap = map[string]string{
	"trestbps": "Your blood pressure was a key factor. Consider discussing salt reduction and regular exercise with your doctor.",
	"chol":     "Your cholesterol level was a significant contributor. Dietary changes and exercise can help. Please consult your doctor.",
	"fbs":      "Your high fasting blood sugar (over 120 mg/dl) is a risk factor. Please consult your doctor about managing blood glucose.",
	"exang":    "Experiencing chest pain (angina) during exercise is a strong risk factor. Avoid strenuous activity until you consult a doctor.",
	"oldpeak":  "The ST depression ('oldpeak') in your EKG is a significant factor. This requires medical evaluation.",
	"cp":       "The type of chest pain ('cp') you reported is a major factor. Please discuss this symptom with your doctor immediately.",
	"age":      "Age is a non-modifiable risk factor. It's important to manage all other controllable risk factors like diet and exercise.",
}

// Advice returns the canned advice for feature, if any.
func Advice(feature string) (string, bool) {
	advice, ok := recommendationMap[feature]
	return advice, ok
}

// Recommend walks the first RecommendationWindow ranked explanations and
// returns advice for each risk-increasing feature that has some, at most once
// per feature.
func Recommend(ranked []FeatureExplanation) []Recommendation {
	window := ranked
	if len(window) > RecommendationWindow {
		window = window[:RecommendationWindow]
	}

	recommendations := make([]Recommendation, 0, len(window))
	seen := make(map[string]struct{}, len(window))
	for _, e := range window {
		if e.Impact <= 0 {
			continue
		}
		advice, ok := recommendationMap[e.Feature]
		if !ok {
			continue
		}
		if _, dup := seen[e.Feature]; dup {
			continue
		}
		seen[e.Feature] = struct{}{}
		recommendations = append(recommendations, Recommendation{Feature: e.Feature, Advice: advice})
	}
	return recommendations
}

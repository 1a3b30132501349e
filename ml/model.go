package ml

import "errors"

// Errors returned by model training, prediction and decoding.
var (
	ErrNotTrained          = errors.New("model not trained")
	ErrUnsupportedModel    = errors.New("unsupported model type")
	ErrFeatureCount        = errors.New("feature count mismatch")
	ErrFingerprintMismatch = errors.New("explainer fingerprint does not match classifier")
	ErrExplainerUnbound    = errors.New("explainer is not bound to a classifier")
)

// MLModel is a probabilistic classifier over dense feature vectors.
type MLModel interface {
	PredictProba(features []float64) ([]float64, error)
	NumFeatures() int
	NumClasses() int
}

var _ MLModel = (*RandomForest)(nil)
var _ MLModel = (*DecisionTree)(nil)

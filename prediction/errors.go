// Package prediction turns a raw patient record into a heart disease risk
// assessment: a label, a probability, a risk band, ranked Shapley
// explanations and matching lifestyle recommendations.
package prediction

import "errors"

var (
	// ErrArtifactMissing is returned by Load when an artifact file is absent
	// or cannot be read.
	ErrArtifactMissing = errors.New("model artifact missing")
	// ErrArtifactInvalid is returned by Load when an artifact cannot be
	// decoded or the artifacts disagree on the number of features.
	ErrArtifactInvalid = errors.New("model artifact invalid")
	// ErrArtifactMismatch is returned by Load when the explainer was built
	// for a different classifier than the one in the pipeline.
	ErrArtifactMismatch = errors.New("explainer does not match pipeline")

	// ErrModelNotLoaded and ErrExplainerNotLoaded mean a prediction ran before its artifacts were available.
	ErrModelNotLoaded     = errors.New("model not loaded")
	ErrExplainerNotLoaded = errors.New("explainer not loaded")

	// ErrInvalidAttribute marks caller input that is not a finite number.
	ErrInvalidAttribute = errors.New("invalid attribute")
)

package prediction

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPrediction struct {
	risk   string
	cached bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedPrediction
}

func (r *fakeRecorder) ObservePrediction(risk string, _ time.Duration, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedPrediction{risk: risk, cached: cached})
}

func TestServicePredictHighRisk(t *testing.T) {
	svc, err := NewService(loadedStore(t))
	require.NoError(t, err)

	record := classicRecord()
	record["chol"] = 289

	result, err := svc.Predict(record)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Prediction)
	assert.InDelta(t, 0.9, result.Probability, 1e-12)
	assert.Equal(t, RiskHigh, result.RiskCategory)
	assert.InDelta(t, 0.5, result.BaseValue, 1e-12)

	require.Len(t, result.Explanations, 2)
	assert.Equal(t, "age", result.Explanations[0].Feature)
	assert.InDelta(t, 0.44/1.5, result.Explanations[0].Impact, 1e-9)
	assert.Equal(t, "Your value of '63' for 'age' increased your risk.", result.Explanations[0].Description)
	assert.Equal(t, "chol", result.Explanations[1].Feature)
	assert.InDelta(t, 0.16/1.5, result.Explanations[1].Impact, 1e-9)
	assert.Equal(t, "289", result.Explanations[1].ValueProvided)

	sum := result.BaseValue
	for _, e := range result.Explanations {
		sum += e.Impact
	}
	assert.InDelta(t, result.Probability, sum, 1e-9)

	require.Len(t, result.Recommendations, 2)
	assert.Equal(t, "age", result.Recommendations[0].Feature)
	assert.Equal(t, "chol", result.Recommendations[1].Feature)
}

func TestServicePredictLowRisk(t *testing.T) {
	svc, err := NewService(loadedStore(t))
	require.NoError(t, err)

	result, err := svc.Predict(map[string]float64{"age": 40, "chol": 289})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Prediction)
	assert.InDelta(t, 0.1, result.Probability, 1e-12)
	assert.Equal(t, RiskLow, result.RiskCategory)

	require.Len(t, result.Explanations, 2)
	assert.Equal(t, "age", result.Explanations[0].Feature)
	assert.InDelta(t, -0.44, result.Explanations[0].Impact, 1e-9)
	assert.Equal(t, "Your value of '40' for 'age' decreased your risk.", result.Explanations[0].Description)
	assert.InDelta(t, 0.04, result.Explanations[1].Impact, 1e-9)

	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "chol", result.Recommendations[0].Feature)
}

func TestServicePredictClassicRecord(t *testing.T) {
	svc, err := NewService(loadedStore(t))
	require.NoError(t, err)

	result, err := svc.Predict(classicRecord())
	require.NoError(t, err)

	assert.Contains(t, []int{0, 1}, result.Prediction)
	assert.GreaterOrEqual(t, result.Probability, 0.0)
	assert.LessOrEqual(t, result.Probability, 1.0)
	assert.Equal(t, Categorize(result.Probability), result.RiskCategory)
	for i, e := range result.Explanations {
		assert.Greater(t, math.Abs(e.Impact), MaterialityThreshold)
		if i > 0 {
			assert.GreaterOrEqual(t, math.Abs(result.Explanations[i-1].Impact), math.Abs(e.Impact))
		}
	}
	assert.LessOrEqual(t, len(result.Recommendations), RecommendationWindow)
}

func TestServicePredictIdempotent(t *testing.T) {
	recorder := &fakeRecorder{}
	svc, err := NewService(loadedStore(t), WithRecorder(recorder))
	require.NoError(t, err)

	record := map[string]float64{"age": 70, "chol": 300, "unknown": 5}
	first, err := svc.Predict(record)
	require.NoError(t, err)

	first.Explanations[0].Feature = "mutated"
	first.Recommendations = nil

	second, err := svc.Predict(record)
	require.NoError(t, err)
	assert.Equal(t, "age", second.Explanations[0].Feature)
	assert.NotEmpty(t, second.Recommendations)

	uncached, err := NewService(loadedStore(t), WithCacheSize(0))
	require.NoError(t, err)
	third, err := uncached.Predict(record)
	require.NoError(t, err)
	assert.Equal(t, second, third)

	require.Len(t, recorder.entries, 2)
	assert.False(t, recorder.entries[0].cached)
	assert.True(t, recorder.entries[1].cached)
	assert.Equal(t, "High", recorder.entries[1].risk)
}

func TestServicePredictRejectsNonFinite(t *testing.T) {
	svc, err := NewService(loadedStore(t))
	require.NoError(t, err)

	for name, v := range map[string]float64{"nan": math.NaN(), "+inf": math.Inf(1), "-inf": math.Inf(-1)} {
		t.Run(name, func(t *testing.T) {
			record := classicRecord()
			record["chol"] = v
			_, err := svc.Predict(record)
			assert.ErrorIs(t, err, ErrInvalidAttribute)
		})
	}
}

func TestServicePredictNotLoaded(t *testing.T) {
	svc, err := NewService(NewArtifactStore(nil, nil))
	require.NoError(t, err)

	_, err = svc.Predict(classicRecord())
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestServicePredictWithoutExplainer(t *testing.T) {
	store := NewArtifactStore(nil, nil)
	require.NoError(t, store.Install(fixturePipeline(), heartColumns, nil))
	svc, err := NewService(store)
	require.NoError(t, err)

	_, err = svc.Predict(classicRecord())
	assert.ErrorIs(t, err, ErrExplainerNotLoaded)
}

func TestServiceStreakUsesClock(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(NewArtifactStore(nil, nil), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	assert.Equal(t, 0, svc.Streak(nil))
	assert.Equal(t, 2, svc.Streak([]time.Time{now.Add(-time.Hour), now.Add(-8 * 24 * time.Hour)}))
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}

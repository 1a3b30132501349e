package prediction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of results kept in the LRU cache.
const DefaultCacheSize = 1024

// Result is the full assessment for one patient record.
type Result struct {
	Prediction      int                  `json:"prediction"`
	Probability     float64              `json:"probability"`
	RiskCategory    RiskCategory         `json:"risk_category"`
	Explanations    []FeatureExplanation `json:"explanations"`
	BaseValue       float64              `json:"base_value"`
	Recommendations []Recommendation     `json:"recommendations"`
}

func (r *Result) clone() *Result {
	out := *r
	out.Explanations = slices.Clone(r.Explanations)
	out.Recommendations = slices.Clone(r.Recommendations)
	return &out
}

// Recorder receives per-prediction measurements.
type Recorder interface {
	ObservePrediction(riskCategory string, elapsed time.Duration, cached bool)
}

type nopRecorder struct{}

func (nopRecorder) ObservePrediction(string, time.Duration, bool) {}

// Service runs the prediction pipeline against the store's current snapshot.
type Service struct {
	store     *ArtifactStore
	logger    *zap.Logger
	recorder  Recorder
	cacheSize int
	cache     *lru.Cache[string, *Result]
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sends per-prediction measurements to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCacheSize sets the result cache capacity; 0 disables caching.
func WithCacheSize(size int) Option {
	return func(s *Service) {
		s.cacheSize = size
	}
}

// WithClock overrides the time source used by Streak.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service over store. The store may still be empty.
func NewService(store *ArtifactStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	s := &Service{
		store:     store,
		logger:    zap.NewNop(),
		recorder:  nopRecorder{},
		cacheSize: DefaultCacheSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		cache, err := lru.New[string, *Result](s.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Store returns the artifact store the service reads from.
func (s *Service) Store() *ArtifactStore {
	return s.store
}

// Predict aligns raw to the model columns, classifies it, explains the
// positive-class probability and attaches recommendations. A NaN or infinite
// attribute gives ErrInvalidAttribute.
func (s *Service) Predict(raw map[string]float64) (*Result, error) {
	start := time.Now()

	if err := checkFinite(raw); err != nil {
		return nil, err
	}
	snapshot, err := s.store.Snapshot()
	if err != nil {
		return nil, err
	}
	vector := Align(raw, snapshot.Columns)

	key := cacheKey(snapshot.Generation, vector)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.recorder.ObservePrediction(cached.RiskCategory.String(), time.Since(start), true)
			return cached.clone(), nil
		}
	}

	label, probability, err := snapshot.Model.PredictClassAndProbability(vector)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	explanations, baseValue, err := explain(snapshot, vector)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Prediction:      label,
		Probability:     probability,
		RiskCategory:    Categorize(probability),
		Explanations:    explanations,
		BaseValue:       baseValue,
		Recommendations: Recommend(explanations),
	}
	if s.cache != nil {
		s.cache.Add(key, result.clone())
	}

	elapsed := time.Since(start)
	s.recorder.ObservePrediction(result.RiskCategory.String(), elapsed, false)
	s.logger.Debug("prediction computed",
		zap.Int("prediction", result.Prediction),
		zap.Float64("probability", result.Probability),
		zap.String("risk_category", result.RiskCategory.String()),
		zap.Int("explanations", len(result.Explanations)),
		zap.Uint64("generation", snapshot.Generation),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// Now reads the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Streak counts weekly engagement as of the service clock.
func (s *Service) Streak(timestamps []time.Time) int {
	return Streak(s.now(), timestamps)
}

func cacheKey(generation uint64, vector []float64) string {
	buf := make([]byte, 8*(len(vector)+1))
	binary.LittleEndian.PutUint64(buf, generation)
	for i, v := range vector {
		binary.LittleEndian.PutUint64(buf[8*(i+1):], math.Float64bits(v))
	}
	return string(buf)
}

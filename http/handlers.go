package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"heartrisk/db"
	"heartrisk/monitoring"
	"heartrisk/prediction"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

var (
	errBadRequest      = errors.New("bad request")
	errHistoryDisabled = errors.New("prediction history is not configured")
	errServiceRequired = errors.New("prediction service required")
)

type errorBody struct {
	Error string `json:"error"`
}

// Deps wires the API to the rest of the process. Only Service is required.
type Deps struct {
	Service *prediction.Service
	History db.Store
	Feed    *monitoring.PredictionFeed
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// API holds the HTTP handlers.
type API struct {
	service *prediction.Service
	history db.Store
	feed    *monitoring.PredictionFeed
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewAPI validates deps and fills in defaults.
func NewAPI(deps Deps) (*API, error) {
	if deps.Service == nil {
		return nil, errServiceRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service: deps.Service,
		history: deps.History,
		feed:    deps.Feed,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

// Register adds every route to mux. The feed and metrics routes are added only when configured.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("POST /api/users/{userID}/predictions", a.handleCreatePrediction)
	mux.HandleFunc("GET /api/users/{userID}/predictions", a.handleListPredictions)
	mux.HandleFunc("GET /api/users/{userID}/profile", a.handleProfile)
	mux.HandleFunc("POST /api/streak", a.handleStreak)
	mux.HandleFunc("GET /api/patients", a.handlePatients)
	mux.HandleFunc("GET /api/training-log", a.handleTrainingLog)
	mux.HandleFunc("POST /api/artifacts/reload", a.handleReload)
	if a.feed != nil {
		mux.HandleFunc("GET /api/ws/predictions", a.feed.HandleWebSocket)
	}
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}

func (a *API) httpObserver() HTTPObserver {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	store := a.service.Store()
	body := map[string]any{
		"status":          "ok",
		"artifacts_ready": store.Ready(),
		"generation":      store.Generation(),
	}
	if a.metrics != nil {
		body["uptime_seconds"] = a.metrics.Uptime().Seconds()
	}
	respondJSON(w, http.StatusOK, body)
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	record, err := decodeAttributes(r.Body)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	result, err := a.service.Predict(record)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type savedPrediction struct {
	*prediction.Result
	RecordID  int64     `json:"record_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// handleCreatePrediction predicts, stores the outcome and announces it on the feed.
func (a *API) handleCreatePrediction(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.respondError(w, r, errHistoryDisabled)
		return
	}
	userID := r.PathValue("userID")
	record, err := decodeAttributes(r.Body)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	result, err := a.service.Predict(record)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	stored := db.PredictionRecord{
		UserID:           userID,
		PredictionResult: result.Prediction,
		Probability:      result.Probability,
		RiskCategory:     result.RiskCategory.String(),
		Timestamp:        a.service.Now(),
	}
	if err := a.history.SavePrediction(r.Context(), &stored); err != nil {
		a.respondError(w, r, fmt.Errorf("save prediction: %w", err))
		return
	}

	if a.feed != nil {
		a.feed.PublishPrediction(monitoring.PredictionEvent{
			UserID:       stored.UserID,
			Prediction:   stored.PredictionResult,
			Probability:  stored.Probability,
			RiskCategory: stored.RiskCategory,
			Timestamp:    stored.Timestamp,
		})
	}

	respondJSON(w, http.StatusCreated, savedPrediction{
		Result:    result,
		RecordID:  stored.ID,
		UserID:    stored.UserID,
		Timestamp: stored.Timestamp,
	})
}

func (a *API) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.respondError(w, r, errHistoryDisabled)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.respondError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	userID := r.PathValue("userID")
	records, err := a.history.ListPredictions(r.Context(), userID, limit)
	if err != nil {
		a.respondError(w, r, fmt.Errorf("list predictions: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"predictions": records,
	})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.respondError(w, r, errHistoryDisabled)
		return
	}
	userID := r.PathValue("userID")
	count, err := a.history.CountPredictions(r.Context(), userID)
	if err != nil {
		a.respondError(w, r, fmt.Errorf("count predictions: %w", err))
		return
	}

	since := a.service.Now().Add(-time.Duration(prediction.MaxStreakWeeks) * 7 * 24 * time.Hour)
	timestamps, err := a.history.PredictionTimestamps(r.Context(), userID, since)
	if err != nil {
		a.respondError(w, r, fmt.Errorf("load timestamps: %w", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":           userID,
		"prediction_count":  count,
		"prediction_streak": a.service.Streak(timestamps),
	})
}

type streakRequest struct {
	Timestamps []time.Time `json:"timestamps"`
}

func (a *API) handleStreak(w http.ResponseWriter, r *http.Request) {
	var req streakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"streak": a.service.Streak(req.Timestamps)})
}

func (a *API) handlePatients(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.respondError(w, r, errHistoryDisabled)
		return
	}
	patients, err := a.history.ListPatients(r.Context())
	if err != nil {
		a.respondError(w, r, fmt.Errorf("list patients: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

func (a *API) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.respondError(w, r, errHistoryDisabled)
		return
	}
	logs, err := a.history.LoadTrainingLog(r.Context())
	if err != nil {
		a.respondError(w, r, fmt.Errorf("load training log: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": logs})
}

// handleReload re-reads the artifact directory. A failed reload keeps the
// previous snapshot serving.
func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	store := a.service.Store()
	err := store.Load()
	if a.metrics != nil {
		a.metrics.ObserveReload(store.Generation(), err)
	}
	if a.feed != nil {
		a.feed.PublishReload(store.Generation(), err)
	}
	if err != nil {
		a.logger.Warn("artifact reload failed", zap.Error(err))
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"generation": store.Generation(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"generation": store.Generation()})
}

// decodeAttributes reads a JSON object of numeric patient attributes.
func decodeAttributes(body io.Reader) (map[string]float64, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", errBadRequest)
	}
	return prediction.ParseAttributes(raw)
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, prediction.ErrInvalidAttribute), errors.Is(err, db.ErrUserRequired):
		return http.StatusBadRequest
	case errors.Is(err, prediction.ErrModelNotLoaded), errors.Is(err, prediction.ErrExplainerNotLoaded), errors.Is(err, errHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondJSON(w, status, errorBody{Error: "internal server error"})
		return
	}
	respondJSON(w, status, errorBody{Error: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

// Package db persists prediction history and training runs.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrNotInitialized = errors.New("database not initialized")
	ErrUserRequired   = errors.New("user id required")
)

// PredictionRecord is one stored assessment.
type PredictionRecord struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	PredictionResult int       `json:"prediction_result"`
	Probability      float64   `json:"probability"`
	RiskCategory     string    `json:"risk_category"`
	Timestamp        time.Time `json:"timestamp"`
}

// PatientSummary aggregates a user's history for the clinician overview.
type PatientSummary struct {
	UserID           string    `json:"user_id"`
	PredictionCount  int       `json:"prediction_count"`
	LastRiskCategory string    `json:"last_risk_category"`
	LastPredictionAt time.Time `json:"last_prediction_at"`
}

// TrainingLog is one recorded training run.
type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

// Store is implemented by the SQLite and PostgreSQL backends.
type Store interface {
	SavePrediction(ctx context.Context, record *PredictionRecord) error
	// ListPredictions returns a user's records newest first; limit <= 0 means all.
	ListPredictions(ctx context.Context, userID string, limit int) ([]PredictionRecord, error)
	// PredictionTimestamps returns timestamps strictly after since.
	PredictionTimestamps(ctx context.Context, userID string, since time.Time) ([]time.Time, error)
	CountPredictions(ctx context.Context, userID string) (int, error)
	ListPatients(ctx context.Context) ([]PatientSummary, error)
	SaveTrainingLog(ctx context.Context, log TrainingLog) error
	LoadTrainingLog(ctx context.Context) ([]TrainingLog, error)
	Close() error
}

// Config selects and addresses a backend.
type Config struct {
	Driver   string
	Path     string
	URL      string
	MaxConns int32
}

// Open connects to the configured backend and creates its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(cfg.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.URL, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func validateRecord(record *PredictionRecord) error {
	if record == nil {
		return errors.New("prediction record required")
	}
	if record.UserID == "" {
		return ErrUserRequired
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	record.Timestamp = record.Timestamp.UTC()
	return nil
}

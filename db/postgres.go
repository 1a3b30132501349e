package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)
var _ Store = (*SQLiteStore)(nil)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS predictions (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		prediction_result INTEGER NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		risk_category VARCHAR(20) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_user_time ON predictions(user_id, timestamp);
	CREATE TABLE IF NOT EXISTS training_log (
		id BIGSERIAL PRIMARY KEY,
		model_name VARCHAR(50),
		accuracy DOUBLE PRECISION,
		precision DOUBLE PRECISION,
		recall DOUBLE PRECISION,
		trained_at TIMESTAMPTZ,
		data_points INTEGER
	);
`

// PostgresStore keeps history in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url, pings it and creates the schema.
func OpenPostgres(ctx context.Context, url string, maxConns int32) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SavePrediction(ctx context.Context, record *PredictionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO predictions (user_id, prediction_result, probability, risk_category, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, record.UserID, record.PredictionResult, record.Probability, record.RiskCategory, record.Timestamp).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPredictions(ctx context.Context, userID string, limit int) ([]PredictionRecord, error) {
	query := `
		SELECT id, user_id, prediction_result, probability, risk_category, timestamp
		FROM predictions
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PredictionRecord, error) {
		var r PredictionRecord
		err := row.Scan(&r.ID, &r.UserID, &r.PredictionResult, &r.Probability, &r.RiskCategory, &r.Timestamp)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan predictions: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) PredictionTimestamps(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT timestamp FROM predictions
		WHERE user_id = $1 AND timestamp > $2
		ORDER BY timestamp DESC
	`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query timestamps: %w", err)
	}
	timestamps, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scan timestamps: %w", err)
	}
	return timestamps, nil
}

func (s *PostgresStore) CountPredictions(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM predictions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count predictions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListPatients(ctx context.Context) ([]PatientSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (p.user_id) p.user_id, c.cnt, p.risk_category, p.timestamp
		FROM predictions p
		JOIN (SELECT user_id, COUNT(*) AS cnt FROM predictions GROUP BY user_id) c ON c.user_id = p.user_id
		ORDER BY p.user_id, p.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	patients, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PatientSummary, error) {
		var p PatientSummary
		err := row.Scan(&p.UserID, &p.PredictionCount, &p.LastRiskCategory, &p.LastPredictionAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}
	return patients, nil
}

func (s *PostgresStore) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO training_log (model_name, accuracy, precision, recall, trained_at, data_points)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.ModelName, log.Accuracy, log.Precision, log.Recall, log.TrainedAt.UTC(), log.DataPoints)
	if err != nil {
		return fmt.Errorf("insert training log: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model_name, accuracy, precision, recall, trained_at, data_points
		FROM training_log
		ORDER BY trained_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query training log: %w", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TrainingLog, error) {
		var l TrainingLog
		err := row.Scan(&l.ModelName, &l.Accuracy, &l.Precision, &l.Recall, &l.TrainedAt, &l.DataPoints)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan training log: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

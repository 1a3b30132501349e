package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        prediction_result INTEGER NOT NULL,
        probability REAL NOT NULL,
        risk_category VARCHAR(20) NOT NULL,
        timestamp DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_user_time ON predictions(user_id, timestamp);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        model_name VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    `

// SQLiteStore keeps history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" works for tests) and creates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		database.SetMaxOpenConns(1)
	}
	if _, err := database.Exec(sqliteSchema); err != nil {
		database.Close()
		return nil, err
	}
	return &SQLiteStore{db: database}, nil
}

func (s *SQLiteStore) SavePrediction(ctx context.Context, record *PredictionRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (user_id, prediction_result, probability, risk_category, timestamp)
        VALUES (?, ?, ?, ?, ?)`,
		record.UserID, record.PredictionResult, record.Probability, record.RiskCategory, record.Timestamp)
	if err != nil {
		return err
	}
	record.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListPredictions(ctx context.Context, userID string, limit int) ([]PredictionRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, prediction_result, probability, risk_category, timestamp
        FROM predictions
        WHERE user_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.PredictionResult, &r.Probability, &r.RiskCategory, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) PredictionTimestamps(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT timestamp FROM predictions
        WHERE user_id = ?
        ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	timestamps := make([]time.Time, 0)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		if !ts.After(since) {
			break
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, rows.Err()
}

func (s *SQLiteStore) CountPredictions(ctx context.Context, userID string) (int, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) ListPatients(ctx context.Context) ([]PatientSummary, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT p.user_id, c.cnt, p.risk_category, p.timestamp
        FROM predictions p
        JOIN (
            SELECT user_id, COUNT(*) AS cnt, MAX(id) AS last_id
            FROM predictions
            GROUP BY user_id
        ) c ON p.id = c.last_id
        ORDER BY p.timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patients := make([]PatientSummary, 0)
	for rows.Next() {
		var p PatientSummary
		if err := rows.Scan(&p.UserID, &p.PredictionCount, &p.LastRiskCategory, &p.LastPredictionAt); err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *SQLiteStore) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, accuracy, precision, recall, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.Accuracy, log.Precision, log.Recall, log.TrainedAt.UTC(), log.DataPoints)
	return err
}

func (s *SQLiteStore) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, accuracy, precision, recall, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Accuracy, &log.Precision, &log.Recall, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/batch"
	"github.com/meditrace/phi-sentinel/internal/config"
)

// Store persists run summaries and compliance verdicts to PostgreSQL for
// long-term audit. Original identifier values never reach this store;
// only counts, verdicts, and hashed session metadata do.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// RunRecord is one persisted batch run.
type RunRecord struct {
	ID             int64     `db:"id"`
	BatchID        string    `db:"batch_id"`
	SessionID      string    `db:"session_id"`
	StartedAt      time.Time `db:"started_at"`
	DurationMS     int64     `db:"duration_ms"`
	ItemsTotal     int       `db:"items_total"`
	ItemsFailed    int       `db:"items_failed"`
	Identifiers    int64     `db:"identifiers"`
	UniqueSubjects int       `db:"unique_subjects"`
	Compliant      bool      `db:"compliant"`
	Checklist      string    `db:"checklist"`
	CreatedAt      time.Time `db:"created_at"`
}

// NewStore creates a new audit store instance
func NewStore(cfg config.AuditDBConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &Store{db: db, logger: logger}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS deid_runs (
			id BIGSERIAL PRIMARY KEY,
			batch_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			items_total INT NOT NULL,
			items_failed INT NOT NULL,
			identifiers BIGINT NOT NULL,
			unique_subjects INT NOT NULL,
			compliant BOOLEAN NOT NULL,
			checklist JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// SaveRun persists a completed batch result.
func (s *Store) SaveRun(ctx context.Context, result *batch.BatchResult) error {
	checklist, err := json.Marshal(result.Compliance.Checklist)
	if err != nil {
		return fmt.Errorf("failed to encode checklist: %w", err)
	}

	query := `
		INSERT INTO deid_runs
			(batch_id, session_id, started_at, duration_ms, items_total,
			 items_failed, identifiers, unique_subjects, compliant, checklist)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.ExecContext(ctx, query,
		result.BatchID,
		result.SessionID,
		result.StartTime,
		result.Duration.Milliseconds(),
		len(result.Items),
		result.Failures,
		result.Statistics.IdentifiersProcessed,
		result.UniqueSubjects,
		result.Compliance.Status == "compliant",
		checklist,
	)
	if err != nil {
		return fmt.Errorf("failed to persist run record: %w", err)
	}

	s.logger.Info("Run persisted to audit store",
		zap.String("batch_id", result.BatchID),
		zap.Int("items", len(result.Items)))
	return nil
}

// RecentRuns returns the most recent persisted runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunRecord
	query := `SELECT * FROM deid_runs ORDER BY created_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return runs, nil
}

// Close releases the database pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides credentials in log output.
func maskDatabaseURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}

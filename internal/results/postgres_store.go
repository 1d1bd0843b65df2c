package results

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS bench_results (
		id          BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL,
		item_id     TEXT NOT NULL,
		dataset     TEXT NOT NULL,
		model       TEXT NOT NULL,
		provider    TEXT NOT NULL,
		algorithm   TEXT,
		prompt      TEXT NOT NULL,
		output      TEXT NOT NULL,
		correct     BOOLEAN NOT NULL,
		status      TEXT NOT NULL,
		reason      TEXT,
		attempts    INT NOT NULL,
		latency_ms  BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS bench_results_run_idx ON bench_results (run_id);
`

// PostgresStore keeps results in the bench_results table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create bench_results: %w", err)
	}
	return nil
}

func (s *PostgresStore) Write(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO bench_results (run_id, item_id, dataset, model, provider, algorithm, prompt, output,
			correct, status, reason, attempts, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)
	`
	_, err := s.db.Exec(ctx, query,
		rec.RunID, rec.ID, rec.Dataset, rec.Model, rec.Provider, rec.Algorithm, rec.Prompt, rec.Output,
		rec.Correct == 1, rec.Status, rec.Reason, rec.Attempts, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store result %s: %w", rec.ID, err)
	}
	return nil
}

// RunTotals recomputes a run's totals from the table.
func (s *PostgresStore) RunTotals(ctx context.Context, runID string) (Totals, error) {
	var t Totals
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE correct),
			COUNT(*) FILTER (WHERE status <> 'success')
		FROM bench_results
		WHERE run_id = $1
	`
	if err := s.db.QueryRow(ctx, query, runID).Scan(&t.Total, &t.Correct, &t.Failed); err != nil {
		return Totals{}, fmt.Errorf("failed to get run totals: %w", err)
	}
	if t.Total > 0 {
		t.Accuracy = float64(t.Correct) / float64(t.Total)
	}

	rows, err := s.db.Query(ctx, `
		SELECT COALESCE(reason, ''), COUNT(*)
		FROM bench_results
		WHERE run_id = $1 AND status <> 'success'
		GROUP BY 1
	`, runID)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to query failure reasons: %w", err)
	}
	defer rows.Close()

	t.FailureReasons = make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return Totals{}, fmt.Errorf("failed to scan failure reason: %w", err)
		}
		t.FailureReasons[reason] = n
	}
	if err := rows.Err(); err != nil {
		return Totals{}, fmt.Errorf("error iterating failure reasons: %w", err)
	}
	return t, nil
}

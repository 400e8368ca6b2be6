package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"matrixci/internal/config"
	"matrixci/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          UUID PRIMARY KEY,
	workflow    TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	result      JSONB NOT NULL
)`

// Postgres keeps one row per run with the full result as JSONB.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.Config) (*Postgres, error) {
	return OpenPostgres(ctx, cfg.DSN(), cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
}

// OpenPostgres connects to dsn and creates the runs table if needed.
func OpenPostgres(ctx context.Context, dsn string, maxConns, minConns int) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	poolCfg.MinConns = int32(minConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

func (s *Postgres) Save(ctx context.Context, run *core.RunResult) error {
	if run == nil {
		return errors.New("nil run")
	}
	data, err := encode(run)
	if err != nil {
		return err
	}
	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		finished = &run.FinishedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, workflow, status, started_at, finished_at, result)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at, result = EXCLUDED.result
	`, run.ID, run.Workflow, string(run.Status), run.StartedAt, finished, data)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*core.RunResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM runs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return decode(data)
}

func (s *Postgres) List(ctx context.Context, limit int) ([]*core.RunResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT result FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []*core.RunResult{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		run, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

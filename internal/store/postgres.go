package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/datemover/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var snapshotColumns = []string{
	"id", "issue_key", "field_id", "current", "history",
	"change_count", "slip_days", "slip_display", "recorded_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	issue_key    TEXT NOT NULL,
	field_id     TEXT NOT NULL,
	current      TEXT NOT NULL,
	history      JSONB NOT NULL DEFAULT '[]'::jsonb,
	change_count INTEGER NOT NULL DEFAULT 0,
	slip_days    INTEGER,
	slip_display TEXT NOT NULL DEFAULT '',
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_issue_field ON snapshots(issue_key, field_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_recorded_at ON snapshots(recorded_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveSnapshots writes snaps with a single COPY.
func (s *PostgresStore) SaveSnapshots(ctx context.Context, snaps []Snapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(snaps))
	for i := range snaps {
		fillSnapshot(&snaps[i], now)
		sn := snaps[i]
		historyJSON, err := json.Marshal(sn.History)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal history")
		}
		var slipDays any
		if sn.SlipDays != nil {
			slipDays = int32(*sn.SlipDays)
		}
		rows = append(rows, []any{
			sn.ID, sn.IssueKey, sn.FieldID, sn.Current, historyJSON,
			int32(sn.ChangeCount), slipDays, sn.SlipDisplay, sn.RecordedAt,
		})
	}

	n, err := db.CopyInto(ctx, s.pool, "snapshots", snapshotColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save snapshots")
	}
	return int(n), nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error) {
	query := `SELECT id, issue_key, field_id, current, history, change_count, slip_days, slip_display, recorded_at FROM snapshots WHERE true`
	args := []any{}
	argIdx := 1

	if filter.IssueKey != "" {
		query += fmt.Sprintf(` AND issue_key = $%d`, argIdx)
		args = append(args, filter.IssueKey)
		argIdx++
	}
	if filter.FieldID != "" {
		query += fmt.Sprintf(` AND field_id = $%d`, argIdx)
		args = append(args, filter.FieldID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			sn          Snapshot
			historyJSON []byte
			changeCount int32
			slipDays    *int32
		)
		if err := rows.Scan(&sn.ID, &sn.IssueKey, &sn.FieldID, &sn.Current, &historyJSON,
			&changeCount, &slipDays, &sn.SlipDisplay, &sn.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		if err := json.Unmarshal(historyJSON, &sn.History); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal history")
		}
		sn.ChangeCount = int(changeCount)
		if slipDays != nil {
			d := int(*slipDays)
			sn.SlipDays = &d
		}
		out = append(out, sn)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

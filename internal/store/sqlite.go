package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	issue_key    TEXT NOT NULL,
	field_id     TEXT NOT NULL,
	current      TEXT NOT NULL,
	history      TEXT NOT NULL DEFAULT '[]',
	change_count INTEGER NOT NULL DEFAULT 0,
	slip_days    INTEGER,
	slip_display TEXT NOT NULL DEFAULT '',
	recorded_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_issue_field ON snapshots(issue_key, field_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_recorded_at ON snapshots(recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshots(ctx context.Context, snaps []Snapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots (id, issue_key, field_id, current, history, change_count, slip_days, slip_display, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert snapshot")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i := range snaps {
		fillSnapshot(&snaps[i], now)
		sn := snaps[i]

		historyJSON, err := json.Marshal(sn.History)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal history")
		}
		if _, err := stmt.ExecContext(ctx,
			sn.ID, sn.IssueKey, sn.FieldID, sn.Current, string(historyJSON),
			sn.ChangeCount, sn.SlipDays, sn.SlipDisplay, sn.RecordedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert snapshot %s/%s", sn.IssueKey, sn.FieldID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit snapshots")
	}
	return len(snaps), nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error) {
	query := `SELECT id, issue_key, field_id, current, history, change_count, slip_days, slip_display, recorded_at
		FROM snapshots WHERE 1=1`
	var args []any

	if filter.IssueKey != "" {
		query += ` AND issue_key = ?`
		args = append(args, filter.IssueKey)
	}
	if filter.FieldID != "" {
		query += ` AND field_id = ?`
		args = append(args, filter.FieldID)
	}
	query += ` ORDER BY recorded_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []Snapshot
	for rows.Next() {
		var (
			sn          Snapshot
			historyJSON string
			slipDays    sql.NullInt64
		)
		if err := rows.Scan(&sn.ID, &sn.IssueKey, &sn.FieldID, &sn.Current, &historyJSON,
			&sn.ChangeCount, &slipDays, &sn.SlipDisplay, &sn.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		if err := json.Unmarshal([]byte(historyJSON), &sn.History); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal history")
		}
		if slipDays.Valid {
			d := int(slipDays.Int64)
			sn.SlipDays = &d
		}
		out = append(out, sn)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

// fillSnapshot assigns an id and timestamp when missing and normalizes a nil
// history to an empty list.
func fillSnapshot(sn *Snapshot, now time.Time) {
	if sn.ID == "" {
		sn.ID = uuid.New().String()
	}
	if sn.RecordedAt.IsZero() {
		sn.RecordedAt = now
	}
	if sn.History == nil {
		sn.History = []string{}
	}
}

// Package store keeps an append-only log of reconciled field snapshots. The
// log is never read back into a computation; every result is still derived
// from the tracker's live data.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/history"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// ErrDisabled is returned by Open when the store driver is "none".
var ErrDisabled = eris.New("store: disabled")

const defaultListLimit = 100

// Snapshot is the reconciled state of one field at the moment it was recorded.
type Snapshot struct {
	ID          string    `json:"id"`
	IssueKey    string    `json:"issue_key"`
	FieldID     string    `json:"field_id"`
	Current     string    `json:"current"`
	History     []string  `json:"history"`
	ChangeCount int       `json:"change_count"`
	SlipDays    *int      `json:"slip_days"`
	SlipDisplay string    `json:"slip_display,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SnapshotFilter narrows ListSnapshots. Zero values match everything.
type SnapshotFilter struct {
	IssueKey string `json:"issue_key,omitempty"`
	FieldID  string `json:"field_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Store persists snapshots.
type Store interface {
	// SaveSnapshots appends snapshots, assigning ids and timestamps where
	// missing, and returns how many were written.
	SaveSnapshots(ctx context.Context, snaps []Snapshot) (int, error)
	// ListSnapshots returns snapshots newest first.
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open creates and migrates the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case DriverNone:
		return nil, ErrDisabled
	case DriverPostgres:
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case DriverSQLite, "":
		st, err = NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// SnapshotsFrom converts fetch results into snapshots recorded at at. Items
// and fields that failed are skipped.
func SnapshotsFrom(results []history.ItemResult, at time.Time) []Snapshot {
	var out []Snapshot
	for _, item := range results {
		if item.Error != nil {
			continue
		}
		for _, f := range item.Fields {
			if f.Error != nil {
				continue
			}
			s := Snapshot{
				IssueKey:    item.IssueKey,
				FieldID:     string(f.FieldID),
				Current:     f.Current,
				History:     f.History,
				ChangeCount: f.ChangeCount,
				RecordedAt:  at.UTC(),
			}
			if f.Slip != nil {
				days := f.Slip.Days
				s.SlipDays = &days
				s.SlipDisplay = f.Slip.SignedDisplay
			}
			out = append(out, s)
		}
	}
	return out
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// Package store persists the registry's sources and activation periods so a
// restarted aggregator can restore its historical state. Two backends are
// provided: SQLite for single-node deployments and Postgres for shared ones.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/quorumlabs/votegrid/pkg/history"
	"github.com/quorumlabs/votegrid/pkg/power"
	"github.com/quorumlabs/votegrid/pkg/registry"
)

// Points and weights are stored as decimal TEXT: both are uint64 and the
// open-period sentinel does not fit a signed database integer.

// SQLiteStore implements registry.Journal over a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ registry.Journal = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	return sql.Open("sqlite", path)
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		weight TEXT NOT NULL,
		position INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS activation_periods (
		source_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		enabled_from TEXT NOT NULL,
		disabled_on TEXT NOT NULL,
		PRIMARY KEY (source_id, idx)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) SaveSource(ctx context.Context, id string, kind power.SourceKind, weight uint64, enabledFrom power.Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sources (id, kind, weight, position)
		 VALUES (?, ?, ?, (SELECT COUNT(*) FROM sources))`,
		id, kind.String(), strconv.FormatUint(weight, 10))
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO activation_periods (source_id, idx, enabled_from, disabled_on)
		 VALUES (?, 0, ?, ?)`,
		id, enabledFrom.String(), power.PointMax.String())
	if err != nil {
		return fmt.Errorf("insert period: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateWeight(ctx context.Context, id string, weight uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET weight = ? WHERE id = ?`,
		strconv.FormatUint(weight, 10), id)
	if err != nil {
		return err
	}
	return requireRowChanged(res, id)
}

func (s *SQLiteStore) AppendPeriod(ctx context.Context, id string, from power.Point) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activation_periods (source_id, idx, enabled_from, disabled_on)
		 VALUES (?, (SELECT COUNT(*) FROM activation_periods WHERE source_id = ?), ?, ?)`,
		id, id, from.String(), power.PointMax.String())
	return err
}

func (s *SQLiteStore) ClosePeriod(ctx context.Context, id string, on power.Point) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activation_periods SET disabled_on = ? WHERE source_id = ? AND disabled_on = ?`,
		on.String(), id, power.PointMax.String())
	if err != nil {
		return err
	}
	return requireRowChanged(res, id)
}

// Load reads the persisted registry snapshot, sources in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, weight FROM sources ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []registry.Record
	for rows.Next() {
		rec, err := scanSourceRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		periods, err := s.loadPeriods(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Periods = periods
	}
	return records, nil
}

func (s *SQLiteStore) loadPeriods(ctx context.Context, id string) ([]history.Period, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT enabled_from, disabled_on FROM activation_periods WHERE source_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPeriodRows(rows)
}

// scanSourceRow decodes one sources row shared by both backends.
func scanSourceRow(rows *sql.Rows) (registry.Record, error) {
	var rec registry.Record
	var kind, weight string
	if err := rows.Scan(&rec.ID, &kind, &weight); err != nil {
		return registry.Record{}, err
	}
	k, err := power.ParseSourceKind(kind)
	if err != nil {
		return registry.Record{}, fmt.Errorf("source %s: %w", rec.ID, err)
	}
	w, err := strconv.ParseUint(weight, 10, 64)
	if err != nil {
		return registry.Record{}, fmt.Errorf("source %s: bad weight %q", rec.ID, weight)
	}
	rec.Kind = k
	rec.Weight = w
	return rec, nil
}

func scanPeriodRows(rows *sql.Rows) ([]history.Period, error) {
	var periods []history.Period
	for rows.Next() {
		var fromRaw, onRaw string
		if err := rows.Scan(&fromRaw, &onRaw); err != nil {
			return nil, err
		}
		from, err := power.ParsePoint(fromRaw)
		if err != nil {
			return nil, fmt.Errorf("bad enabled_from %q", fromRaw)
		}
		on, err := power.ParsePoint(onRaw)
		if err != nil {
			return nil, fmt.Errorf("bad disabled_on %q", onRaw)
		}
		periods = append(periods, history.Period{EnabledFrom: from, DisabledOn: on})
	}
	return periods, rows.Err()
}

func requireRowChanged(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("source %s: no row updated", id)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/quorumlabs/votegrid/pkg/history"
	"github.com/quorumlabs/votegrid/pkg/power"
	"github.com/quorumlabs/votegrid/pkg/registry"
)

// PostgresStore implements registry.Journal over a shared Postgres database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ registry.Journal = (*PostgresStore)(nil)

// OpenPostgres opens a connection pool for the given DSN.
func OpenPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// NewPostgresStore creates the store. Init must be called before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	weight TEXT NOT NULL,
	position INT NOT NULL
);

CREATE TABLE IF NOT EXISTS activation_periods (
	source_id TEXT NOT NULL,
	idx INT NOT NULL,
	enabled_from TEXT NOT NULL,
	disabled_on TEXT NOT NULL,
	PRIMARY KEY (source_id, idx)
);
`

// Init runs the schema migration.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PostgresStore) SaveSource(ctx context.Context, id string, kind power.SourceKind, weight uint64, enabledFrom power.Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sources (id, kind, weight, position)
		 VALUES ($1, $2, $3, (SELECT COUNT(*) FROM sources))`,
		id, kind.String(), strconv.FormatUint(weight, 10))
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO activation_periods (source_id, idx, enabled_from, disabled_on)
		 VALUES ($1, 0, $2, $3)`,
		id, enabledFrom.String(), power.PointMax.String())
	if err != nil {
		return fmt.Errorf("insert period: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) UpdateWeight(ctx context.Context, id string, weight uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET weight = $1 WHERE id = $2`,
		strconv.FormatUint(weight, 10), id)
	if err != nil {
		return err
	}
	return requireRowChanged(res, id)
}

func (s *PostgresStore) AppendPeriod(ctx context.Context, id string, from power.Point) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activation_periods (source_id, idx, enabled_from, disabled_on)
		 VALUES ($1, (SELECT COUNT(*) FROM activation_periods WHERE source_id = $2), $3, $4)`,
		id, id, from.String(), power.PointMax.String())
	return err
}

func (s *PostgresStore) ClosePeriod(ctx context.Context, id string, on power.Point) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activation_periods SET disabled_on = $1 WHERE source_id = $2 AND disabled_on = $3`,
		on.String(), id, power.PointMax.String())
	if err != nil {
		return err
	}
	return requireRowChanged(res, id)
}

// Load reads the persisted registry snapshot, sources in insertion order.
func (s *PostgresStore) Load(ctx context.Context) ([]registry.Record, error) {
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

func (s *PostgresStore) loadPeriods(ctx context.Context, id string) ([]history.Period, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT enabled_from, disabled_on FROM activation_periods WHERE source_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPeriodRows(rows)
}

// Package sqlite persists zonal observations across runs. Observations from
// repeated runs accumulate in one table keyed by (zone, date); the repaired
// series is rebuilt wholesale on every gap-fill pass.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	zone_id      TEXT NOT NULL,
	date         TEXT NOT NULL,
	raw_count    REAL NOT NULL,
	derived_area REAL NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (zone_id, date)
);
CREATE TABLE IF NOT EXISTS repaired_observations (
	zone_id      TEXT NOT NULL,
	date         TEXT NOT NULL,
	raw_count    REAL NOT NULL,
	derived_area REAL NOT NULL,
	repair       TEXT NOT NULL,
	PRIMARY KEY (zone_id, date)
);`

// Store is an observation store backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open observation db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping observation db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply observation schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert inserts or replaces observations by (zone, date) in one transaction.
func (s *Store) Upsert(ctx context.Context, obs []domain.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (zone_id, date, raw_count, derived_area, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (zone_id, date) DO UPDATE SET
			raw_count = excluded.raw_count,
			derived_area = excluded.derived_area,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := domain.Now().UTC().Format(time.RFC3339)
	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.ZoneID, domain.FormatDate(o.Date), o.RawCount, o.DerivedArea, now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", o.ZoneID, domain.FormatDate(o.Date), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Observations returns every stored raw observation ordered by zone and date.
func (s *Store) Observations(ctx context.Context) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT zone_id, date, raw_count, derived_area
		FROM observations
		ORDER BY zone_id, date`)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var o domain.Observation
		var date string
		if err := rows.Scan(&o.ZoneID, &date, &o.RawCount, &o.DerivedArea); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if o.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		o.Repair = domain.RepairObserved
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

// ReplaceRepaired swaps the repaired table for obs in one transaction.
func (s *Store) ReplaceRepaired(ctx context.Context, obs []domain.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repaired_observations`); err != nil {
		return fmt.Errorf("clear repaired observations: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repaired_observations (zone_id, date, raw_count, derived_area, repair)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare repaired insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.ZoneID, domain.FormatDate(o.Date), o.RawCount, o.DerivedArea, string(o.Repair)); err != nil {
			return fmt.Errorf("insert repaired %s/%s: %w", o.ZoneID, domain.FormatDate(o.Date), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Repaired returns the repaired series ordered by zone and date.
func (s *Store) Repaired(ctx context.Context) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT zone_id, date, raw_count, derived_area, repair
		FROM repaired_observations
		ORDER BY zone_id, date`)
	if err != nil {
		return nil, fmt.Errorf("query repaired observations: %w", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var o domain.Observation
		var date, repair string
		if err := rows.Scan(&o.ZoneID, &date, &o.RawCount, &o.DerivedArea, &repair); err != nil {
			return nil, fmt.Errorf("scan repaired observation: %w", err)
		}
		if o.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		o.Repair = domain.RepairState(repair)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repaired observations: %w", err)
	}
	return out, nil
}

// LastUpdated returns the most recent upsert time, or the zero time when the
// store is empty.
func (s *Store) LastUpdated(ctx context.Context) (time.Time, error) {
	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM observations`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("query last update: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, ts.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last update: %w", err)
	}
	return t, nil
}

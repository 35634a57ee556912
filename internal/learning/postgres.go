// File: internal/learning/postgres.go
package learning

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxIface is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it, so the store is testable without a live database.
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists the learning record in three counter tables. Counts
// are absolute, so saves upsert the snapshot values rather than incrementing.
type PostgresStore struct {
	db PgxIface
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db PgxIface) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the learning tables when absent.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS learning_selectors (
			action_type TEXT NOT NULL,
			selector    TEXT NOT NULL,
			successes   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (action_type, selector)
		);`,
		`CREATE TABLE IF NOT EXISTS learning_tiers (
			action_type TEXT NOT NULL,
			tier        INTEGER NOT NULL,
			successes   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (action_type, tier)
		);`,
		`CREATE TABLE IF NOT EXISTS learning_errors (
			pattern TEXT PRIMARY KEY,
			count   INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure learning schema: %w", err)
		}
	}
	return nil
}

// Load reads the full record.
func (p *PostgresStore) Load(ctx context.Context) (Record, error) {
	rec := NewRecord()

	rows, err := p.db.Query(ctx, `SELECT action_type, selector, successes FROM learning_selectors;`)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load selector counters: %w", err)
	}
	for rows.Next() {
		var action, selector string
		var successes int
		if err := rows.Scan(&action, &selector, &successes); err != nil {
			rows.Close()
			return Record{}, err
		}
		if rec.Selectors[action] == nil {
			rec.Selectors[action] = make(map[string]int)
		}
		rec.Selectors[action][selector] = successes
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	rows, err = p.db.Query(ctx, `SELECT action_type, tier, successes FROM learning_tiers;`)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load tier counters: %w", err)
	}
	for rows.Next() {
		var action string
		var tier, successes int
		if err := rows.Scan(&action, &tier, &successes); err != nil {
			rows.Close()
			return Record{}, err
		}
		if rec.Tiers[action] == nil {
			rec.Tiers[action] = make(map[int]int)
		}
		rec.Tiers[action][tier] = successes
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	rows, err = p.db.Query(ctx, `SELECT pattern, count FROM learning_errors;`)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load error histogram: %w", err)
	}
	for rows.Next() {
		var pattern string
		var count int
		if err := rows.Scan(&pattern, &count); err != nil {
			rows.Close()
			return Record{}, err
		}
		rec.Errors[pattern] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// Save upserts the snapshot counters.
func (p *PostgresStore) Save(ctx context.Context, rec Record) error {
	for action, sels := range rec.Selectors {
		for selector, successes := range sels {
			_, err := p.db.Exec(ctx, `
				INSERT INTO learning_selectors (action_type, selector, successes)
				VALUES ($1, $2, $3)
				ON CONFLICT (action_type, selector) DO UPDATE SET
					successes = EXCLUDED.successes;
			`, action, selector, successes)
			if err != nil {
				return fmt.Errorf("failed to save selector counter: %w", err)
			}
		}
	}

	for action, tiers := range rec.Tiers {
		for tier, successes := range tiers {
			_, err := p.db.Exec(ctx, `
				INSERT INTO learning_tiers (action_type, tier, successes)
				VALUES ($1, $2, $3)
				ON CONFLICT (action_type, tier) DO UPDATE SET
					successes = EXCLUDED.successes;
			`, action, tier, successes)
			if err != nil {
				return fmt.Errorf("failed to save tier counter: %w", err)
			}
		}
	}

	for pattern, count := range rec.Errors {
		_, err := p.db.Exec(ctx, `
			INSERT INTO learning_errors (pattern, count)
			VALUES ($1, $2)
			ON CONFLICT (pattern) DO UPDATE SET
				count = EXCLUDED.count;
		`, pattern, count)
		if err != nil {
			return fmt.Errorf("failed to save error histogram: %w", err)
		}
	}

	return nil
}

package catalog

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

const schema = `
CREATE TABLE IF NOT EXISTS paths (
	id             TEXT PRIMARY KEY,
	description    TEXT NOT NULL DEFAULT '',
	start_currency TEXT NOT NULL,
	sets           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS path_steps (
	path_id TEXT    NOT NULL REFERENCES paths(id),
	seq     INTEGER NOT NULL,
	pair    TEXT    NOT NULL,
	side    TEXT    NOT NULL,
	PRIMARY KEY (path_id, seq)
) WITHOUT ROWID;
`

// SQLiteCatalog stores paths in a SQLite database.
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the catalog database at dsn.
func OpenSQLite(dsn string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperror.New(apperror.CodeStorageError,
			apperror.WithContextf("open catalog %s", dsn), apperror.WithCause(err))
	}
	// Single connection keeps in-memory databases shared across calls.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, apperror.New(apperror.CodeStorageError,
				apperror.WithContext("initialize catalog schema"), apperror.WithCause(err))
		}
	}
	return &SQLiteCatalog{db: db}, nil
}

// Import upserts entries in one transaction.
func (c *SQLiteCatalog) Import(ctx context.Context, entries []Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := e.Path.Validate(); err != nil {
			return err
		}
		for _, q := range []string{`DELETE FROM path_steps WHERE path_id = ?`, `DELETE FROM paths WHERE id = ?`} {
			if _, err := tx.ExecContext(ctx, q, e.Path.ID); err != nil {
				return apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO paths (id, description, start_currency, sets) VALUES (?, ?, ?, ?)`,
			e.Path.ID, e.Path.Description, e.Path.StartCurrency, strings.Join(e.Sets, ",")); err != nil {
			return apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
		}
		for i, s := range e.Path.Steps {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO path_steps (path_id, seq, pair, side) VALUES (?, ?, ?, ?)`,
				e.Path.ID, i, s.Pair.String(), string(s.Side)); err != nil {
				return apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
	}
	return nil
}

// Paths returns the paths in selector's set, ordered by id.
func (c *SQLiteCatalog) Paths(ctx context.Context, selector string) ([]domain.TriangularPath, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT p.id, p.description, p.start_currency, p.sets, s.pair, s.side
		FROM paths p
		JOIN path_steps s ON s.path_id = p.id
		ORDER BY p.id, s.seq`)
	if err != nil {
		return nil, apperror.New(apperror.CodeStorageError,
			apperror.WithContext("query paths"), apperror.WithCause(err))
	}
	defer rows.Close()

	var entries []Entry
	var current *pathRecord
	flush := func() error {
		if current == nil {
			return nil
		}
		e, err := current.toEntry()
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}

	for rows.Next() {
		var id, desc, start, sets, pair, side string
		if err := rows.Scan(&id, &desc, &start, &sets, &pair, &side); err != nil {
			return nil, apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
		}
		if current == nil || current.ID != id {
			if err := flush(); err != nil {
				return nil, err
			}
			current = &pathRecord{ID: id, Description: desc, Start: start, Sets: splitSets(sets)}
		}
		current.Steps = append(current.Steps, stepRecord{Pair: pair, Side: side})
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.New(apperror.CodeStorageError, apperror.WithCause(err))
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return selectPaths(entries, selector), nil
}

// Ping checks the database is reachable.
func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func splitSets(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/mdplan/internal/plan"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_plans_and_artifacts",
		SQL: `
			CREATE TABLE IF NOT EXISTS plans (
				hash TEXT PRIMARY KEY,
				document TEXT NOT NULL,
				chunk_hashes TEXT NOT NULL,
				body TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS artifacts (
				key TEXT PRIMARY KEY,
				doc_hash TEXT NOT NULL,
				body TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_artifacts_doc_hash ON artifacts (doc_hash);
		`,
	},
}

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// pending migrations. An empty path opens a private in-memory database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan store: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db}
	if err := s.configure(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) GetPlan(ctx context.Context, hash string) (*plan.Plan, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE hash = ?`, hash).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return decodePlan([]byte(body))
}

func (s *SQLite) PutPlan(ctx context.Context, p *plan.Plan) error {
	data, err := encodePlan(p)
	if err != nil {
		return err
	}
	hashes := strings.Join(chunkHashes(p), ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT chunk_hashes FROM plans WHERE hash = ?`, p.ContentHash).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read previous plan: %w", err)
	case prev != hashes:
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE doc_hash = ?`, p.ContentHash); err != nil {
			return fmt.Errorf("invalidate artifacts: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (hash, document, chunk_hashes, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET document = excluded.document, chunk_hashes = excluded.chunk_hashes,
			body = excluded.body, updated_at = excluded.updated_at`,
		p.ContentHash, p.Document, hashes, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put plan: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) DeletePlan(ctx context.Context, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE doc_hash = ?`, hash); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) GetArtifact(ctx context.Context, key string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM artifacts WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get artifact: %w", err)
	}
	return body, nil
}

func (s *SQLite) PutArtifact(ctx context.Context, key, text string) error {
	docHash, _, _ := strings.Cut(key, "/")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, doc_hash, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, docHash, text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

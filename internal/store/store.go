package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/scheduler"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ ArtifactRepository = (*Store)(nil)
	_ AccountRepository  = (*Store)(nil)
	_ PostRepository     = (*Store)(nil)
	_ SessionStore       = (*Store)(nil)
	_ scheduler.Store    = (*Store)(nil)
)

// Store provides data access to the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: artifacts, accounts, scheduled posts
		s.migrateV2, // v1 → v2: post history and generation sessions
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id            TEXT PRIMARY KEY,
		platform      TEXT NOT NULL,
		segment       TEXT NOT NULL,
		hook          TEXT NOT NULL,
		seed_idea     TEXT NOT NULL,
		monthly_theme TEXT NOT NULL DEFAULT '',
		payload       TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at DESC);

	CREATE TABLE IF NOT EXISTS social_accounts (
		id                  TEXT PRIMARY KEY,
		platform            TEXT NOT NULL,
		account_type        TEXT NOT NULL,
		external_account_id TEXT NOT NULL,
		display_name        TEXT NOT NULL,
		access_token        TEXT NOT NULL,
		refresh_token       TEXT NOT NULL DEFAULT '',
		token_expires_at    TEXT,
		active              INTEGER NOT NULL DEFAULT 1,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_external ON social_accounts(platform, external_account_id);

	CREATE TABLE IF NOT EXISTS scheduled_posts (
		id                TEXT PRIMARY KEY,
		artifact_id       TEXT NOT NULL REFERENCES artifacts(id),
		social_account_id TEXT NOT NULL REFERENCES social_accounts(id),
		scheduled_for     TEXT NOT NULL,
		timezone          TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		published_at      TEXT,
		external_post_id  TEXT NOT NULL DEFAULT '',
		last_error        TEXT NOT NULL DEFAULT '',
		retry_count       INTEGER NOT NULL DEFAULT 0,
		max_retries       INTEGER NOT NULL,
		notes             TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_due ON scheduled_posts(status, scheduled_for);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_active_pair ON scheduled_posts(artifact_id, social_account_id)
		WHERE status IN ('pending', 'queued', 'posting');
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) migrateV2() error {
	schema := `
	CREATE TABLE IF NOT EXISTS post_history (
		id                TEXT PRIMARY KEY,
		scheduled_post_id TEXT NOT NULL DEFAULT '',
		artifact_id       TEXT NOT NULL,
		social_account_id TEXT NOT NULL,
		platform          TEXT NOT NULL,
		external_post_id  TEXT NOT NULL,
		external_url      TEXT NOT NULL DEFAULT '',
		raw_response      TEXT NOT NULL DEFAULT '',
		posted_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_post ON post_history(scheduled_post_id, posted_at);

	CREATE TABLE IF NOT EXISTS generation_sessions (
		id            TEXT PRIMARY KEY,
		seed_idea     TEXT NOT NULL,
		monthly_theme TEXT NOT NULL DEFAULT '',
		segments      TEXT NOT NULL,
		platforms     TEXT NOT NULL,
		artifact_ids  TEXT NOT NULL,
		errors        TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// timeLayout is fixed width so stored instants sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

// inClause returns "?,?,?" for n values.
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func statusArgs(statuses []model.PostStatus) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows onto model.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return err
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return nil
}

// pageClause appends LIMIT/OFFSET. SQLite needs a LIMIT before OFFSET.
func pageClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

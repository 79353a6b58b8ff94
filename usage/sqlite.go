package usage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS token_usage (
	model             TEXT PRIMARY KEY,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	calls             INTEGER NOT NULL DEFAULT 0,
	cost              REAL    NOT NULL DEFAULT 0,
	updated_at        TEXT    NOT NULL
)`

// The increment happens inside SQLite, so concurrent writers from other
// processes cannot interleave a read and a write.
const upsert = `
INSERT INTO token_usage (model, prompt_tokens, completion_tokens, calls, cost, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(model) DO UPDATE SET
	prompt_tokens     = prompt_tokens + excluded.prompt_tokens,
	completion_tokens = completion_tokens + excluded.completion_tokens,
	calls             = calls + excluded.calls,
	cost              = cost + excluded.cost,
	updated_at        = excluded.updated_at`

// SQLiteStore persists totals in a WAL-mode database file shared by every
// process that points at the same path.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("usage database path required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create usage directory %s", dir)
		}
	}

	// modernc.org/sqlite wants each pragma prefixed with _pragma=.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open usage db: %s", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create usage schema")
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Add(ctx context.Context, delta ModelUsage) error {
	_, err := s.db.ExecContext(ctx, upsert,
		delta.Model,
		delta.PromptTokens,
		delta.CompletionTokens,
		delta.Calls,
		delta.Cost,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrapf(err, "failed to add usage for model %s", delta.Model)
}

func (s *SQLiteStore) Load(ctx context.Context) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, prompt_tokens, completion_tokens, calls, cost, updated_at
		FROM token_usage ORDER BY model`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage")
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var (
			m       ModelUsage
			updated string
		)
		if err := rows.Scan(&m.Model, &m.PromptTokens, &m.CompletionTokens, &m.Calls, &m.Cost, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan usage row")
		}
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate usage rows")
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM token_usage")
	return errors.Wrap(err, "failed to reset usage")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteConfig holds SQLiteStore configuration.
type SQLiteConfig struct {
	// DataDir holds the database file. Created with 0700 when missing.
	DataDir string
}

// DefaultSQLiteConfig places the bank under the user's home directory.
func DefaultSQLiteConfig() SQLiteConfig {
	home, _ := os.UserHomeDir()
	return SQLiteConfig{DataDir: filepath.Join(home, ".autoflow")}
}

// SQLiteStore is the durable Store backed by SQLite in WAL mode.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// NewSQLiteStore creates the data directory if needed, opens the
// database with WAL mode, and runs migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "bank.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS run_summaries (
			session_id       TEXT PRIMARY KEY,
			request_name     TEXT NOT NULL,
			request_digest   TEXT NOT NULL,
			request_text     TEXT NOT NULL DEFAULT '',
			outcome          TEXT NOT NULL,
			score            REAL NOT NULL DEFAULT 0,
			iterations       INTEGER NOT NULL DEFAULT 0,
			accepted         INTEGER NOT NULL DEFAULT 0,
			artifact_digests TEXT NOT NULL DEFAULT '{}',
			stage_states     TEXT NOT NULL DEFAULT '{}',
			tokens_in        INTEGER NOT NULL DEFAULT 0,
			tokens_out       INTEGER NOT NULL DEFAULT 0,
			started_at       TEXT NOT NULL,
			finished_at      TEXT NOT NULL,
			created_at       TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_run_summaries_outcome
			ON run_summaries(outcome);
		CREATE INDEX IF NOT EXISTS idx_run_summaries_finished
			ON run_summaries(finished_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Load reads every stored summary.
func (s *SQLiteStore) Load(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, request_name, request_digest, request_text,
		       outcome, score, iterations, accepted,
		       artifact_digests, stage_states,
		       tokens_in, tokens_out, started_at, finished_at
		FROM run_summaries
		ORDER BY finished_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("memory: load summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum                 Summary
			accepted            int
			digestsJSON, states string
			startedAt, finished string
		)
		if err := rows.Scan(
			&sum.SessionID, &sum.RequestName, &sum.RequestDigest, &sum.RequestText,
			&sum.Outcome, &sum.Score, &sum.Iterations, &accepted,
			&digestsJSON, &states,
			&sum.TokensIn, &sum.TokensOut, &startedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("memory: scan summary: %w", err)
		}
		sum.Accepted = accepted != 0
		if err := json.Unmarshal([]byte(digestsJSON), &sum.ArtifactDigests); err != nil {
			return nil, fmt.Errorf("memory: decode artifact digests for %q: %w", sum.SessionID, err)
		}
		if err := json.Unmarshal([]byte(states), &sum.StageStates); err != nil {
			return nil, fmt.Errorf("memory: decode stage states for %q: %w", sum.SessionID, err)
		}
		sum.StartedAt = parseStoredTime(startedAt)
		sum.FinishedAt = parseStoredTime(finished)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate summaries: %w", err)
	}
	return out, nil
}

// Append inserts one summary. The primary key rejects duplicates.
func (s *SQLiteStore) Append(ctx context.Context, sum Summary) error {
	digests, err := json.Marshal(orEmpty(sum.ArtifactDigests))
	if err != nil {
		return fmt.Errorf("memory: encode artifact digests: %w", err)
	}
	states, err := json.Marshal(orEmpty(sum.StageStates))
	if err != nil {
		return fmt.Errorf("memory: encode stage states: %w", err)
	}
	accepted := 0
	if sum.Accepted {
		accepted = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_summaries (
			session_id, request_name, request_digest, request_text,
			outcome, score, iterations, accepted,
			artifact_digests, stage_states,
			tokens_in, tokens_out, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.RequestName, sum.RequestDigest, sum.RequestText,
		sum.Outcome, sum.Score, sum.Iterations, accepted,
		string(digests), string(states),
		sum.TokensIn, sum.TokensOut,
		sum.StartedAt.UTC().Format(time.RFC3339Nano),
		sum.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("memory: insert summary for %q: %w", sum.SessionID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func parseStoredTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

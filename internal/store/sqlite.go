package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"nani/internal/domain"
)

// Keys under which the token pair is cached, matching the widget's
// localStorage layout.
const (
	keyAccessToken  = "nani_access_token"
	keyRefreshToken = "nani_refresh_token"
	keyUserEmail    = "nani_user_email"
)

// Store is a SQLite-backed local state store.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the state database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	// modernc driver pragma syntax; applied on every pooled connection.
	dsn := filepath.Join(dir, "nani.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transcript (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_created ON transcript(created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// SaveCredentials replaces the cached token pair.
func (s *Store) SaveCredentials(ctx context.Context, creds Credentials) error {
	pairs := map[string]string{
		keyAccessToken:  creds.AccessToken,
		keyRefreshToken: creds.RefreshToken,
		keyUserEmail:    creds.Email,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	defer tx.Rollback()
	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credentials(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
	}
	return tx.Commit()
}

// Credentials returns the cached token pair, or nil when nothing is stored.
func (s *Store) Credentials(ctx context.Context) (*Credentials, error) {
	creds := &Credentials{}
	found := false
	for key, dest := range map[string]*string{
		keyAccessToken:  &creds.AccessToken,
		keyRefreshToken: &creds.RefreshToken,
		keyUserEmail:    &creds.Email,
	} {
		row := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, key)
		if err := row.Scan(dest); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		found = true
	}
	if !found || (creds.AccessToken == "" && creds.RefreshToken == "") {
		return nil, nil
	}
	return creds, nil
}

// ClearCredentials wipes the cached token pair. Sign-out calls this
// unconditionally.
func (s *Store) ClearCredentials(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// AppendTranscript records one completed turn.
func (s *Store) AppendTranscript(ctx context.Context, entry TranscriptEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript(role, content, latency_ms, created_at) VALUES(?, ?, ?, ?)`,
		string(entry.Role), entry.Content, entry.LatencyMS, created.Unix())
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Transcript returns up to limit most recent entries in chronological order.
// limit <= 0 returns everything.
func (s *Store) Transcript(ctx context.Context, limit int) ([]TranscriptEntry, error) {
	query := `SELECT id, role, content, latency_ms, created_at FROM transcript ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var role string
		var created int64
		if err := rows.Scan(&e.ID, &role, &e.Content, &e.LatencyMS, &created); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.Role = domain.TurnRole(role)
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ClearTranscript drops the whole conversation log.
func (s *Store) ClearTranscript(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcript`); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

// Usage derives query statistics from the transcript log.
func (s *Store) Usage(ctx context.Context) (UsageStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(latency_ms), 0), COALESCE(MAX(created_at), 0)
		 FROM transcript WHERE role = ?`, string(domain.TurnAssistant))
	var stats UsageStats
	var mean float64
	var last int64
	if err := row.Scan(&stats.Queries, &mean, &last); err != nil {
		return UsageStats{}, fmt.Errorf("read usage: %w", err)
	}
	stats.MeanLatencyMS = int64(mean)
	if last > 0 {
		stats.LastQueryAt = time.Unix(last, 0)
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

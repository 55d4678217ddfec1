package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 500

// ErrNotFound is returned by GetSession for an unknown id.
var ErrNotFound = errors.New("history: session not found")

// Store persists the session journal to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the PostgreSQL database at connStr and applies migrations.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history ping: %w", err)
	}
	if err = migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session and prunes the oldest beyond the retention cap.
func (s *Store) CreateSession(ctx context.Context, id, title, savePath, state string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, save_path, state, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, title, savePath, state, at.UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`,
		maxSessions,
	)
	return err
}

// RecordTransition appends a transition and moves the session's current state.
func (s *Store) RecordTransition(ctx context.Context, t Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, session_id, state, at, detail) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.SessionID, t.State, t.At.UTC(), t.Detail,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET state = $1 WHERE id = $2`, t.State, t.SessionID)
	return err
}

// FinishSession stores the terminal state and result document.
func (s *Store) FinishSession(ctx context.Context, id, state string, at time.Time, result json.RawMessage) error {
	var doc any
	if len(result) > 0 {
		doc = string(result)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = $1, ended_at = $2, result = $3 WHERE id = $4`,
		state, at.UTC(), doc, id,
	)
	return err
}

// ListSessions returns sessions newest first with transition counts, plus the total.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.save_path, s.state, s.started_at, s.ended_at, COUNT(t.id) AS transition_count
		FROM sessions s
		LEFT JOIN transitions t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.Title, &sess.SavePath, &sess.State, &sess.StartedAt, &endedAt, &sess.TransitionCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns one session with its result and transitions in order.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, []Transition, error) {
	var sess Session
	var endedAt sql.NullTime
	var result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, save_path, state, started_at, ended_at, result FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Title, &sess.SavePath, &sess.State, &sess.StartedAt, &endedAt, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if result.Valid {
		sess.Result = json.RawMessage(result.String)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, state, at, detail FROM transitions WHERE session_id = $1 ORDER BY at ASC`, id,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var t Transition
		if err = rows.Scan(&t.ID, &t.SessionID, &t.State, &t.At, &t.Detail); err != nil {
			return nil, nil, err
		}
		transitions = append(transitions, t)
	}
	sess.TransitionCount = len(transitions)
	return &sess, transitions, rows.Err()
}

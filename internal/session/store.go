package session

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
)

//go:embed schema.sql
var schemaSQL string

// InitDB creates the session tables if they do not exist.
func InitDB(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SQLiteStore persists a session's state and staged classifications so a
// later invocation can resume them.
//
// A database file holds one current session, the most recently created.
type SQLiteStore struct {
	db  *sql.DB
	id  string
	now func() time.Time
}

// Open opens (creating if needed) the session database at path and resumes
// its current session, starting a new one if there is none. ":memory:"
// gives a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// in-memory databases are per connection
	db.SetMaxOpenConns(1)
	if err := InitDB(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.resume(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) resume(ctx context.Context) error {
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM session ORDER BY created_at DESC LIMIT 1`).Scan(&s.id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load session: %w", err)
	}
	return s.NewSession(ctx)
}

// NewSession starts a fresh session with an empty state, leaving older
// sessions in place.
func (s *SQLiteStore) NewSession(ctx context.Context) error {
	id := uuid.NewString()
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.id = id
	return nil
}

// ID returns the current session's id.
func (s *SQLiteStore) ID() string {
	return s.id
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveState records the current source and cursor window.
func (s *SQLiteStore) SaveState(ctx context.Context, st State) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE session SET source = ?, oldest_uid = ?, newest_uid = ?, updated_at = ? WHERE id = ?`,
		string(st.Source), nullableInt64(st.Oldest), nullableInt64(st.Newest), s.now().UTC(), s.id)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the saved state. ok is false if none was saved yet.
func (s *SQLiteStore) LoadState(ctx context.Context) (st State, ok bool, err error) {
	var (
		source         string
		oldest, newest sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT source, oldest_uid, newest_uid FROM session WHERE id = ?`, s.id).
		Scan(&source, &oldest, &newest)
	if err != nil {
		return State{}, false, fmt.Errorf("load state: %w", err)
	}
	if source == "" {
		return State{}, false, nil
	}
	src, err := api.ParseSource(source)
	if err != nil {
		return State{}, false, fmt.Errorf("load state: %w", err)
	}
	st.Source = src
	if oldest.Valid {
		st.Oldest = &oldest.Int64
	}
	if newest.Valid {
		st.Newest = &newest.Int64
	}
	return st, true, nil
}

// SaveStaged records staged actions. ActionNone deletes the user's entry.
func (s *SQLiteStore) SaveStaged(ctx context.Context, staged map[int64]entity.Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save staged: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for id, action := range staged {
		if !action.Valid() {
			return fmt.Errorf("save staged: user %d: invalid action %q", id, action)
		}
		if action == entity.ActionNone {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM staged WHERE session_id = ? AND user_id = ?`, s.id, id)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO staged (session_id, user_id, action, staged_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(session_id, user_id) DO UPDATE SET action = excluded.action, staged_at = excluded.staged_at`,
				s.id, id, string(action), now)
		}
		if err != nil {
			return fmt.Errorf("save staged: user %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// LoadStaged returns every staged action of the current session.
func (s *SQLiteStore) LoadStaged(ctx context.Context) (map[int64]entity.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, action FROM staged WHERE session_id = ? ORDER BY user_id`, s.id)
	if err != nil {
		return nil, fmt.Errorf("load staged: %w", err)
	}
	defer rows.Close()

	out := map[int64]entity.Action{}
	for rows.Next() {
		var (
			id     int64
			action string
		)
		if err := rows.Scan(&id, &action); err != nil {
			return nil, fmt.Errorf("load staged: %w", err)
		}
		a, err := entity.ParseAction(action)
		if err != nil {
			return nil, fmt.Errorf("load staged: user %d: %w", id, err)
		}
		out[id] = a
	}
	return out, rows.Err()
}

// ClearStaged removes the given users' staged actions, or all of them if
// no ids are given.
func (s *SQLiteStore) ClearStaged(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM staged WHERE session_id = ?`, s.id); err != nil {
			return fmt.Errorf("clear staged: %w", err)
		}
		return nil
	}
	staged := make(map[int64]entity.Action, len(ids))
	for _, id := range ids {
		staged[id] = entity.ActionNone
	}
	return s.SaveStaged(ctx, staged)
}

func nullableInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

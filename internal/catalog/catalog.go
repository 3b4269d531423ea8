// Package catalog persists room metadata in SQLite. The hub treats it as a
// best-effort collaborator: a failed write degrades to an in-memory-only room,
// never to a failed create.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown room id.
var ErrNotFound = errors.New("room not found in catalog")

// Room is one catalog record. Only metadata lives here; document text, chat
// and presence are process-lifetime hub state.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	// WAL keeps catalog writes from blocking concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRoom records metadata for a newly created room. Re-recording the same
// id is a no-op so a retried create never fails on the unique key.
func (s *Store) CreateRoom(ctx context.Context, id, name, createdBy string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, name, created_by) VALUES (?, ?, ?)",
		id, name, createdBy,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_by, created_at FROM rooms WHERE id = ?", id)

	var r Room
	err := row.Scan(&r.ID, &r.Name, &r.CreatedBy, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Room{}, err
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_by, created_at FROM rooms ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n)
	return n, err
}

// Delete removes a catalog record. Administrative only.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	return err
}

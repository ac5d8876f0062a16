// Package paddock persists named boundaries so exports can reference a
// stored geometry instead of re-uploading a file.
//
// The store is a small SQLite document table: the geometry rides along as
// JSON, with its bounding box broken out into columns. Paddock identity is
// content-derived, so storing the same geometry twice yields the same row.
package paddock

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Paddock is one stored boundary.
type Paddock struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Geometry json.RawMessage `json:"geometry"`

	// Bounds is [minx, miny, maxx, maxy] in degrees.
	Bounds [4]float64 `json:"bounds"`

	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed paddock registry.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the paddock database. Path may be a
// filesystem path or ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("paddock store path is required")
	}
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create paddock store dir: %w", err)
			}
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open paddock store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping paddock store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate paddock store: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS paddocks (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	geometry   TEXT NOT NULL,
	min_x      REAL NOT NULL,
	min_y      REAL NOT NULL,
	max_x      REAL NOT NULL,
	max_y      REAL NOT NULL,
	created_at TEXT NOT NULL
);`

func (s *Store) Close() error { return s.db.Close() }

// ID derives a paddock id from geometry content: the first 16 hex chars of
// the SHA-256 of the canonical (compact, key-sorted) JSON.
func ID(geometry json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(geometry, &v); err != nil {
		return "", fmt.Errorf("invalid geometry JSON: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize geometry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Create stores the paddock, overwriting any existing row with the same
// content-derived id, and returns the stored document.
func (s *Store) Create(ctx context.Context, name string, geometry json.RawMessage, bounds [4]float64) (*Paddock, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("paddock name is required")
	}
	id, err := ID(geometry)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paddocks (id, name, geometry, min_x, min_y, max_x, max_y, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			geometry = excluded.geometry,
			min_x = excluded.min_x,
			min_y = excluded.min_y,
			max_x = excluded.max_x,
			max_y = excluded.max_y`,
		id, name, string(geometry),
		bounds[0], bounds[1], bounds[2], bounds[3],
		now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store paddock %s: %w", id, err)
	}

	return s.Get(ctx, id)
}

// Get returns the paddock, or (nil, nil) when the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Paddock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, geometry, min_x, min_y, max_x, max_y, created_at
		FROM paddocks WHERE id = ?`, id)
	p, err := scanPaddock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load paddock %s: %w", id, err)
	}
	return p, nil
}

// List returns every paddock ordered by name.
func (s *Store) List(ctx context.Context) ([]*Paddock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, geometry, min_x, min_y, max_x, max_y, created_at
		FROM paddocks ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list paddocks: %w", err)
	}
	defer rows.Close()

	var out []*Paddock
	for rows.Next() {
		p, err := scanPaddock(rows)
		if err != nil {
			return nil, fmt.Errorf("list paddocks: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list paddocks: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaddock(row rowScanner) (*Paddock, error) {
	var p Paddock
	var geometry, createdAt string
	err := row.Scan(&p.ID, &p.Name, &geometry,
		&p.Bounds[0], &p.Bounds[1], &p.Bounds[2], &p.Bounds[3], &createdAt)
	if err != nil {
		return nil, err
	}
	p.Geometry = json.RawMessage(geometry)
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &p, nil
}

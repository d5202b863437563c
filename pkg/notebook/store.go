// Package notebook manages the user's notebooks: small named documents
// created, listed, and edited through the assistant.
package notebook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Notebook is one named document.
type Notebook struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists notebooks in SQLite. Titles are unique; lookups by
// title are exact matches.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the notebook database at dbPath.
func NewStore(dbPath string, logger zerolog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("module", "notebook").Logger(),
	}

	schema := `
		CREATE TABLE IF NOT EXISTS notebooks (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL UNIQUE,
			content    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Create adds an empty notebook and returns it.
func (s *Store) Create(ctx context.Context, title string) (*Notebook, error) {
	if title == "" {
		return nil, fmt.Errorf("notebook title cannot be empty")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate notebook id: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO notebooks (id, title, content, created_at, updated_at) VALUES (?, ?, '', ?, ?)",
		id, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create notebook %q: %w", title, err)
	}

	s.logger.Info().Str("notebook_id", id).Str("title", title).Msg("Notebook created")
	return &Notebook{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// Get returns a notebook by id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Notebook, error) {
	return s.queryOne(ctx, "SELECT id, title, content, created_at, updated_at FROM notebooks WHERE id = ?", id)
}

// GetByTitle returns a notebook by exact title, or nil.
func (s *Store) GetByTitle(ctx context.Context, title string) (*Notebook, error) {
	return s.queryOne(ctx, "SELECT id, title, content, created_at, updated_at FROM notebooks WHERE title = ?", title)
}

func (s *Store) queryOne(ctx context.Context, query string, arg interface{}) (*Notebook, error) {
	var nb Notebook
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&nb.ID, &nb.Title, &nb.Content, &nb.CreatedAt, &nb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notebook: %w", err)
	}
	return &nb, nil
}

// List returns all notebooks ordered by most recently updated.
func (s *Store) List(ctx context.Context) ([]Notebook, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, content, created_at, updated_at FROM notebooks ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []Notebook
	for rows.Next() {
		var nb Notebook
		if err := rows.Scan(&nb.ID, &nb.Title, &nb.Content, &nb.CreatedAt, &nb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	return notebooks, rows.Err()
}

// Append adds text to the end of a notebook's content.
func (s *Store) Append(ctx context.Context, id, text string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notebooks
		SET content = CASE WHEN content = '' THEN ? ELSE content || char(10) || ? END,
		    updated_at = ?
		WHERE id = ?`, text, text, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to append to notebook: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("notebook not found: %s", id)
	}
	return nil
}

// Delete removes a notebook by id. Deleting a missing notebook is an
// error so the caller can tell the user.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM notebooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete notebook: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("notebook not found: %s", id)
	}

	s.logger.Info().Str("notebook_id", id).Msg("Notebook deleted")
	return nil
}

// Titles returns all notebook titles, most recently updated first.
func (s *Store) Titles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT title FROM notebooks ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list notebook titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// FindByTitle resolves an exact title to a notebook id.
func (s *Store) FindByTitle(ctx context.Context, title string) (string, bool) {
	nb, err := s.GetByTitle(ctx, title)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("Notebook title lookup failed")
		return "", false
	}
	if nb == nil {
		return "", false
	}
	return nb.ID, true
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

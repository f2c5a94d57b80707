// Package auth stores per-character SSO tokens and hands out refreshing
// oauth2 token sources for authenticated API calls.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoToken is returned when no token is stored for a character.
var ErrNoToken = errors.New("auth: no token stored for character")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tokens (
	character_id  INTEGER PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    TIMESTAMP,
	scopes        TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// Token is a stored credential for one character.
type Token struct {
	CharacterID  int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	UpdatedAt    time.Time
}

// Store persists tokens in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the token database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open token db %s: %w", path, err)
	}
	// One writer at a time; refreshes from parallel fetches serialize here.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init token schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the token for characterID, or ErrNoToken.
func (s *Store) Get(ctx context.Context, characterID int64) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT character_id, access_token, refresh_token, expires_at, scopes, updated_at
		 FROM tokens WHERE character_id = ?`, characterID)

	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %d: %w", characterID, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("get token %d: %w", characterID, err)
	}
	return t, nil
}

// Save inserts or replaces the token for t.CharacterID.
func (s *Store) Save(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (character_id, access_token, refresh_token, expires_at, scopes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(character_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		t.CharacterID, t.AccessToken, t.RefreshToken, t.ExpiresAt.UTC(),
		strings.Join(t.Scopes, " "), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save token %d: %w", t.CharacterID, err)
	}
	return nil
}

// List returns all stored tokens ordered by character.
func (s *Store) List(ctx context.Context) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT character_id, access_token, refresh_token, expires_at, scopes, updated_at
		 FROM tokens ORDER BY character_id`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Delete removes the token for characterID. Deleting a missing token is not an error.
func (s *Store) Delete(ctx context.Context, characterID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE character_id = ?`, characterID); err != nil {
		return fmt.Errorf("delete token %d: %w", characterID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (*Token, error) {
	var (
		t         Token
		expiresAt sql.NullTime
		updatedAt sql.NullTime
		scopes    string
	)
	if err := row.Scan(&t.CharacterID, &t.AccessToken, &t.RefreshToken, &expiresAt, &scopes, &updatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time
	}
	if updatedAt.Valid {
		t.UpdatedAt = updatedAt.Time
	}
	if scopes != "" {
		t.Scopes = strings.Fields(scopes)
	}
	return &t, nil
}

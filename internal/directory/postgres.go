// Package directory adapts the platform's user store to the token service's
// Directory interface. User persistence itself is owned elsewhere; this is a
// read-only lookup of the profile fields stamped into access tokens.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/genesis-music/auth-service/internal/token"
)

// PostgresDirectory looks up users in the platform's users table.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory opens a connection pool against the given DSN and
// verifies connectivity.
func NewPostgresDirectory(databaseURL string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDirectory{db: db}, nil
}

// NewPostgresDirectoryFromDB wraps an existing pool.
func NewPostgresDirectoryFromDB(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Lookup resolves an active user's identity fields. Inactive and missing
// users both return token.ErrUserNotFound.
func (d *PostgresDirectory) Lookup(ctx context.Context, userID uuid.UUID) (*token.Identity, error) {
	query := `
		SELECT id, email, username, COALESCE(role, 'user')
		FROM users
		WHERE id = $1 AND is_active = TRUE
	`
	id := &token.Identity{}
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&id.UserID, &id.Email, &id.Username, &id.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return id, nil
}

// Ping verifies database connectivity.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool.
func (d *PostgresDirectory) Close() error {
	return d.db.Close()
}

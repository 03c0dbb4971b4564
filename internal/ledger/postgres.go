package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
)

// PostgresLedger is the durable ledger backend, for deployments that want
// refresh records to survive a cache flush. Expected schema:
//
//	CREATE TABLE refresh_tokens (
//	    id          UUID PRIMARY KEY,
//	    user_id     UUID NOT NULL,
//	    token_hash  TEXT NOT NULL UNIQUE,
//	    expires_at  TIMESTAMPTZ NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    revoked     BOOLEAN NOT NULL DEFAULT FALSE,
//	    revoked_at  TIMESTAMPTZ,
//	    ip_address  TEXT,
//	    user_agent  TEXT
//	);
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger opens a connection pool against the given DSN and
// verifies connectivity.
func NewPostgresLedger(databaseURL string) (*PostgresLedger, error) {
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

	return &PostgresLedger{db: db}, nil
}

// NewPostgresLedgerFromDB wraps an existing pool, for callers that share one
// connection across components.
func NewPostgresLedgerFromDB(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Create inserts a new refresh record.
func (l *PostgresLedger) Create(ctx context.Context, rec *RefreshRecord) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
	`
	if _, err := l.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt, rec.IP, rec.UserAgent,
	); err != nil {
		return fmt.Errorf("create refresh record: %w", err)
	}
	return nil
}

// Find returns the record for a token hash, or ErrNotFound.
func (l *PostgresLedger) Find(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	query := `
		SELECT id, user_id, expires_at, created_at, revoked, revoked_at, ip_address, user_agent
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	rec := &RefreshRecord{TokenHash: tokenHash}
	var revokedAt sql.NullTime
	var ip, userAgent sql.NullString
	err := l.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&rec.ID, &rec.UserID, &rec.ExpiresAt, &rec.CreatedAt, &rec.Revoked, &revokedAt, &ip, &userAgent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh record: %w", err)
	}
	if revokedAt.Valid {
		rec.RevokedAt = &revokedAt.Time
	}
	rec.IP = ip.String
	rec.UserAgent = userAgent.String
	return rec, nil
}

// Revoke marks a record revoked by its token hash.
func (l *PostgresLedger) Revoke(ctx context.Context, tokenHash string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $1)
		WHERE token_hash = $2
	`
	res, err := l.db.ExecContext(ctx, query, time.Now(), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every active record owned by the user.
func (l *PostgresLedger) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $1
		WHERE user_id = $2 AND revoked = FALSE
	`
	if _, err := l.db.ExecContext(ctx, query, time.Now(), userID); err != nil {
		return fmt.Errorf("revoke refresh records for user %s: %w", userID, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the connection pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "auth:refresh:"
	userKeyPrefix   = "auth:refresh_user:"
)

// revokeScript marks a record revoked only if it still exists, in a single
// round-trip. Returns 0 when the key is gone (expired or never created).
var revokeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1])
return 1
`)

// RedisLedger stores refresh records as Redis hashes with a TTL matching the
// token lifetime, so expired records vacate the store on their own. A per-user
// set of token hashes supports bulk revocation on logout.
type RedisLedger struct {
	client redis.UniversalClient
}

// NewRedisLedger wraps an already-connected client. The caller owns the
// client lifecycle unless Close is used.
func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

// Create writes the record hash and indexes it under the owning user.
func (l *RedisLedger) Create(ctx context.Context, rec *RefreshRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh record already expired at %s", rec.ExpiresAt)
	}

	key := recordKeyPrefix + rec.TokenHash
	userKey := userKeyPrefix + rec.UserID.String()

	pipe := l.client.TxPipeline()
	pipe.HSet(ctx, key,
		"id", rec.ID.String(),
		"user_id", rec.UserID.String(),
		"expires_at", strconv.FormatInt(rec.ExpiresAt.Unix(), 10),
		"created_at", strconv.FormatInt(rec.CreatedAt.Unix(), 10),
		"revoked", "0",
		"ip", rec.IP,
		"user_agent", rec.UserAgent,
	)
	pipe.PExpire(ctx, key, ttl)
	pipe.SAdd(ctx, userKey, rec.TokenHash)
	// The user index must outlive every record it points at; re-arm its TTL
	// from the newest record.
	pipe.PExpire(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create refresh record: %w", err)
	}
	return nil
}

// Find loads a record by token hash.
func (l *RedisLedger) Find(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	fields, err := l.client.HGetAll(ctx, recordKeyPrefix+tokenHash).Result()
	if err != nil {
		return nil, fmt.Errorf("find refresh record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromFields(tokenHash, fields)
}

// Revoke marks a single record revoked.
func (l *RedisLedger) Revoke(ctx context.Context, tokenHash string) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	res, err := revokeScript.Run(ctx, l.client, []string{recordKeyPrefix + tokenHash}, now).Int64()
	if err != nil {
		return fmt.Errorf("revoke refresh record: %w", err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every indexed record for the user. Records that
// already expired out of the store are skipped.
func (l *RedisLedger) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	hashes, err := l.client.SMembers(ctx, userKeyPrefix+userID.String()).Result()
	if err != nil {
		return fmt.Errorf("list user refresh records: %w", err)
	}

	now := strconv.FormatInt(time.Now().Unix(), 10)
	for _, hash := range hashes {
		if _, err := revokeScript.Run(ctx, l.client, []string{recordKeyPrefix + hash}, now).Int64(); err != nil {
			return fmt.Errorf("revoke refresh record for user %s: %w", userID, err)
		}
	}
	return nil
}

// Ping checks store reachability.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func recordFromFields(tokenHash string, fields map[string]string) (*RefreshRecord, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh record %q: bad id: %w", tokenHash, err)
	}
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh record %q: bad user_id: %w", tokenHash, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh record %q: bad expires_at: %w", tokenHash, err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh record %q: bad created_at: %w", tokenHash, err)
	}

	rec := &RefreshRecord{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: time.Unix(expiresAt, 0),
		CreatedAt: time.Unix(createdAt, 0),
		Revoked:   fields["revoked"] == "1",
		IP:        fields["ip"],
		UserAgent: fields["user_agent"],
	}
	if raw, ok := fields["revoked_at"]; ok && raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			at := time.Unix(ts, 0)
			rec.RevokedAt = &at
		}
	}
	return rec, nil
}

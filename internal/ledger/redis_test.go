package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedger(client), mr
}

func newTestRecord(userID uuid.UUID, token string) *RefreshRecord {
	now := time.Now()
	return &RefreshRecord{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: HashToken(token),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		IP:        "203.0.113.9",
		UserAgent: "test-agent",
	}
}

func TestRedisLedgerCreateAndFind(t *testing.T) {
	t.Parallel()

	led, _ := newTestLedger(t)
	ctx := context.Background()

	rec := newTestRecord(uuid.New(), "raw-token")
	if err := led.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := led.Find(ctx, rec.TokenHash)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	if got.ID != rec.ID {
		t.Errorf("ID = %s, want %s", got.ID, rec.ID)
	}
	if got.UserID != rec.UserID {
		t.Errorf("UserID = %s, want %s", got.UserID, rec.UserID)
	}
	if got.Revoked {
		t.Error("fresh record should not be revoked")
	}
	if got.IP != rec.IP {
		t.Errorf("IP = %q, want %q", got.IP, rec.IP)
	}
	if !got.Active(time.Now()) {
		t.Error("fresh record should be active")
	}
}

func TestRedisLedgerFindMissing(t *testing.T) {
	t.Parallel()

	led, _ := newTestLedger(t)
	if _, err := led.Find(context.Background(), HashToken("never-issued")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find = %v, want ErrNotFound", err)
	}
}

func TestRedisLedgerRevoke(t *testing.T) {
	t.Parallel()

	led, _ := newTestLedger(t)
	ctx := context.Background()

	rec := newTestRecord(uuid.New(), "raw-token")
	if err := led.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := led.Revoke(ctx, rec.TokenHash); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	got, err := led.Find(ctx, rec.TokenHash)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !got.Revoked {
		t.Error("record should be revoked")
	}
	if got.RevokedAt == nil {
		t.Error("RevokedAt should be set")
	}
	if got.Active(time.Now()) {
		t.Error("revoked record should not be active")
	}

	// Revoking again is idempotent.
	if err := led.Revoke(ctx, rec.TokenHash); err != nil {
		t.Errorf("second Revoke: %v", err)
	}

	if err := led.Revoke(ctx, HashToken("never-issued")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke missing = %v, want ErrNotFound", err)
	}
}

func TestRedisLedgerRevokeAllForUser(t *testing.T) {
	t.Parallel()

	led, _ := newTestLedger(t)
	ctx := context.Background()

	userID := uuid.New()
	first := newTestRecord(userID, "token-one")
	second := newTestRecord(userID, "token-two")
	other := newTestRecord(uuid.New(), "token-other")

	for _, rec := range []*RefreshRecord{first, second, other} {
		if err := led.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := led.RevokeAllForUser(ctx, userID); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}

	for _, hash := range []string{first.TokenHash, second.TokenHash} {
		got, err := led.Find(ctx, hash)
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if !got.Revoked {
			t.Errorf("record %s should be revoked", hash)
		}
	}

	// Another user's records are untouched.
	got, err := led.Find(ctx, other.TokenHash)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Revoked {
		t.Error("unrelated record should not be revoked")
	}
}

func TestRedisLedgerRecordsExpire(t *testing.T) {
	t.Parallel()

	led, mr := newTestLedger(t)
	ctx := context.Background()

	rec := newTestRecord(uuid.New(), "raw-token")
	rec.ExpiresAt = time.Now().Add(time.Minute)
	if err := led.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := led.Find(ctx, rec.TokenHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find after expiry = %v, want ErrNotFound", err)
	}
}

func TestRedisLedgerRejectsExpiredRecord(t *testing.T) {
	t.Parallel()

	led, _ := newTestLedger(t)

	rec := newTestRecord(uuid.New(), "raw-token")
	rec.ExpiresAt = time.Now().Add(-time.Minute)
	if err := led.Create(context.Background(), rec); err == nil {
		t.Error("Create with past expiry should fail")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	t.Parallel()

	if HashToken("a") != HashToken("a") {
		t.Error("same input should hash identically")
	}
	if HashToken("a") == HashToken("b") {
		t.Error("different inputs should hash differently")
	}
	if len(HashToken("a")) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(HashToken("a")))
	}
}

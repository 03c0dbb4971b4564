package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/genesis-music/auth-service/internal/config"
	"github.com/genesis-music/auth-service/internal/ledger"
)

// NewRevokeCmd creates the revoke command, which invalidates every active
// refresh token for a user. Used for incident response and account lockout.
func NewRevokeCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke all refresh tokens for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user must be a valid UUID: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			led, closeLedger, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer closeLedger()

			if err := led.RevokeAllForUser(context.Background(), uid); err != nil {
				return fmt.Errorf("revoke refresh tokens: %w", err)
			}

			fmt.Printf("Revoked all refresh tokens for user %s\n", uid)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID whose refresh tokens to revoke")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func openLedger(cfg *config.Config) (ledger.Ledger, func(), error) {
	if cfg.LedgerBackend == "postgres" {
		pg, err := ledger.NewPostgresLedger(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres ledger: %w", err)
		}
		return pg, func() { _ = pg.Close() }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	led := ledger.NewRedisLedger(client)
	return led, func() { _ = client.Close() }, nil
}

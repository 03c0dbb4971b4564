package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/genesis-music/auth-service/internal/config"
	"github.com/genesis-music/auth-service/internal/middleware"
)

// NewRatelimitCmd creates the ratelimit command group.
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect rate-limit counters",
	}
	cmd.AddCommand(newRatelimitInspectCmd())
	return cmd
}

func newRatelimitInspectCmd() *cobra.Command {
	var client, route string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the current window counter for a client and route",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := middleware.NewStore(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer func() { _ = store.Close() }()

			count, ttl, err := store.Inspect(context.Background(), client, route)
			if err != nil {
				return fmt.Errorf("inspect rate counter: %w", err)
			}

			if count == 0 {
				fmt.Printf("No active window for client %q on route %q\n", client, route)
				return nil
			}
			fmt.Printf("Client:    %s\nRoute:     %s\nCount:     %d\nResets in: %s\n", client, route, count, ttl)
			return nil
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client identifier (user ID or IP)")
	cmd.Flags().StringVar(&route, "route", "", "route path template")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("route")
	return cmd
}

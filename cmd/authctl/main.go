package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/genesis-music/auth-service/cmd/authctl/commands"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "authctl",
		Short: "Administrative tool for the auth service",
		Long:  "CLI tool for revoking refresh tokens and inspecting rate-limit counters",
	}

	rootCmd.AddCommand(commands.NewRevokeCmd())
	rootCmd.AddCommand(commands.NewRatelimitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

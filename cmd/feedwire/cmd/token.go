package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/brianly1003/feedwire/internal/auth"
)

var tokenTTL time.Duration

// tokenCmd issues a bearer token for testing sockets and the trigger API.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for a user",
	Long: `Issue a signed bearer token using auth.jwt_secret.

The token is accepted in the Authorization header or as ?token= on /ws.

Examples:
  feedwire token 42
  feedwire token 42 --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set; bearer tokens are disabled")
	}

	issuer, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}

	token, err := issuer.Issue(args[0], tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

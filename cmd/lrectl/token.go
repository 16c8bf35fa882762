package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liminal-foundation/lre-core/internal/auth"
)

func init() {
	tokenCmd := &cobra.Command{Use: "token", Short: "Access token operations"}

	var username, secret string
	var expiryMinutes int
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Issue a signed access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("LRE_SECRET_KEY")
			}
			if len(secret) < 32 {
				return fmt.Errorf("signing secret must be at least 32 bytes; pass --secret or set LRE_SECRET_KEY")
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			u, err := s.GetUserByUsername(context.Background(), username)
			if err != nil {
				return fmt.Errorf("user %q: %w", username, err)
			}
			if !u.IsActive {
				return fmt.Errorf("user %q is deactivated", username)
			}
			issuer := auth.NewTokenIssuer([]byte(secret), time.Duration(expiryMinutes)*time.Minute)
			token, err := issuer.Issue(u)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
	mintCmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	mintCmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to LRE_SECRET_KEY)")
	mintCmd.Flags().IntVar(&expiryMinutes, "expiry-minutes", 60, "Token lifetime in minutes")
	_ = mintCmd.MarkFlagRequired("username")
	tokenCmd.AddCommand(mintCmd)

	rootCmd.AddCommand(tokenCmd)
}

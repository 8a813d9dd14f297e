package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptops/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a development token signed with JWT_SECRET",
	Long: `Mint an HS256 bearer token for a local server. The subject becomes
the owner id every prompt, deployment and metric is scoped to.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

var (
	tokenTTL   time.Duration
	tokenEmail string
)

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	now := time.Now()
	tok, err := auth.IssueToken(secret, args[0], auth.Claims{
		Email: tokenEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

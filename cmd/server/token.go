package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatrelay-backend/internal/middleware"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

// tokenCmd mints a bearer token for local testing against the API.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a development access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		godotenv.Load()
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return errors.New("JWT_SECRET is not set")
		}

		userID := uuid.New()
		if tokenUser != "" {
			parsed, err := uuid.Parse(tokenUser)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			userID = parsed
		}

		token, err := middleware.NewJWTAuth(secret).GenerateAccessToken(userID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "user_id: %s\n", userID)
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to embed (random when empty)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

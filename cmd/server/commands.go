package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/auth"
	"github.com/rl1809/inventory-requests/internal/core/domain"
)

var (
	usernameFlag string
	adminFlag    bool
	ttlFlag      time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the storage schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("migration complete", zap.String("driver", cfg.StoreDriver))
		return nil
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "users:add",
	Short: "Register a user (use --admin for approvers)",
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(usernameFlag)
		if username == "" {
			return errors.New("--username is required")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		user := domain.User{
			ID:        uuid.NewString(),
			Username:  username,
			IsAdmin:   adminFlag,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("add user %q: %w", username, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tadmin=%t\n", user.ID, user.Username, user.IsAdmin)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET must be set to issue tokens")
		}
		if usernameFlag == "" {
			return errors.New("--username is required")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := lookupUser(ctx, store, usernameFlag)
		if err != nil {
			return err
		}

		token, err := auth.NewTokens(cfg.JWTSecret, ttlFlag).Sign(domain.Identity{
			UserID:  user.ID,
			IsAdmin: user.IsAdmin,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

type userFinder interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

func lookupUser(ctx context.Context, users userFinder, username string) (*domain.User, error) {
	user, err := users.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && user == nil) {
		return nil, fmt.Errorf("no user named %q; add one with users:add", username)
	}
	if err != nil {
		return nil, fmt.Errorf("look up user %q: %w", username, err)
	}
	return user, nil
}

func init() {
	usersAddCmd.Flags().StringVar(&usernameFlag, "username", "", "Username to register")
	usersAddCmd.Flags().BoolVar(&adminFlag, "admin", false, "Grant approval rights")

	tokenCmd.Flags().StringVar(&usernameFlag, "username", "", "User to issue the token for")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", tokenTTL, "Token lifetime")
}

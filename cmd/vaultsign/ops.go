package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/VaultSign/internal/app"
	"github.com/dharsanguruparan/VaultSign/internal/auth"
	"github.com/dharsanguruparan/VaultSign/internal/config"
	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/database"
	"github.com/dharsanguruparan/VaultSign/internal/logging"
	"github.com/dharsanguruparan/VaultSign/internal/model"
)

var errNoDatabase = errors.New("VAULTSIGN_DATABASE_URL is not set")

// withApp runs fn against services wired from the environment. Commands that
// touch persisted tasks need a database; the in-memory repository would be
// empty.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	a, err := app.New(ctx, cfg, logging.New(cfg.LogLevel, cfg.Environment))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <task-id>",
		Short: "Regenerate the signed PDFs of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				task, err := a.Repo.GetTask(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load task: %w", err)
				}
				if task.Status != model.TaskCompleted {
					return fmt.Errorf("task %s is %s, only completed tasks can be finalized", task.ID, task.Status)
				}
				res, err := a.Pipeline.Compose(cmd.Context(), task.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage signing links and owner API tokens",
	}
	cmd.AddCommand(newTokenRegenerateCmd(), newTokenIssueCmd())
	return cmd
}

func newTokenRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <recipient-id>",
		Short: "Issue a fresh signing link for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				rc, err := a.Tasks.ReissueToken(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"recipientId": rc.ID,
					"link":        a.Notifier.SigningLink(rc.Token),
					"expiresAt":   rc.TokenExpiresAt,
				})
			})
		},
	}
}

func newTokenIssueCmd() *cobra.Command {
	var (
		userID, email string
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an owner bearer token for the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := auth.NewJWTVerifier(cfg.JWTSecret).Issue(userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "dev-owner", "Owner user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "owner@vaultsign.local", "Owner email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newValidatePositionCmd() *cobra.Command {
	var (
		page int
		rect coords.Rect
	)
	cmd := &cobra.Command{
		Use:   "validate-position",
		Short: "Check a percentage rectangle against the placement rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			res := coords.Validate(rect, page)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return errors.New("position is invalid")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().Float64Var(&rect.X, "x", 0, "Left edge, percent of page width")
	cmd.Flags().Float64Var(&rect.Y, "y", 0, "Top edge, percent of page height")
	cmd.Flags().Float64Var(&rect.Width, "width", 0, "Width, percent of page width")
	cmd.Flags().Float64Var(&rect.Height, "height", 0, "Height, percent of page height")
	return cmd
}

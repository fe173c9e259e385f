package main

import (
	"context"
	"errors"
	"fmt"

	"porch/internal/config"
	"porch/internal/database"
	"porch/internal/repo"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens",
	Long:  `Issue and revoke bearer tokens. Administrator tokens must be issued from this CLI; the HTTP API only mints pipeline-scoped tokens.`,
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new token",
	Long:  `Issue a new bearer token. Without --pipeline the token is an administrator (power user) credential. The token value is printed exactly once and cannot be recovered afterwards.`,
	RunE:  runTokenIssue,
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a token",
	Long:  `Revoke a bearer token. Revocation takes effect on the next request; the row is kept for the audit trail.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenRevoke,
}

var (
	tokenIssuePipeline    string
	tokenIssueDescription string
)

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenIssuePipeline, "pipeline", "", "pipeline name to scope the token to (omit for an administrator token)")
	tokenIssueCmd.Flags().StringVar(&tokenIssueDescription, "description", "", "free-text description of the token's purpose")
	_ = tokenIssueCmd.MarkFlagRequired("description")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseSchema)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	tokenRepo := repo.NewTokenRepository(pool)

	var pipelineID *int64
	if tokenIssuePipeline != "" {
		pipelineRepo := repo.NewPipelineRepository(pool)
		row, err := pipelineRepo.GetByName(ctx, tokenIssuePipeline)
		if err != nil {
			if errors.Is(err, repo.ErrPipelineNotFound) {
				return fmt.Errorf("pipeline '%s' not found", tokenIssuePipeline)
			}
			return fmt.Errorf("failed to look up pipeline: %w", err)
		}
		pipelineID = &row.ID
	}

	value, tokenID, err := tokenRepo.Mint(ctx, pipelineID, tokenIssueDescription)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	kind := "administrator"
	if pipelineID != nil {
		kind = fmt.Sprintf("pipeline '%s'", tokenIssuePipeline)
	}
	fmt.Printf("Issued %s token (id %d). Store the value now; it will not be shown again.\n", kind, tokenID)
	fmt.Println(value)
	return nil
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseSchema)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	tokenRepo := repo.NewTokenRepository(pool)
	if err := tokenRepo.Revoke(ctx, args[0]); err != nil {
		if errors.Is(err, repo.ErrTokenNotFound) {
			return fmt.Errorf("token not found or already revoked")
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	fmt.Println("✓ Token revoked")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/docpipe/internal/config"
	"github.com/cloo-solutions/docpipe/internal/database"
	"github.com/cloo-solutions/docpipe/internal/openai"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

// RepairCmd returns the repair command
func RepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Run one reconciliation pass and exit",
		Long:  "Reconcile the vector collection with the metadata table, then exit",
		RunE:  runRepair,
	}

	cmd.Flags().Int("limit", 100, "Maximum number of documents to check")

	return cmd
}

func runRepair(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("DOCPIPE_OPENAI_API_KEY is required")
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	embedder, err := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		Concurrency:         cfg.EmbeddingConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	defer embedder.Release()

	svc := buildVectorizationService(pool, embedder, nil, cfg)

	limit, _ := cmd.Flags().GetInt("limit")
	report, err := svc.Repair(ctx, cfg.RepairMinAge, limit)
	if err != nil {
		return fmt.Errorf("repair pass failed: %w", err)
	}

	log.Printf("repair pass complete: checked=%d orphans_deleted=%d demoted=%d",
		report.Checked, report.OrphansDeleted, report.Demoted)
	return nil
}

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyloop/courseta/internal/config"
	"github.com/studyloop/courseta/internal/database"
	"github.com/studyloop/courseta/internal/jobs"
	"github.com/studyloop/courseta/internal/openai"
	"github.com/studyloop/courseta/internal/repository"
)

// BackfillCmd returns the backfill command
func BackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed chunks that are missing embeddings",
		Long: "Scan the chunk tables for rows without embeddings, embed their content, " +
			"and write the vectors back. Safe to re-run: already-embedded rows are untouched.",
		RunE: runBackfill,
	}

	cmd.Flags().Int("batch-size", jobs.DefaultBatchSize, "Chunks embedded between pauses")
	cmd.Flags().Duration("delay", jobs.DefaultBatchDelay, "Pause between batches")
	cmd.Flags().Bool("loop", false, "Keep polling for new unembedded chunks instead of exiting")
	cmd.Flags().Duration("interval", time.Minute, "Poll interval when --loop is set")

	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return openai.ErrNoAPIKey
	}

	if shutdown := initTelemetry(); shutdown != nil {
		defer shutdown()
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	delay, _ := cmd.Flags().GetDuration("delay")

	client := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.ChatModel,
	})

	backfill := jobs.NewBackfillWorker(repository.NewChunkRepository(pool), client, batchSize, delay)

	loop, _ := cmd.Flags().GetBool("loop")
	if !loop {
		return backfill.RunOnce(ctx)
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	worker := jobs.NewWorker(backfill, interval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go worker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("stopping backfill worker...")

	cancel()
	worker.Stop()
	return nil
}

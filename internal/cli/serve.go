package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/studyloop/courseta/internal/api/handlers"
	"github.com/studyloop/courseta/internal/cache"
	"github.com/studyloop/courseta/internal/config"
	"github.com/studyloop/courseta/internal/database"
	"github.com/studyloop/courseta/internal/domain"
	"github.com/studyloop/courseta/internal/openai"
	"github.com/studyloop/courseta/internal/repository"
	"github.com/studyloop/courseta/internal/server"
	"github.com/studyloop/courseta/internal/service"
	"github.com/studyloop/courseta/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the question-answering API server",
		Long:  "Start the courseta API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if shutdown := initTelemetry(); shutdown != nil {
		defer shutdown()
	}

	applyPortFlag(cmd, cfg)

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	chunkRepo := repository.NewChunkRepository(pool)

	client := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.ChatModel,
	})
	if !cfg.HasOpenAI() {
		log.Println("OPENAI_API_KEY not set: query endpoint will reject requests")
	}

	embedder := service.NewQueryEmbedder(client, client, cache.NewEmbeddingCache(cfg.QueryCacheSize))
	retriever := service.NewRetriever(chunkRepo, service.RetrieverConfig{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxResults:          cfg.MaxResults,
		ScanLimit:           cfg.ScanLimit,
		URLBases: domain.URLBases{
			Discourse: cfg.DiscourseBaseURL,
			Docs:      cfg.DocsBaseURL,
		},
	})

	answerCfg := service.DefaultAnswerConfig()
	answerCfg.MaxContextChunks = cfg.MaxContextChunks
	answerSvc := service.NewAnswerService(embedder, retriever, client, answerCfg)

	router := server.NewRouter(server.RouterConfig{
		QueryHandler:  handlers.NewQueryHandler(answerSvc, cfg.HasOpenAI()),
		HealthHandler: handlers.NewHealthHandler(chunkRepo, cfg.HasOpenAI()),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// applyPortFlag overrides the configured port only when the flag was set
// explicitly, so PORT from the environment wins otherwise.
func applyPortFlag(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetString("port")
	}
}

// initTelemetry initializes Sentry when SENTRY_DSN is set and returns the
// flush hook, or nil when telemetry is disabled.
func initTelemetry() func() {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return nil
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	sampleRate := 0.1
	if environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              dsn,
		Environment:      environment,
		TracesSampleRate: sampleRate,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return nil
	}
	return shutdown
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}

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

	"github.com/cloo-solutions/docpipe/internal/api/handlers"
	"github.com/cloo-solutions/docpipe/internal/config"
	"github.com/cloo-solutions/docpipe/internal/database"
	"github.com/cloo-solutions/docpipe/internal/jobs"
	"github.com/cloo-solutions/docpipe/internal/openai"
	"github.com/cloo-solutions/docpipe/internal/repository"
	"github.com/cloo-solutions/docpipe/internal/server"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/cloo-solutions/docpipe/internal/storage"
	"github.com/cloo-solutions/docpipe/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the docpipe API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-repair-worker", false, "Disable the background repair worker")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("DOCPIPE_OPENAI_API_KEY is required")
	}

	shutdownTelemetry := initTelemetry()
	defer shutdownTelemetry()

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
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

	var archiver service.DocumentArchiver
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		archiver = s3Client
	}

	vectorSvc := buildVectorizationService(pool, embedder, archiver, cfg)

	repairWorker := jobs.NewRepairWorker(vectorSvc, cfg.RepairInterval, cfg.RepairMinAge, 100)
	noRepairWorker, _ := cmd.Flags().GetBool("no-repair-worker")
	if !noRepairWorker {
		go repairWorker.Start(ctx)
		log.Println("repair worker started")
	}

	router := server.NewRouter(server.RouterConfig{
		APIKey:          cfg.APIKey,
		DocumentHandler: handlers.NewDocumentHandler(vectorSvc),
		SearchHandler:   handlers.NewSearchHandler(vectorSvc),
		RepairHandler:   handlers.NewRepairHandler(vectorSvc, cfg.RepairMinAge),
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

	if !noRepairWorker {
		repairWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func buildVectorizationService(pool *pgxpool.Pool, embedder *openai.Client, archiver service.DocumentArchiver, cfg *config.Config) *service.VectorizationService {
	metadataRepo := repository.NewDocumentVectorRepository(pool)
	vectorStore := repository.NewVectorStore(pool)

	chunker := service.NewSemanticChunker(embedder, service.SemanticChunkConfig{
		BufferSize:           cfg.BufferSize,
		BreakpointPercentile: cfg.BreakpointPercentile,
	})

	return service.NewVectorizationService(
		chunker,
		embedder,
		vectorStore,
		metadataRepo,
		archiver,
		service.VectorizationConfig{
			Collection: repository.CollectionName(embedder.Model(), embedder.Dimensions()),
			Dimensions: embedder.Dimensions(),
			Metric:     service.DistanceCosine,
		},
	)
}

// initTelemetry wires Sentry when SENTRY_DSN is set. The returned func
// flushes pending events on shutdown.
func initTelemetry() func() {
	noop := func() {}

	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return noop
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
		return noop
	}
	return shutdown
}

func runMigrations(databaseURL string) error {
	// golang-migrate needs a database/sql connection
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
	} else {
		log.Printf("migrations: at version %d", version)
	}

	return nil
}

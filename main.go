package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"policyscan/features/run"
	"policyscan/internal/adapter/docsearch"
	"policyscan/internal/adapter/gemini"
	"policyscan/internal/artifact"
	"policyscan/internal/config"
	"policyscan/internal/logger"
	"policyscan/internal/pipeline"
	"policyscan/internal/runctx"
)

func main() {
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	// Exit status reflects only whether the run could start; per-item
	// failures are absorbed into the summary.
	if err := runPipeline(); err != nil {
		slog.Error("run could not start", "error", err)
		os.Exit(1)
	}
}

func runPipeline() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := runctx.NewRunID()
	ctx = runctx.WithRunID(ctx, runID)
	slog.InfoContext(ctx, "starting run", "query", cfg.Query, "concurrency", cfg.Concurrency)

	// Postgres + migrations
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.WarnContext(ctx, "failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Weaviate document search
	wClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		return fmt.Errorf("weaviate client: %w", err)
	}
	if err := docsearch.EnsureSchema(ctx, wClient); err != nil {
		return fmt.Errorf("ensure weaviate schema: %w", err)
	}
	search := docsearch.NewService(wClient, cfg.SearchLimit)

	// NSQ producer for graph ingestion
	var publisher run.EventPublisher
	if cfg.PublishResults {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq producer: %w", err)
		}
		defer producer.Stop()
		publisher = producer
	}

	// Gemini inference client
	inference, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}
	defer inference.Close()

	artifacts, err := artifact.NewStore(cfg.ArtifactDir)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	runner, err := pipeline.NewRunner(inference, pipeline.Options{
		Concurrency: cfg.Concurrency,
		MaxCycles:   cfg.MaxCycles,
		MaxRetries:  cfg.MaxRetries,
		Backoff:     time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		Artifacts:   artifacts,
	})
	if err != nil {
		return fmt.Errorf("pipeline runner: %w", err)
	}

	ledger := run.NewService(run.NewPostgresRepo(db), publisher)

	// Ingest work items from document search.
	docs, err := search.Search(ctx, cfg.Query, nil)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			slog.WarnContext(ctx, "search returned no documents", "query", cfg.Query)
			docs = nil
		} else {
			return fmt.Errorf("document search: %w", err)
		}
	}
	if err := artifacts.WriteSearchResults(runID, docs); err != nil {
		slog.ErrorContext(ctx, "failed to archive search results", "error", err)
	}

	items := make([]pipeline.WorkItem, len(docs))
	for i, doc := range docs {
		items[i] = pipeline.WorkItem{
			ID:       uuid.New().String(),
			Payload:  doc.Content,
			Context:  cfg.Query,
			Metadata: map[string]string{"provenance": doc.Provenance},
		}
	}

	if err := ledger.Begin(ctx, runID, cfg.Query, len(items)); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}

	grouped, sum, runErr := runner.Run(ctx, runID, items)
	if runErr != nil {
		slog.WarnContext(ctx, "run cancelled, keeping partial results", "error", runErr)
	}

	if _, err := ledger.PublishGrouped(ctx, runID, grouped); err != nil {
		slog.ErrorContext(ctx, "failed to publish merged records", "error", err)
	}

	// Ledger updates use a fresh context: the run context may already be
	// cancelled and the summary must still land.
	finishCtx, cancel := context.WithTimeout(runctx.WithRunID(context.Background(), runID), 10*time.Second)
	defer cancel()
	if runErr != nil {
		if err := ledger.Fail(finishCtx, runID, cfg.Query, sum, runErr.Error()); err != nil {
			slog.ErrorContext(finishCtx, "failed to record run failure", "error", err)
		}
		return nil
	}
	if err := ledger.Complete(finishCtx, runID, cfg.Query, sum); err != nil {
		slog.ErrorContext(finishCtx, "failed to record run summary", "error", err)
	}

	slog.InfoContext(ctx, "run complete", "artifacts", artifacts.RunDir(runID))
	return nil
}

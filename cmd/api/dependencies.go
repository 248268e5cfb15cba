package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/handler"
	importrepo "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/review"
	importservice "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/service"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
	taghandler "github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag/handler"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/transaction"

	"github.com/FACorreiaa/smart-expense-tagger/pkg/config"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	TagRepo    *tag.PostgresRepository
	ImportRepo importrepo.ImportRepository

	// Services
	TagService         *tag.Service
	ImportService      *importservice.ImportService
	ReviewEngine       *review.Engine
	TransactionService *transaction.Service

	// Handlers
	TagHandler         *taghandler.TagHandler
	ImportHandler      *handler.ImportHandler
	TransactionHandler *transaction.Handler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	c := d.Config.Database
	database, err := db.New(db.Config{
		DSN:             c.DSN(),
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		ConnectTimeout:  10 * time.Second,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.TagRepo = tag.NewPostgresRepository(d.DB.Pool)
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initServices builds the services and seeds the master tags.
func (d *Dependencies) initServices(ctx context.Context) error {
	d.TagService = tag.NewService(d.TagRepo, d.Logger)
	if err := d.TagService.SeedMasterTags(ctx, nil); err != nil {
		return err
	}

	opts := importservice.Options{
		ChunkSize:  d.Config.Import.ChunkSize,
		StagingTTL: d.Config.Import.StagingTTL,
	}
	d.ImportService = importservice.NewImportService(d.ImportRepo, d.TagRepo, d.Logger, opts)
	d.ReviewEngine = review.NewEngine(d.ImportRepo, d.TagRepo, d.Logger, d.Config.Import.StagingTTL)
	d.TransactionService = transaction.NewService(d.ImportRepo, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

func (d *Dependencies) initHandlers() {
	d.TagHandler = taghandler.NewTagHandler(d.TagService)
	d.ImportHandler = handler.NewImportHandler(d.ImportService, d.ReviewEngine, d.Logger, d.Config.Import.MaxUploadBytes)
	d.TransactionHandler = transaction.NewHandler(d.TransactionService)

	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

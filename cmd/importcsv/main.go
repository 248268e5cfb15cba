// Command importcsv imports a local bank or card statement for one user,
// accepting every suggested tag, and prints a colored summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	importrepo "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/service"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/config"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/db"
)

var (
	file        = flag.String("file", "", "Statement to import (CSV or XLSX).")
	user        = flag.String("user", "", "Owner user id of the import.")
	dateCol     = flag.String("date", "", "Date column header. Suggested when empty.")
	descCol     = flag.String("desc", "", "Description column header. Suggested when empty.")
	amountCol   = flag.String("amount", "", "Amount column header. Suggested when empty.")
	saveMapping = flag.Bool("save-mapping", false, "Remember the column mapping for files with the same headers.")
	dryRun      = flag.Bool("dry-run", false, "Stage and print the rows without writing them.")
	verbose     = flag.Bool("v", false, "Log debug output to stderr.")
)

func main() {
	flag.Parse()
	if *file == "" || *user == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil {
		printError(err.Error())
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := readFile(*file, cfg.Import.MaxUploadBytes)
	if err != nil {
		return err
	}

	database, err := db.New(db.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        4,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	tagRepo := tag.NewPostgresRepository(database.Pool)
	if err := tag.NewService(tagRepo, logger).SeedMasterTags(ctx, nil); err != nil {
		return err
	}
	svc := importservice.NewImportService(
		importrepo.NewPostgresImportRepository(database.Pool),
		tagRepo,
		logger,
		importservice.Options{ChunkSize: cfg.Import.ChunkSize, StagingTTL: cfg.Import.StagingTTL},
	)

	ctx = common.WithUserID(ctx, *user)
	filename := filepath.Base(*file)

	header(filename)
	analysis, err := svc.Analyze(ctx, data, filename)
	if err != nil {
		return err
	}
	info(fmt.Sprintf("encoding %s, %d rows, %d columns", analysis.Encoding, analysis.RowCount, len(analysis.Headers)))
	if !analysis.Confident {
		warning("encoding could not be detected, some characters may be replaced")
	}

	mapping := resolveMapping(sniffer.ColumnMapping{Date: *dateCol, Description: *descCol, Amount: *amountCol}, analysis)
	if !mapping.Complete() {
		return fmt.Errorf("could not choose columns from %v, pass -date, -desc and -amount", analysis.Headers)
	}
	info(fmt.Sprintf("columns: date=%q description=%q amount=%q", mapping.Date, mapping.Description, mapping.Amount))

	doc, _, err := importservice.DecodeFile(data, filename)
	if err != nil {
		return err
	}
	staged, err := svc.Stage(ctx, importservice.StageRequest{
		Filename:    filename,
		Document:    doc,
		Mapping:     mapping,
		SaveMapping: *saveMapping,
	})
	if err != nil {
		return err
	}
	printStaged(staged)

	if *dryRun {
		if err := svc.Discard(ctx, staged.ImportID); err != nil {
			return err
		}
		warning("dry run, nothing was written")
		return nil
	}

	result, err := svc.Commit(ctx, staged.ImportID, printProgress)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

// resolveMapping fills the columns not given on the command line, preferring
// a mapping saved for these headers over the suggestion.
func resolveMapping(flags sniffer.ColumnMapping, analysis *importservice.AnalyzeResult) sniffer.ColumnMapping {
	base := analysis.Suggested
	if analysis.Saved != nil {
		base = *analysis.Saved
	}
	if flags.Date == "" {
		flags.Date = base.Date
	}
	if flags.Description == "" {
		flags.Description = base.Description
	}
	if flags.Amount == "" {
		flags.Amount = base.Amount
	}
	return flags
}

func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if limit <= 0 {
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, limit)
	}
	return data, nil
}

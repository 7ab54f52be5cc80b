package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/lectern/lectern/internal/config"
	"github.com/lectern/lectern/internal/controller"
	"github.com/lectern/lectern/internal/domain"
	"github.com/lectern/lectern/internal/downloads"
	"github.com/lectern/lectern/internal/feeds"
	"github.com/lectern/lectern/internal/log"
	"github.com/lectern/lectern/internal/registry"
	"github.com/lectern/lectern/internal/search"
	"github.com/lectern/lectern/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

// app bundles the wired-up collaborators the commands operate on.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	account    *store.Account
	books      *store.BookStore
	registry   *registry.Registry
	controller *controller.Controller
	search     *search.Service
}

func main() {
	godotenv.Load() // Optional .env overrides; missing file is fine

	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)
	logger.Info("starting lectern", "version", Version)

	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	books, err := store.Open(cfg.Storage.DataDir, cfg.Account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open book database: %w", err)
	}

	account := store.NewAccount(cfg.Account.ID, cfg.Account.Provider(), books)
	reg := registry.New(logger)

	ctrl := controller.New(controller.Config{
		Registry:    reg,
		Feeds:       feeds.NewClient(logger),
		Downloader:  downloads.NewHTTPDownloader(cfg.Storage.DownloadDir, logger),
		Bundled:     feeds.NewDirResolver(cfg.Storage.BundledDir),
		DownloadDir: cfg.Storage.DownloadDir,
		Workers:     cfg.Tasks.Workers,
		Logger:      logger,
	})

	a := &app{
		cfg:        cfg,
		logger:     logger,
		account:    account,
		books:      books,
		registry:   reg,
		controller: ctrl,
		search:     search.NewService(reg, logger),
	}

	a.seedRegistry()
	return a, nil
}

// seedRegistry projects every persisted book into the registry so reads
// and search see the full local collection.
func (a *app) seedRegistry() {
	for _, id := range a.books.Books() {
		book, ok := a.books.Book(id)
		if !ok {
			continue
		}
		status, err := domain.StatusFromBook(book)
		if err != nil {
			a.logger.Warn("skipping book with underivable status", "bookID", id, "error", err)
			continue
		}
		a.registry.Update(domain.BookWithStatus{Book: book, Status: status})
	}
}

func (a *app) close() {
	a.controller.Close()
	a.books.Close()
}

// resolveBookID matches a full or prefixed book ID against the database.
func (a *app) resolveBookID(arg string) (domain.BookID, error) {
	var matches []domain.BookID
	for _, id := range a.books.Books() {
		if id == domain.BookID(arg) {
			return id, nil
		}
		if len(arg) >= 6 && len(arg) < len(id) && string(id[:len(arg)]) == arg {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no book matches %q", arg)
	default:
		return "", fmt.Errorf("%q is ambiguous (%d matches)", arg, len(matches))
	}
}

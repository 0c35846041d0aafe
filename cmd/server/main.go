package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/rpattn/folio/internal/auth"
	"github.com/rpattn/folio/internal/config"
	"github.com/rpattn/folio/internal/db"
	"github.com/rpattn/folio/internal/export"
	"github.com/rpattn/folio/internal/ingestion"
	"github.com/rpattn/folio/internal/jobs"
	"github.com/rpattn/folio/internal/middleware"
	"github.com/rpattn/folio/internal/repository"
	"github.com/rpattn/folio/internal/repository/memory"
)

type repositories struct {
	books        repository.BookRepository
	transactions repository.TransactionRepository
	terms        repository.TermRepository
	logs         repository.IngestionLogRepository
}

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var repos repositories
	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.NewStore()
		repos = repositories{books: store.Books, transactions: store.Transactions, terms: store.Terms, logs: store.IngestionLogs}
		log.Println("Using in-memory storage; data is lost on exit")
	default:
		if err := db.RunMigrations(cfg.Database); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer conn.Close()
		repos = repositories{
			books:        repository.NewBookRepository(conn.Pool),
			transactions: repository.NewTransactionRepository(conn),
			terms:        repository.NewTermRepository(conn.Pool),
			logs:         repository.NewIngestionLogRepository(conn.Pool),
		}
	}

	registry := jobs.NewRegistry()
	importService := ingestion.NewService(
		repos.books, repos.transactions, repos.terms, repos.logs, registry,
		ingestion.WithConcurrency(cfg.Import.Concurrency),
		ingestion.WithLoaderWait(cfg.Import.LoaderWait),
	)
	exportService := export.NewService(repos.books, repos.transactions, repos.terms)

	router := chi.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(auth.CallerMiddleware)
	ingestion.NewHTTPHandler(importService, registry, cfg.Import.MaxUploadBytes).Routes(router)
	export.NewHTTPHandler(exportService).Routes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	// running imports keep writing until they finish or the deadline passes
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Import jobs still running at exit: %v", err)
	}

	log.Println("Server exited")
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the batch pricing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the store (PostgreSQL if configured, SQLite otherwise)
  3. Create services and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: prices.db, env DATABASE_PATH)
           Use ":memory:" for an in-memory database
  -pg      PostgreSQL connection string (env POSTGRES_URL). When set,
           PostgreSQL is used instead of SQLite.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/prices.db"

  # Run against PostgreSQL
  ./server -pg="postgres://pricing:pw@localhost:5432/pricing"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/pricing-engine/api"
	"github.com/warp/pricing-engine/metrics"
	"github.com/warp/pricing-engine/pricing"
	"github.com/warp/pricing-engine/store/postgres"
	"github.com/warp/pricing-engine/store/sqlite"
)

func main() {
	// .env is optional; flags and real env always win.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "prices.db"), "SQLite database path")
	pgURL := flag.String("pg", envStr("POSTGRES_URL", ""), "PostgreSQL connection string (overrides -db)")
	flag.Parse()

	ctx := context.Background()

	// Initialize store
	var (
		store   pricing.TxStore
		cleanup func()
	)
	if *pgURL != "" {
		pg, err := postgres.New(ctx, *pgURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL: %v", err)
		}
		store, cleanup = pg, pg.Close
		log.Printf("Using PostgreSQL store")
	} else {
		sq, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store, cleanup = sq, func() { sq.Close() }
		log.Printf("Using SQLite store at %s", *dbPath)
	}
	defer cleanup()

	// Initialize services and handler
	reg := metrics.NewRegistry()
	service := pricing.NewBatchService(store, nil, reg)
	query := pricing.NewQueryService(store, reg)
	handler := api.NewHandler(service, query, reg)

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

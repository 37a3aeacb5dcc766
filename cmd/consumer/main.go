/*
main.go - Kafka ingestion entry point

PURPOSE:
  Runs the Kafka record transport: price observations are consumed from
  a topic and applied to batches through the same lifecycle service the
  HTTP API uses. Completion and cancellation stay on the administrative
  HTTP surface.

CONFIGURATION:
  -brokers  Comma-separated broker list (default: localhost:9092, env KAFKA_BROKERS)
  -topic    Topic carrying price messages (default: price-uploads, env KAFKA_TOPIC)
  -group    Consumer group id (default: pricing-engine)
  -db       SQLite database path (default: prices.db)
  -pg       PostgreSQL connection string (overrides -db)

SEE ALSO:
  - ingest/kafka.go: Consumer implementation and wire format
*/
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/warp/pricing-engine/ingest"
	"github.com/warp/pricing-engine/metrics"
	"github.com/warp/pricing-engine/pricing"
	"github.com/warp/pricing-engine/store/postgres"
	"github.com/warp/pricing-engine/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	brokers := flag.String("brokers", envStr("KAFKA_BROKERS", "localhost:9092"), "comma-separated Kafka brokers")
	topic := flag.String("topic", envStr("KAFKA_TOPIC", "price-uploads"), "Kafka topic")
	group := flag.String("group", envStr("KAFKA_GROUP", "pricing-engine"), "consumer group id")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "prices.db"), "SQLite database path")
	pgURL := flag.String("pg", envStr("POSTGRES_URL", ""), "PostgreSQL connection string (overrides -db)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	} else {
		sq, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store, cleanup = sq, func() { sq.Close() }
	}
	defer cleanup()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	service := pricing.NewBatchService(store, logger, metrics.NewRegistry())

	consumer := ingest.NewConsumer(ingest.ConsumerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
		GroupID: *group,
	}, service, logger)

	log.Printf("Consuming %s from %s", *topic, *brokers)
	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("Consumer failed: %v", err)
	}
	log.Println("Consumer stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

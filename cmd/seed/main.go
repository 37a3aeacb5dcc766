/*
main.go - Demo seeding CLI

PURPOSE:
  Runs one full batch lifecycle against a store and prints the resulting
  last prices: start, upload a small set of observations (or a CSV
  file), complete, query. Useful for smoke-testing a fresh database.

FLAGS:
  -db     SQLite database path (default: prices.db)
  -batch  Batch id (default: a fresh "seed-<uuid>" id)
  -file   Optional CSV file (instrumentId,asOfRFC3339,payloadJson);
          when omitted, a built-in META/MSFT dataset is used

EXAMPLES:
  ./seed -db=":memory:"
  ./seed -db=./data/prices.db -file=prices.csv
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/pricing-engine/ingest"
	"github.com/warp/pricing-engine/pricing"
	"github.com/warp/pricing-engine/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "prices.db", "SQLite database path")
	batchID := flag.String("batch", "seed-"+uuid.NewString()[:8], "batch id")
	csvPath := flag.String("file", "", "optional CSV file to upload")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	service := pricing.NewBatchService(store, nil, nil)
	query := pricing.NewQueryService(store, nil)

	if err := service.Start(ctx, *batchID); err != nil {
		log.Fatalf("Failed to start batch: %v", err)
	}

	instruments, err := upload(ctx, service, *batchID, *csvPath)
	if err != nil {
		log.Fatalf("Failed to upload: %v", err)
	}

	if err := service.Complete(ctx, *batchID); err != nil {
		log.Fatalf("Failed to complete batch: %v", err)
	}

	rows, err := query.LastPrices(ctx, instruments)
	if err != nil {
		log.Fatalf("Failed to query last prices: %v", err)
	}
	for _, r := range rows {
		fmt.Printf("%s => %s (as of %s)\n", r.InstrumentID, r.PayloadJSON, r.AsOf.Format("2006-01-02 15:04:05"))
	}
}

// upload applies either the CSV file or the built-in dataset and
// returns the instrument ids it touched.
func upload(ctx context.Context, service *pricing.BatchService, batchID, csvPath string) ([]string, error) {
	if csvPath == "" {
		points := demoPoints()
		if err := service.Upload(ctx, batchID, points); err != nil {
			return nil, err
		}
		return instrumentsOf(points), nil
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	_, err = ingest.ReadCSV(f, ingest.DefaultChunkSize, func(points []pricing.PricePoint) error {
		for _, p := range points {
			seen[p.InstrumentID] = true
		}
		return service.Upload(ctx, batchID, points)
	})
	if err != nil {
		return nil, err
	}

	instruments := make([]string, 0, len(seen))
	for id := range seen {
		instruments = append(instruments, id)
	}
	return instruments, nil
}

func demoPoints() []pricing.PricePoint {
	payload := func(price string) string {
		return fmt.Sprintf(`{"price":%s}`, decimal.RequireFromString(price).String())
	}
	return []pricing.PricePoint{
		{InstrumentID: "META", AsOf: mustTime("2024-01-01T10:00:00Z"), PayloadJSON: payload("180")},
		{InstrumentID: "META", AsOf: mustTime("2024-01-01T11:00:00Z"), PayloadJSON: payload("182")},
		{InstrumentID: "MSFT", AsOf: mustTime("2024-01-01T09:00:00Z"), PayloadJSON: payload("310")},
	}
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func instrumentsOf(points []pricing.PricePoint) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range points {
		if !seen[p.InstrumentID] {
			seen[p.InstrumentID] = true
			out = append(out, p.InstrumentID)
		}
	}
	return out
}

/*
kafka.go - Kafka record transport for price uploads

PURPOSE:
  Consumes price observations from a Kafka topic and applies them to
  batches in bounded chunks. One message per observation:

    key:   batch id
    value: {"instrument_id": "...", "as_of": "RFC3339", "payload_json": "..."}

  The consumer ensures a batch is started before its first write-set
  and flushes a batch's buffer when it reaches the chunk size or when
  the flush interval elapses. Completion and cancellation remain
  explicit administrative calls; the topic only carries rows.

DELIVERY:
  At-least-once. A chunk that was applied but whose offset commit is
  lost can be re-applied after a restart; exactly-once across restarts
  is an explicit non-goal.
*/
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/pricing-engine/pricing"
)

// PriceMessage is the wire format of one Kafka record.
type PriceMessage struct {
	InstrumentID string `json:"instrument_id"`
	AsOf         string `json:"as_of"`
	PayloadJSON  string `json:"payload_json"`
}

// messageReader abstracts kafka.Reader for testability.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ConsumerConfig holds Kafka consumer settings.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	ChunkSize     int           // rows per write-set (default: DefaultChunkSize)
	FlushInterval time.Duration // max buffering delay (default: 2s)
}

// Consumer pumps price messages from Kafka into the batch service.
type Consumer struct {
	cfg    ConsumerConfig
	reader messageReader
	svc    *pricing.BatchService
	logger *slog.Logger

	buffers map[string][]pricing.PricePoint
}

// NewConsumer creates a consumer reading from the configured topic.
func NewConsumer(cfg ConsumerConfig, svc *pricing.BatchService, logger *slog.Logger) *Consumer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg: cfg,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		svc:     svc,
		logger:  logger,
		buffers: make(map[string][]pricing.PricePoint),
	}
}

// Run consumes until ctx is cancelled, then flushes what is buffered.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		readCtx, cancel := context.WithTimeout(ctx, c.cfg.FlushInterval)
		msg, err := c.reader.ReadMessage(readCtx)
		cancel()

		switch {
		case err == nil:
			c.handleMessage(ctx, msg)
		case errors.Is(err, context.DeadlineExceeded):
			// Quiet topic: drain the buffers so rows don't sit forever.
			c.flushAll(ctx)
		case ctx.Err() != nil:
			c.flushAll(context.Background())
			return nil
		default:
			c.flushAll(ctx)
			return err
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	batchID := string(msg.Key)
	if batchID == "" {
		c.logger.Warn("dropping price message without batch key",
			"topic", msg.Topic, "offset", msg.Offset)
		return
	}

	var pm PriceMessage
	if err := json.Unmarshal(msg.Value, &pm); err != nil {
		c.logger.Warn("dropping malformed price message",
			"batch", batchID, "offset", msg.Offset, "error", err)
		return
	}
	asOf, err := time.Parse(time.RFC3339, pm.AsOf)
	if err != nil || pm.InstrumentID == "" {
		c.logger.Warn("dropping invalid price message",
			"batch", batchID, "offset", msg.Offset)
		return
	}

	c.buffers[batchID] = append(c.buffers[batchID], pricing.PricePoint{
		InstrumentID: pm.InstrumentID,
		AsOf:         asOf,
		PayloadJSON:  pm.PayloadJSON,
	})
	if len(c.buffers[batchID]) >= c.cfg.ChunkSize {
		c.flushBatch(ctx, batchID)
	}
}

func (c *Consumer) flushAll(ctx context.Context) {
	for batchID := range c.buffers {
		c.flushBatch(ctx, batchID)
	}
}

// flushBatch applies one batch's buffer as a single write-set. Rows for
// a batch that has meanwhile left STARTED state are dropped; the
// rejection is already the authoritative outcome.
func (c *Consumer) flushBatch(ctx context.Context, batchID string) {
	points := c.buffers[batchID]
	delete(c.buffers, batchID)
	if len(points) == 0 {
		return
	}

	if err := c.svc.EnsureStarted(ctx, batchID); err != nil {
		c.logger.Error("start batch failed, dropping chunk",
			"batch", batchID, "rows", len(points), "error", err)
		return
	}
	if err := c.svc.Upload(ctx, batchID, points); err != nil {
		c.logger.Error("upload chunk failed",
			"batch", batchID, "rows", len(points), "error", err)
		return
	}
	c.logger.Debug("chunk applied", "batch", batchID, "rows", len(points))
}

package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pricing-engine/pricing"
	"github.com/warp/pricing-engine/pricing/store"
)

// scriptedReader replays a fixed sequence of read results, then cancels
// the consumer's context to end the run.
type scriptedReader struct {
	script []func() (kafka.Message, error)
	cancel context.CancelFunc
	closed bool
}

func (r *scriptedReader) ReadMessage(context.Context) (kafka.Message, error) {
	if len(r.script) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	step := r.script[0]
	r.script = r.script[1:]
	return step()
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func message(batchID, value string) func() (kafka.Message, error) {
	return func() (kafka.Message, error) {
		return kafka.Message{Key: []byte(batchID), Value: []byte(value)}, nil
	}
}

func timeout() (kafka.Message, error) {
	return kafka.Message{}, context.DeadlineExceeded
}

func newConsumerFixture(t *testing.T, script ...func() (kafka.Message, error)) (*Consumer, *store.TxMemory, context.Context, *scriptedReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := store.NewTxMemory()
	reader := &scriptedReader{script: script, cancel: cancel}
	c := &Consumer{
		cfg:     ConsumerConfig{ChunkSize: 100, FlushInterval: time.Second},
		reader:  reader,
		svc:     pricing.NewBatchService(mem, nil, nil),
		buffers: make(map[string][]pricing.PricePoint),
	}
	c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return c, mem, ctx, reader
}

// =============================================================================
// MESSAGE FLOW
// =============================================================================

func TestConsumer_BuffersAndFlushesOnShutdown(t *testing.T) {
	// GIVEN: Three valid messages across two batch keys
	// WHEN: The stream ends and the consumer shuts down
	// THEN: Each batch was started and holds its rows

	c, mem, ctx, reader := newConsumerFixture(t,
		message("batch-a", `{"instrument_id":"TSLA","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
		message("batch-a", `{"instrument_id":"MSFT","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
		message("batch-b", `{"instrument_id":"META","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
	)

	require.NoError(t, c.Run(ctx))
	assert.True(t, reader.closed)

	na, err := mem.CountPricesByBatch(context.Background(), "batch-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), na)

	nb, err := mem.CountPricesByBatch(context.Background(), "batch-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), nb)

	batch, err := mem.GetBatch(context.Background(), "batch-a")
	require.NoError(t, err)
	assert.Equal(t, pricing.BatchStarted, batch.Status)
}

func TestConsumer_FlushesOnChunkSize(t *testing.T) {
	// GIVEN: A chunk size of 2 and exactly 2 messages for one batch
	// WHEN: The second message arrives
	// THEN: The chunk is applied before shutdown

	c, mem, ctx, _ := newConsumerFixture(t,
		message("batch-a", `{"instrument_id":"TSLA","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
		message("batch-a", `{"instrument_id":"MSFT","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
	)
	c.cfg.ChunkSize = 2

	require.NoError(t, c.Run(ctx))

	n, err := mem.CountPricesByBatch(context.Background(), "batch-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, c.buffers)
}

func TestConsumer_QuietTopicDrainsBuffers(t *testing.T) {
	// GIVEN: One buffered message, then a read timeout (quiet topic)
	// WHEN: The timeout fires
	// THEN: The buffer is applied without waiting for shutdown

	c, mem, ctx, reader := newConsumerFixture(t,
		message("batch-a", `{"instrument_id":"TSLA","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
		timeout,
	)

	// Assert inside the script so we observe state before shutdown's
	// own flush could mask a missing timeout flush.
	reader.script = append(reader.script, func() (kafka.Message, error) {
		n, err := mem.CountPricesByBatch(context.Background(), "batch-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "timeout should have flushed the buffer")
		return kafka.Message{}, context.DeadlineExceeded
	})

	require.NoError(t, c.Run(ctx))
}

// =============================================================================
// BAD INPUT
// =============================================================================

func TestConsumer_DropsUnusableMessages(t *testing.T) {
	// GIVEN: Messages with no key, broken JSON, a bad timestamp and a
	//        missing instrument, plus one valid message
	// WHEN: The consumer runs
	// THEN: Only the valid row lands

	c, mem, ctx, _ := newConsumerFixture(t,
		message("", `{"instrument_id":"TSLA","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
		message("batch-a", `{broken`),
		message("batch-a", `{"instrument_id":"TSLA","as_of":"noon","payload_json":"{}"}`),
		message("batch-a", `{"instrument_id":"","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
		message("batch-a", `{"instrument_id":"TSLA","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
	)

	require.NoError(t, c.Run(ctx))

	n, err := mem.CountPricesByBatch(context.Background(), "batch-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumer_DropsRowsForTerminalBatch(t *testing.T) {
	// GIVEN: A batch completed before its buffered rows flush
	// WHEN: The flush runs
	// THEN: The rows are dropped, not written into the completed batch

	c, mem, ctx, _ := newConsumerFixture(t,
		message("batch-a", `{"instrument_id":"TSLA","as_of":"2026-03-01T12:00:00Z","payload_json":"{}"}`),
	)

	svc := pricing.NewBatchService(mem, nil, nil)
	require.NoError(t, svc.Start(context.Background(), "batch-a"))
	require.NoError(t, svc.Complete(context.Background(), "batch-a"))

	require.NoError(t, c.Run(ctx))

	n, err := mem.CountPricesByBatch(context.Background(), "batch-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

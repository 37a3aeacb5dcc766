/*
csv.go - CSV record transport for price uploads

PURPOSE:
  Parses the upload wire format and applies it to a batch in bounded
  chunks. One line per observation:

    instrumentId,asOfRFC3339,payloadJson

  The payload is everything after the second comma, carried verbatim
  (it may itself contain commas). Chunking is a transport policy: the
  engine's Upload accepts any finite list and applies it as one atomic
  write-set, so each chunk is all-or-nothing but a multi-chunk file is
  not.

SEE ALSO:
  - api/handlers.go: Multipart upload endpoint built on this
  - cmd/seed/main.go: Demo seeding built on this
*/
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/warp/pricing-engine/pricing"
)

// DefaultChunkSize is the number of rows applied per write-set when the
// caller doesn't choose one.
const DefaultChunkSize = 1000

// ParseLine parses one CSV line into a PricePoint.
func ParseLine(line string) (pricing.PricePoint, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return pricing.PricePoint{}, fmt.Errorf("invalid CSV line: %q", line)
	}

	instrument := strings.TrimSpace(parts[0])
	if instrument == "" {
		return pricing.PricePoint{}, fmt.Errorf("invalid CSV line: empty instrument id in %q", line)
	}

	asOf, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[1]))
	if err != nil {
		return pricing.PricePoint{}, fmt.Errorf("invalid asOf timestamp in %q: %w", line, err)
	}

	return pricing.PricePoint{
		InstrumentID: instrument,
		AsOf:         asOf,
		PayloadJSON:  strings.TrimSpace(parts[2]),
	}, nil
}

// ReadCSV streams lines from r and hands them to apply in chunks of at
// most chunkSize points. Blank lines are skipped. Returns the total
// number of rows applied. A parse error aborts the stream; chunks
// already applied stay applied (retry is a caller policy).
func ReadCSV(r io.Reader, chunkSize int, apply func([]pricing.PricePoint) error) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	total := 0
	buffer := make([]pricing.PricePoint, 0, chunkSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		point, err := ParseLine(line)
		if err != nil {
			return total, err
		}
		buffer = append(buffer, point)

		if len(buffer) == chunkSize {
			if err := apply(buffer); err != nil {
				return total, err
			}
			total += len(buffer)
			buffer = buffer[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read upload: %w", err)
	}

	if len(buffer) > 0 {
		if err := apply(buffer); err != nil {
			return total, err
		}
		total += len(buffer)
	}
	return total, nil
}

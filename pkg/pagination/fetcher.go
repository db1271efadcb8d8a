package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// FetchFunc fetches the data for one sub-range.
type FetchFunc func(ctx context.Context, r Range) ([]byte, error)

// FetchAll splits r into chunks of at most chunkDays days and calls
// fn once per chunk, strictly in chronological order. Chunks are
// fetched sequentially, never concurrently, to stay within upstream
// rate limits. The returned slice preserves chunk order.
//
// The first failing chunk aborts the whole fetch; no partial result
// is returned.
func FetchAll(ctx context.Context, r Range, chunkDays int, fn FetchFunc) ([][]byte, error) {
	chunks, err := Split(r, chunkDays)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "pagination").Logger()
	start := time.Now()
	logger.Debug().
		Str("range", r.String()).
		Int("chunks", len(chunks)).
		Int("chunk_days", chunkDays).
		Msg("Starting chunked fetch")

	results := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		data, err := fn(ctx, chunk)
		if err != nil {
			logger.Warn().
				Err(err).
				Int("chunk", i+1).
				Int("total", len(chunks)).
				Str("range", chunk.String()).
				Msg("Chunk fetch failed")
			return nil, fmt.Errorf("chunk %d/%d (%s): %w", i+1, len(chunks), chunk, err)
		}
		results = append(results, data)
	}

	logger.Info().
		Str("range", r.String()).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("Chunked fetch complete")

	return results, nil
}

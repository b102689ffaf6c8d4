package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/shared"
)

// FeaturesFunc fetches one chunk of ids in a single request.
type FeaturesFunc func(ctx context.Context, ids []string) ([]json.RawMessage, error)

// BatchResult counts what [BatchLookup.FetchChunks] did.
type BatchResult struct {
	Requests int // chunk requests issued
	Written  int
	Skipped  int
	Missing  int // null or id-less items in a response
}

// BatchLookup fetches features for a set of ids in bounded chunks and stores one artifact per item.
//
// A failed chunk request stops the lookup and is returned; chunks already stored stay on disk
// so a rerun only requests what is still missing.
type BatchLookup struct {
	Fetch     FeaturesFunc
	Store     *archive.Store
	ChunkSize int
	Force     bool
	Logger    *log.Logger
	Metrics   *Metrics
	Progress  chan<- ProgressUpdate
}

// Chunks splits ids into consecutive slices of at most size elements.
func Chunks(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// FetchChunks requests ids in lexical order, ceil(N/ChunkSize) requests in total.
func (b *BatchLookup) FetchChunks(ctx context.Context, ids IDSet) (BatchResult, error) {
	var res BatchResult
	if b.ChunkSize <= 0 || b.ChunkSize > shared.MaxChunkSize {
		return res, fmt.Errorf("%w: chunk size %d not in 1..%d", shared.ErrInvalidParameter, b.ChunkSize, shared.MaxChunkSize)
	}

	chunks := Chunks(ids.Sorted(), b.ChunkSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		b.logger().Debug("requesting chunk", "chunk", i+1, "of", len(chunks), "ids", len(chunk))
		sendProgress(b.Progress, lookupUpdate(LookupFeatures, i+1, len(chunks), fmt.Sprintf("chunk of %d ids", len(chunk))))

		items, err := b.Fetch(ctx, chunk)
		res.Requests++
		if b.Metrics != nil {
			b.Metrics.BatchRequestsTotal.Inc()
		}
		if err != nil {
			if b.Metrics != nil {
				b.Metrics.remoteError("audio_features")
			}
			return res, fmt.Errorf("features chunk %d/%d: %w", i+1, len(chunks), err)
		}

		for _, item := range items {
			id, ok := itemID(item)
			if !ok {
				res.Missing++
				continue
			}

			wr, err := b.Store.Write(archive.KindFeatures, id, item, b.Force)
			if err != nil {
				return res, err
			}
			if b.Metrics != nil {
				b.Metrics.artifact(archive.KindFeatures, wr)
			}
			if wr == archive.Written {
				res.Written++
			} else {
				res.Skipped++
			}
		}
	}
	return res, nil
}

func (b *BatchLookup) logger() *log.Logger {
	if b.Logger == nil {
		return log.Default()
	}
	return b.Logger
}

// itemID extracts the id of a features item; null items are ids the API did not know.
func itemID(item json.RawMessage) (string, bool) {
	if len(item) == 0 || bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
		return "", false
	}
	var wire struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &wire); err != nil || wire.ID == "" {
		return "", false
	}
	return wire.ID, true
}

package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docforge/docsync/asset"
)

// chunkCount returns how many fixed-size chunks a file of size bytes needs.
func chunkCount(size, chunkSize int64) int {
	return int((size + chunkSize - 1) / chunkSize)
}

// chunkUploader transfers one large asset via the resumable chunk protocol.
type chunkUploader struct {
	client           *Client
	chunkSize        int64
	concurrency      int64
	finalizeAttempts int
	finalizeDelay    time.Duration
	onBytes          func(n int64) // progress callback, may be nil
	log              zerolog.Logger
}

// upload splits the asset into chunks and sends them with bounded
// concurrency. Chunks finish out of index order, so any response may be the
// one that reports the server assembled the whole file; the first response
// carrying the completion flag is authoritative. If every chunk is sent and
// none did, the finalize endpoint is polled a bounded number of times with a
// fixed delay; running out of attempts fails this asset only.
func (u *chunkUploader) upload(ctx context.Context, rec asset.Record) error {
	total := chunkCount(rec.Size, u.chunkSize)
	identifier := uuid.NewString()

	var complete atomic.Bool
	sem := semaphore.NewWeighted(u.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < total; i++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			defer sem.Release(1)
			start := int64(i) * u.chunkSize
			end := start + u.chunkSize
			if end > rec.Size {
				end = rec.Size
			}
			result, err := u.client.UploadChunk(gctx, chunkRequest{
				Identifier:  identifier,
				ChunkNumber: i + 1,
				TotalChunks: total,
				Filename:    rec.Filename,
				Mime:        rec.Mime,
				ClientID:    rec.ID,
				Data:        rec.Blob[start:end],
			})
			if err != nil {
				return err
			}
			if result.Complete {
				complete.Store(true)
			}
			if u.onBytes != nil {
				u.onBytes(end - start)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if complete.Load() {
		return nil
	}

	// Every chunk was sent but the completion flag raced past us; ask the
	// server directly.
	finalize := finalizeRequest{
		Identifier:  identifier,
		TotalChunks: total,
		Filename:    rec.Filename,
		Mime:        rec.Mime,
		ClientID:    rec.ID,
	}
	for attempt := 0; attempt < u.finalizeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(u.finalizeDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		result, err := u.client.FinalizeChunks(ctx, finalize)
		if err != nil {
			u.log.Warn().Err(err).Str("asset", rec.ID).Int("attempt", attempt+1).Msg("finalize poll failed")
			continue
		}
		if result.Complete {
			return nil
		}
	}
	return &ChunkIncompleteError{AssetID: rec.ID, Attempts: u.finalizeAttempts}
}

package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/docforge/docsync/asset"
	"github.com/docforge/docsync/crdt"
	"github.com/docforge/docsync/document"
)

// Config bounds the upload pipeline.
type Config struct {
	ChunkSize            int64         // bytes per chunk of a large asset
	LargeFileThreshold   int64         // assets above this go through the chunked protocol
	MaxBatchFiles        int           // per small-asset batch
	MaxBatchBytes        int64         // per small-asset batch
	MaxConcurrentBatches int           // batches in flight at once
	MaxConcurrentChunks  int           // chunks in flight per large asset
	FinalizeAttempts     int           // finalize polls before giving up on an asset
	FinalizeDelay        time.Duration // fixed delay between finalize polls
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		ChunkSize:            1 << 20,
		LargeFileThreshold:   10 << 20,
		MaxBatchFiles:        15,
		MaxBatchBytes:        10 << 20,
		MaxConcurrentBatches: 3,
		MaxConcurrentChunks:  3,
		FinalizeAttempts:     5,
		FinalizeDelay:        2 * time.Second,
	}
}

// State is the coordinator's save state machine: Idle → Saving → Idle.
type State int

const (
	StateIdle State = iota
	StateSaving
)

// SaveResult summarizes one save: how many assets were confirmed uploaded
// and how many failed and stay pending for the next save.
type SaveResult struct {
	Uploaded int
	Failed   int
}

// Coordinator drives the three-step save pipeline: document state, pending
// assets, remote metadata. A save in progress rejects new saves instead of
// queuing them; nothing cancels a running save mid-flight.
type Coordinator struct {
	model  *document.Model
	assets *asset.Store
	client *Client
	cfg    Config

	notifier Notifier
	status   StatusSink
	progress func(percent int)

	mu         sync.Mutex
	state      State
	dirty      bool
	newProject bool

	unobserve func()
	log       zerolog.Logger
}

// NewCoordinator wires the save pipeline. notifier, status, and progress may
// be nil. The coordinator watches the model and marks itself dirty on every
// non-remote transaction.
func NewCoordinator(model *document.Model, assets *asset.Store, client *Client, cfg Config, notifier Notifier, status StatusSink, progress func(int), log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		model:    model,
		assets:   assets,
		client:   client,
		cfg:      cfg,
		notifier: notifier,
		status:   status,
		progress: progress,
		log:      log.With().Str("component", "persist").Logger(),
	}
	c.unobserve = model.Doc().ObserveTransactions(func(origin crdt.Origin) {
		if origin != crdt.OriginRemote {
			c.MarkDirty()
		}
	})
	return c
}

// Close detaches the coordinator from the model.
func (c *Coordinator) Close() {
	if c.unobserve != nil {
		c.unobserve()
	}
}

// MarkDirty flags unsaved work.
func (c *Coordinator) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports whether there is unsaved work.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// SetNewProject flags a project that has never been saved; the flag clears
// on the first successful save.
func (c *Coordinator) SetNewProject(v bool) {
	c.mu.Lock()
	c.newProject = v
	c.mu.Unlock()
}

// NewProject reports whether the project has never been saved.
func (c *Coordinator) NewProject() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newProject
}

// Save runs the pipeline. Step 1 (document state) failure aborts the save.
// Step 2 (assets) failures are counted but do not abort step 3. Step 3
// (metadata) failure is logged and swallowed; the document and assets are
// already safe. On full success the document is marked clean; any failure
// leaves it dirty so the next save retries unresolved work.
func (c *Coordinator) Save(ctx context.Context) (*SaveResult, error) {
	c.mu.Lock()
	if c.state == StateSaving {
		c.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	c.state = StateSaving
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
	}()

	c.setStatus(StatusSaving)
	prog := newProgressTracker(c.progress)
	prog.set(0)

	// Step 1: serialize and send the document state.
	update, err := c.model.EncodeState()
	if err == nil {
		err = c.client.SaveDocument(ctx, update)
	}
	if err != nil {
		c.failSave(fmt.Sprintf("Saving failed: %v", err))
		return nil, err
	}
	prog.set(progressAfterDocument)

	// Step 2: upload pending assets.
	result := c.uploadPendingAssets(ctx, prog)
	prog.set(progressAfterAssets)

	// Step 3: update remote metadata. Never fails the save.
	title, _ := c.model.Metadata().Get(document.MetaTitle)
	if err := c.client.UpdateMetadata(ctx, title); err != nil {
		c.log.Warn().Err(err).Msg("metadata update failed")
	}
	prog.set(100)

	if result.Failed > 0 {
		c.failSave(fmt.Sprintf("Saved document, but %d of %d assets failed to upload", result.Failed, result.Failed+result.Uploaded))
		return &result, nil
	}

	c.mu.Lock()
	c.dirty = false
	c.newProject = false
	c.mu.Unlock()
	c.setStatus(StatusSaved)
	c.notify(Notification{Level: LevelSuccess, Message: "Project saved", Sticky: false})
	return &result, nil
}

// uploadPendingAssets re-enumerates pending assets fresh (retries pick up
// exactly the leftovers), splits them into large and small, and uploads
// both groups. Progress within the step is proportional to byte volume.
func (c *Coordinator) uploadPendingAssets(ctx context.Context, prog *progressTracker) SaveResult {
	pending := c.assets.PendingAssets()
	if len(pending) == 0 {
		return SaveResult{}
	}

	large, small := partitionBySize(pending, c.cfg.LargeFileThreshold)
	total := totalBytes(large) + totalBytes(small)
	step := newStepProgress(prog, progressAfterDocument, progressAfterAssets, total)

	var result SaveResult

	// Large assets go one at a time; each one's chunks use bounded
	// concurrency internally. A failed asset does not touch its siblings.
	uploader := &chunkUploader{
		client:           c.client,
		chunkSize:        c.cfg.ChunkSize,
		concurrency:      int64(c.cfg.MaxConcurrentChunks),
		finalizeAttempts: c.cfg.FinalizeAttempts,
		finalizeDelay:    c.cfg.FinalizeDelay,
		onBytes:          step.add,
		log:              c.log,
	}
	for _, rec := range large {
		if err := uploader.upload(ctx, rec); err != nil {
			c.log.Error().Err(err).Str("asset", rec.ID).Msg("chunked upload failed")
			result.Failed++
			continue
		}
		c.assets.MarkUploaded(rec.ID)
		result.Uploaded++
	}

	// Small assets: closed batches under both limits, a bounded number in
	// flight, each batch failing independently of its siblings.
	batches := buildBatches(small, c.cfg.MaxBatchFiles, c.cfg.MaxBatchBytes)
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.cfg.MaxConcurrentBatches)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			err := c.client.SyncAssets(ctx, batch)
			step.add(totalBytes(batch))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Error().Err(err).Int("assets", len(batch)).Msg("batch upload failed")
				result.Failed += len(batch)
				return nil // siblings continue; assets stay pending
			}
			for _, rec := range batch {
				c.assets.MarkUploaded(rec.ID)
			}
			result.Uploaded += len(batch)
			return nil
		})
	}
	g.Wait()

	return result
}

func (c *Coordinator) failSave(msg string) {
	// Document stays dirty: the next save retries the unresolved work.
	c.setStatus(StatusError)
	c.notify(Notification{Level: LevelError, Message: msg, Sticky: true})
}

func (c *Coordinator) setStatus(s Status) {
	if c.status != nil {
		c.status.SetSaveStatus(s)
	}
}

func (c *Coordinator) notify(n Notification) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}

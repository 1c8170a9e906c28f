package persist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docsync/asset"
	"github.com/docforge/docsync/crdt"
	"github.com/docforge/docsync/document"
)

// fakeBackend is the remote store: it records what arrived and can be told
// to fail individual endpoints.
type fakeBackend struct {
	mu            sync.Mutex
	docSaves      int
	lastDoc       []byte
	syncedAssets  []string // client ids confirmed via batch sync
	metadataCalls int
	lastTitle     string

	failDoc  bool
	failSync bool
	failMeta bool
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/yjs-document"):
			if f.failDoc {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			buf, _ := io.ReadAll(r.Body)
			f.docSaves++
			f.lastDoc = buf
		case strings.HasSuffix(r.URL.Path, "/assets/sync"):
			if f.failSync {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			if err := r.ParseMultipartForm(64 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var metas []assetMeta
			if err := json.Unmarshal([]byte(r.FormValue("metadata")), &metas); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			for _, m := range metas {
				f.syncedAssets = append(f.syncedAssets, m.ClientID)
			}
		case strings.HasSuffix(r.URL.Path, "/metadata"):
			if f.failMeta {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			f.metadataCalls++
			f.lastTitle = body["title"]
		default:
			http.NotFound(w, r)
		}
	})
}

// backendState is a race-free copy of what the backend has seen.
type backendState struct {
	docSaves      int
	lastDoc       []byte
	syncedAssets  []string
	metadataCalls int
	lastTitle     string
}

func (f *fakeBackend) snapshot() backendState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return backendState{
		docSaves:      f.docSaves,
		lastDoc:       f.lastDoc,
		syncedAssets:  append([]string(nil), f.syncedAssets...),
		metadataCalls: f.metadataCalls,
		lastTitle:     f.lastTitle,
	}
}

func (f *fakeBackend) setFail(doc, sync, meta bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDoc, f.failSync, f.failMeta = doc, sync, meta
}

// recorder captures notifications, statuses, and progress.
type recorder struct {
	mu            sync.Mutex
	notifications []Notification
	statuses      []Status
	percents      []int
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) SetSaveStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) progress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
}

func newSaveFixture(t *testing.T) (*document.Model, *asset.Store, *fakeBackend, *recorder, *Coordinator) {
	t.Helper()
	log := zerolog.Nop()
	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	t.Cleanup(server.Close)

	model := document.NewModel(crdt.NewDoc("actor-1"), log)
	assets := asset.NewStore(log)
	client := NewClient(server.URL, "proj-1", "tok", nil)

	cfg := DefaultConfig()
	cfg.FinalizeDelay = time.Millisecond
	cfg.LargeFileThreshold = 64 * 1024
	cfg.ChunkSize = 16 * 1024

	rec := &recorder{}
	c := NewCoordinator(model, assets, client, cfg, rec, rec, rec.progress, log)
	t.Cleanup(c.Close)
	return model, assets, backend, rec, c
}

func seedProject(t *testing.T, model *document.Model) {
	t.Helper()
	err := model.Doc().Transact(crdt.OriginImport, func(tx *crdt.Tx) error {
		model.Metadata().Set(tx, document.MetaTitle, "My Project")
		return nil
	})
	require.NoError(t, err)
}

func TestCoordinator_DirtyTracksNonRemoteTransactions(t *testing.T) {
	model, _, _, _, c := newSaveFixture(t)

	assert.False(t, c.Dirty())
	seedProject(t, model)
	assert.True(t, c.Dirty(), "import transaction marks dirty")

	// Drain, then check a remote merge does not re-mark.
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	model.Doc().Transact(crdt.OriginRemote, func(tx *crdt.Tx) error {
		model.Metadata().Set(tx, document.MetaAuthor, "peer")
		return nil
	})
	assert.False(t, c.Dirty(), "remote transaction must not mark dirty")
}

func TestCoordinator_FullSave(t *testing.T) {
	model, assets, backend, rec, c := newSaveFixture(t)
	seedProject(t, model)
	id, err := assets.InsertImage("logo.png", "image/png", []byte{1, 2, 3})
	require.NoError(t, err)

	result, err := c.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SaveResult{Uploaded: 1, Failed: 0}, result)

	snap := backend.snapshot()
	assert.Equal(t, 1, snap.docSaves)
	assert.NotEmpty(t, snap.lastDoc)
	assert.Equal(t, []string{id}, snap.syncedAssets)
	assert.Equal(t, 1, snap.metadataCalls)
	assert.Equal(t, "My Project", snap.lastTitle)

	// The saved update is a loadable document state.
	other := document.NewModel(crdt.NewDoc("actor-2"), zerolog.Nop())
	require.NoError(t, other.ApplyState(snap.lastDoc))
	title, _ := other.Metadata().Get(document.MetaTitle)
	assert.Equal(t, "My Project", title)

	assert.False(t, c.Dirty())
	assert.Empty(t, assets.PendingAssets())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []Status{StatusSaving, StatusSaved}, rec.statuses)
	require.NotEmpty(t, rec.notifications)
	last := rec.notifications[len(rec.notifications)-1]
	assert.Equal(t, LevelSuccess, last.Level)
	assert.False(t, last.Sticky)

	require.NotEmpty(t, rec.percents)
	for i := 1; i < len(rec.percents); i++ {
		assert.GreaterOrEqual(t, rec.percents[i], rec.percents[i-1], "progress went backwards")
	}
	assert.Equal(t, 100, rec.percents[len(rec.percents)-1])
}

func TestCoordinator_LargeAssetGoesThroughChunks(t *testing.T) {
	model, assets, _, _, c := newSaveFixture(t)
	seedProject(t, model)

	// Above the fixture's 64 KiB threshold; the fakeBackend has no chunk
	// endpoint, so the chunked path must fail while the save proceeds.
	blob := make([]byte, 100*1024)
	id, err := assets.InsertImage("movie.bin", "application/octet-stream", blob)
	require.NoError(t, err)

	result, err := c.Save(context.Background())
	require.NoError(t, err, "asset failure does not abort the save")
	assert.Equal(t, 1, result.Failed)
	assert.True(t, c.Dirty(), "failed upload keeps the document dirty")

	pending := assets.PendingAssets()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestCoordinator_RejectsConcurrentSave(t *testing.T) {
	_, _, _, _, c := newSaveFixture(t)

	c.mu.Lock()
	c.state = StateSaving
	c.mu.Unlock()

	_, err := c.Save(context.Background())
	assert.ErrorIs(t, err, ErrSaveInProgress)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func TestCoordinator_DocumentFailureAbortsSave(t *testing.T) {
	model, assets, backend, rec, c := newSaveFixture(t)
	seedProject(t, model)
	assets.InsertImage("logo.png", "image/png", []byte{1})
	backend.setFail(true, false, false)

	_, err := c.Save(context.Background())
	require.Error(t, err)

	snap := backend.snapshot()
	assert.Empty(t, snap.syncedAssets, "assets must not upload after step 1 fails")
	assert.Zero(t, snap.metadataCalls)
	assert.True(t, c.Dirty())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []Status{StatusSaving, StatusError}, rec.statuses)
	require.NotEmpty(t, rec.notifications)
	assert.Equal(t, LevelError, rec.notifications[0].Level)
	assert.True(t, rec.notifications[0].Sticky)
}

func TestCoordinator_AssetFailureRetriesOnlyPending(t *testing.T) {
	model, assets, backend, rec, c := newSaveFixture(t)
	seedProject(t, model)
	id1, _ := assets.InsertImage("one.png", "image/png", []byte{1})
	id2, _ := assets.InsertImage("two.png", "image/png", []byte{2})

	backend.setFail(false, true, false)
	result, err := c.Save(context.Background())
	require.NoError(t, err, "partial failure is reported in the result, not the error")
	assert.Equal(t, 2, result.Failed)
	assert.True(t, c.Dirty())

	rec.mu.Lock()
	var sticky []Notification
	for _, n := range rec.notifications {
		if n.Sticky {
			sticky = append(sticky, n)
		}
	}
	rec.mu.Unlock()
	require.NotEmpty(t, sticky)
	assert.Equal(t, LevelError, sticky[0].Level)
	assert.Contains(t, sticky[0].Message, "2 of 2")

	// The backend recovers; the retry uploads exactly the leftovers.
	backend.setFail(false, false, false)
	result, err = c.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SaveResult{Uploaded: 2, Failed: 0}, result)
	assert.False(t, c.Dirty())

	snap := backend.snapshot()
	assert.ElementsMatch(t, []string{id1, id2}, snap.syncedAssets)

	// A further save finds nothing pending and re-uploads nothing.
	c.MarkDirty()
	result, err = c.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SaveResult{}, result)
	assert.Len(t, backend.snapshot().syncedAssets, 2)
}

func TestCoordinator_MetadataFailureIsSwallowed(t *testing.T) {
	model, _, backend, rec, c := newSaveFixture(t)
	seedProject(t, model)
	backend.setFail(false, false, true)

	result, err := c.Save(context.Background())
	require.NoError(t, err, "metadata failure never fails the save")
	assert.Equal(t, &SaveResult{}, result)
	assert.False(t, c.Dirty())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []Status{StatusSaving, StatusSaved}, rec.statuses)
}

func TestCoordinator_NewProjectFlagClearsOnFirstSave(t *testing.T) {
	model, _, _, _, c := newSaveFixture(t)
	seedProject(t, model)

	c.SetNewProject(true)
	assert.True(t, c.NewProject())

	_, err := c.Save(context.Background())
	require.NoError(t, err)
	assert.False(t, c.NewProject())
}

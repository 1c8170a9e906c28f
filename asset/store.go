// Package asset implements the content-addressable local cache of binary
// assets: deduplicated storage keyed by content hash, pending-upload
// tracking for the save pipeline, and the bijective mapping between asset
// ids and the ephemeral URLs handed to rendering surfaces.
package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is one stored asset. Blob is the raw bytes; ContentHash is the
// dedup key (at most one Record per hash).
type Record struct {
	ID          string
	Filename    string
	Mime        string
	Size        int64
	ContentHash string
	Blob        []byte
	CreatedAt   time.Time
	Uploaded    bool
}

// Store is the process-lifetime asset cache. Only the store mutates the
// blob-URL maps; deletion is the only path that reclaims an entry.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*Record
	byHash map[string]string // contentHash -> asset id

	blobURL     map[string]string // asset id -> ephemeral URL
	reverseBlob map[string]string // ephemeral URL -> asset id

	log zerolog.Logger
}

// NewStore creates an empty asset store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		byID:        make(map[string]*Record),
		byHash:      make(map[string]string),
		blobURL:     make(map[string]string),
		reverseBlob: make(map[string]string),
		log:         log.With().Str("component", "asset").Logger(),
	}
}

// InsertImage stores a binary asset and returns its id. Inserting bytes that
// hash to an existing record returns the existing id without storing a
// duplicate blob. New records start pending-upload.
func (s *Store) InsertImage(filename, mime string, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("insert %q: empty blob", filename)
	}
	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		return id, nil
	}

	id := uuid.NewString()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.byID[id] = &Record{
		ID:          id,
		Filename:    filename,
		Mime:        mime,
		Size:        int64(len(blob)),
		ContentHash: hash,
		Blob:        stored,
		CreatedAt:   time.Now(),
	}
	s.byHash[hash] = id
	s.log.Debug().Str("asset", id).Str("filename", filename).Int("size", len(blob)).Msg("stored asset")
	return id, nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ResolveAssetURL translates a persistent asset:// reference into an
// ephemeral URL for rendering. It never fails: an unknown or malformed
// reference yields ""; the caller leaves the consuming element's source
// unset instead of assigning an invalid URL.
func (s *Store) ResolveAssetURL(persistentURL string) string {
	id, _, ok := ParseAssetURL(persistentURL)
	if !ok {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ""
	}
	if url, ok := s.blobURL[id]; ok {
		return url
	}
	url := ephemeralScheme + uuid.NewString()
	s.blobURL[id] = url
	s.reverseBlob[url] = id
	return url
}

// LookupByEphemeralURL returns the asset id an ephemeral URL already
// denotes. Paste/drop handlers use this to avoid re-inserting (and
// re-uploading) an asset that already went through the store.
func (s *Store) LookupByEphemeralURL(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.reverseBlob[url]
	return id, ok
}

// PendingAssets returns the records not yet confirmed uploaded, oldest
// first. The save pipeline re-enumerates this fresh on every save, so work
// that failed last time is naturally retried.
func (s *Store) PendingAssets() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.byID {
		if !rec.Uploaded {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkUploaded records a confirmed upload. Only called on confirmed
// success, which is what makes save retries idempotent.
func (s *Store) MarkUploaded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	rec.Uploaded = true
	return true
}

// AllAssets returns every record, for bulk export.
func (s *Store) AllAssets() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteAsset removes an asset, revokes its ephemeral URL, and drops both
// sides of the blob cache.
func (s *Store) DeleteAsset(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.byHash, rec.ContentHash)
	if url, ok := s.blobURL[id]; ok {
		delete(s.blobURL, id)
		delete(s.reverseBlob, url)
	}
	s.log.Debug().Str("asset", id).Msg("deleted asset")
	return true
}

// Package persist reconciles local state with the remote store: it
// serializes the replicated document, uploads pending assets in batches or
// chunks under bounded concurrency, and patches remote metadata, reporting
// progress and partial failure along the way.
package persist

import (
	"errors"
	"fmt"
)

// ErrSaveInProgress rejects a reentrant Save call. Saves are not queued; the
// caller simply tries again later.
var ErrSaveInProgress = errors.New("save in progress")

// TransportError is a non-2xx response from the remote store.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// ChunkIncompleteError means every chunk of an asset was sent but the server
// never confirmed assembly within the finalize budget. Fatal for that one
// asset only.
type ChunkIncompleteError struct {
	AssetID  string
	Attempts int
}

func (e *ChunkIncompleteError) Error() string {
	return fmt.Sprintf("asset %s: all chunks sent, no completion after %d finalize attempts", e.AssetID, e.Attempts)
}

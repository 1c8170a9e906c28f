package asset

import (
	"fmt"
	"strings"
)

// Persistent asset references use the asset://<id>[/filename] scheme. They
// are what gets written into stored content; ephemeral blob: URLs are minted
// per process and must never be persisted.

const (
	persistentScheme = "asset://"
	ephemeralScheme  = "blob:"
)

// FormatAssetURL builds the persistent reference for an asset.
func FormatAssetURL(id, filename string) string {
	if filename == "" {
		return persistentScheme + id
	}
	return fmt.Sprintf("%s%s/%s", persistentScheme, id, filename)
}

// ParseAssetURL splits a persistent reference into asset id and optional
// filename. ok is false for anything that is not an asset:// reference.
func ParseAssetURL(url string) (id, filename string, ok bool) {
	if !strings.HasPrefix(url, persistentScheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, persistentScheme)
	if rest == "" {
		return "", "", false
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		if i == 0 {
			return "", "", false
		}
		return rest[:i], rest[i+1:], true
	}
	return rest, "", true
}

// IsEphemeralURL reports whether url is a process-local blob reference.
func IsEphemeralURL(url string) bool {
	return strings.HasPrefix(url, ephemeralScheme)
}

// PersistentSource picks the value to write into persisted content: the
// previously stored asset:// reference when one exists, never the ephemeral
// URL currently assigned for rendering.
func PersistentSource(stored, current string) string {
	if strings.HasPrefix(stored, persistentScheme) {
		return stored
	}
	if IsEphemeralURL(current) {
		return stored
	}
	return current
}

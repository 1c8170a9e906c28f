package editor

import "unicode/utf8"

// Surface is one rich-text editor attached to the engine. The engine never
// touches a DOM; the surface adapter owns rendering and reports user input
// through the registered callbacks. Offsets are plain-text rune offsets
// across the surface's text segments.
type Surface interface {
	// Content returns the surface's current content.
	Content() string
	// SetContent replaces the surface's content.
	SetContent(content string)

	// Caret returns the caret as a plain-text offset.
	Caret() int
	// SetCaret moves the caret; out-of-range offsets are clamped by the
	// surface.
	SetCaret(offset int)

	// Segments returns the text runs under the editor body, in document
	// order. Presence offsets map onto them.
	Segments() []string

	// OnChange registers the content-change callback (nil unregisters).
	OnChange(fn func())
	// OnSelect registers the selection-change callback (nil unregisters).
	OnSelect(fn func(anchor, head int))

	// SetMarker renders (or moves) a remote user's cursor marker.
	SetMarker(userID string, m Marker)
	// RemoveMarker removes a remote user's cursor marker if present.
	RemoveMarker(userID string)
}

// Marker is a positioned remote-cursor indicator.
type Marker struct {
	Segment  int
	Offset   int // rune offset within the segment
	UserName string
	Color    string
}

// offsetToPosition maps a plain-text offset to (segment, in-segment offset)
// by walking the segments and summing their lengths, the same walk the
// broadcasting side used to produce the offset. ok is false when the offset
// exceeds the available text; the caller draws no marker.
func offsetToPosition(segments []string, offset int) (seg, runeOff int, ok bool) {
	if offset < 0 {
		return 0, 0, false
	}
	remaining := offset
	for i, s := range segments {
		n := utf8.RuneCountInString(s)
		if remaining <= n {
			return i, remaining, true
		}
		remaining -= n
	}
	return 0, 0, false
}

// positionToOffset is the reverse mapping: sum the lengths of the segments
// before seg, plus the in-segment offset.
func positionToOffset(segments []string, seg, runeOff int) int {
	total := 0
	for i := 0; i < seg && i < len(segments); i++ {
		total += utf8.RuneCountInString(segments[i])
	}
	return total + runeOff
}

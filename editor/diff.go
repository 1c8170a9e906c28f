package editor

// Edit is the minimal change turning one string into another: delete Deleted
// runes at Start, then insert Insert at Start.
type Edit struct {
	Start   int
	Deleted int
	Insert  string
}

// IsNoop reports whether the edit changes nothing.
func (e Edit) IsNoop() bool { return e.Deleted == 0 && e.Insert == "" }

// Diff computes the minimal edit between two strings: longest common prefix,
// then longest common suffix searched only in the region strictly after the
// prefix. The middle span of oldText is deleted and the middle span of
// newText inserted. One delete plus one insert per keystroke is what keeps
// concurrent edits from other replicas mergeable; a full-content replace
// would destroy them.
func Diff(oldText, newText string) Edit {
	if oldText == newText {
		return Edit{}
	}
	a := []rune(oldText)
	b := []rune(newText)

	prefix := 0
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for prefix < max && a[prefix] == b[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < max-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	return Edit{
		Start:   prefix,
		Deleted: len(a) - prefix - suffix,
		Insert:  string(b[prefix : len(b)-suffix]),
	}
}

// Apply replays an edit against a string. Used by tests to check the
// delete+insert pair reproduces the new text exactly.
func (e Edit) Apply(oldText string) string {
	a := []rune(oldText)
	out := make([]rune, 0, len(a)-e.Deleted+len([]rune(e.Insert)))
	out = append(out, a[:e.Start]...)
	out = append(out, []rune(e.Insert)...)
	out = append(out, a[e.Start+e.Deleted:]...)
	return string(out)
}

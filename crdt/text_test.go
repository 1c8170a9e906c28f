package crdt

import "testing"

func TestText_LocalEdits(t *testing.T) {
	d := NewDoc("actor-1")
	text := d.Text("html:c1")

	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Insert(tx, 0, "hello")
	})
	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Insert(tx, 5, " world")
	})
	if got := text.String(); got != "hello world" {
		t.Errorf("String() = %q", got)
	}

	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Delete(tx, 0, 6)
	})
	if got := text.String(); got != "world" {
		t.Errorf("String() = %q", got)
	}

	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Replace(tx, 0, 5, "héllo")
	})
	if got := text.String(); got != "héllo" {
		t.Errorf("String() = %q", got)
	}
	if got := text.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5 (runes, not bytes)", got)
	}
	if got := text.Version(); got != 4 {
		t.Errorf("Version() = %d, want 4", got)
	}
}

func TestText_SetString(t *testing.T) {
	d := NewDoc("actor-1")
	text := d.Text("html:c1")

	d.Transact(OriginImport, func(tx *Tx) error {
		return text.SetString(tx, "<p>imported</p>")
	})
	if got := text.String(); got != "<p>imported</p>" {
		t.Errorf("String() = %q", got)
	}

	d.Transact(OriginUser, func(tx *Tx) error {
		return text.SetString(tx, "<p>edited</p>")
	})
	if got := text.String(); got != "<p>edited</p>" {
		t.Errorf("String() = %q", got)
	}
}

func TestText_ApplyRemoteTransformsOverUnseenHistory(t *testing.T) {
	d := NewDoc("actor-1")
	text := d.Text("html:c1")

	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Insert(tx, 0, "hello")
	})
	base := text.Version() // remote replica saw "hello"

	// Local edit the remote has not seen.
	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Insert(tx, 5, " world")
	})

	// Remote op made against "hello": prepend "say ".
	remote := NewInsert(0, "say ", 5)
	err := d.Transact(OriginRemote, func(tx *Tx) error {
		return text.ApplyRemote(tx, remote, base)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := text.String(); got != "say hello world" {
		t.Errorf("String() = %q, want %q", got, "say hello world")
	}
}

func TestText_ApplyRemoteRejectsBadVersion(t *testing.T) {
	d := NewDoc("actor-1")
	text := d.Text("html:c1")

	err := d.Transact(OriginRemote, func(tx *Tx) error {
		return text.ApplyRemote(tx, NewInsert(0, "x", 0), 5)
	})
	if err == nil {
		t.Error("expected error for base version beyond history")
	}
}

func TestText_EventCarriesOps(t *testing.T) {
	d := NewDoc("actor-1")
	text := d.Text("html:c1")

	var events []TextEvent
	text.Observe(func(ev TextEvent) { events = append(events, ev) })

	d.Transact(OriginUser, func(tx *Tx) error {
		if err := text.Insert(tx, 0, "ab"); err != nil {
			return err
		}
		return text.Insert(tx, 2, "cd")
	})

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Origin != OriginUser {
		t.Errorf("origin = %q", events[0].Origin)
	}
	if len(events[0].Ops) != 2 {
		t.Errorf("ops = %d, want 2", len(events[0].Ops))
	}
}

func TestText_NoopEditProducesNoEvent(t *testing.T) {
	d := NewDoc("actor-1")
	text := d.Text("html:c1")

	fired := false
	text.Observe(func(TextEvent) { fired = true })

	d.Transact(OriginUser, func(tx *Tx) error {
		return text.Replace(tx, 0, 0, "")
	})
	if fired {
		t.Error("noop edit fired an event")
	}
}

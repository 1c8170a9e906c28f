package crdt

import (
	"reflect"
	"testing"
)

func TestMap_SetGetDelete(t *testing.T) {
	d := NewDoc("actor-1")
	m := d.Map("meta")

	if _, ok := m.Get("title"); ok {
		t.Error("Get on empty map reported presence")
	}

	d.Transact(OriginUser, func(tx *Tx) error {
		m.Set(tx, "title", "My Project")
		return nil
	})
	if v, ok := m.Get("title"); !ok || v != "My Project" {
		t.Errorf("Get = %q, %v", v, ok)
	}

	d.Transact(OriginUser, func(tx *Tx) error {
		m.Delete(tx, "title")
		return nil
	})
	if _, ok := m.Get("title"); ok {
		t.Error("Get after Delete reported presence")
	}

	// A later Set resurrects the key.
	d.Transact(OriginUser, func(tx *Tx) error {
		m.Set(tx, "title", "Again")
		return nil
	})
	if v, ok := m.Get("title"); !ok || v != "Again" {
		t.Errorf("Get after resurrect = %q, %v", v, ok)
	}
}

func TestMap_KeysSorted(t *testing.T) {
	d := NewDoc("actor-1")
	m := d.Map("meta")

	d.Transact(OriginUser, func(tx *Tx) error {
		m.Set(tx, "zebra", "1")
		m.Set(tx, "apple", "2")
		m.Set(tx, "mango", "3")
		m.Delete(tx, "mango")
		return nil
	})

	want := []string{"apple", "zebra"}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestStamp_Newer(t *testing.T) {
	tests := []struct {
		name     string
		s, other Stamp
		want     bool
	}{
		{"higher clock wins", Stamp{Clock: 2, Actor: "a"}, Stamp{Clock: 1, Actor: "z"}, true},
		{"lower clock loses", Stamp{Clock: 1, Actor: "z"}, Stamp{Clock: 2, Actor: "a"}, false},
		{"equal clock, higher actor wins", Stamp{Clock: 1, Actor: "b"}, Stamp{Clock: 1, Actor: "a"}, true},
		{"equal clock, lower actor loses", Stamp{Clock: 1, Actor: "a"}, Stamp{Clock: 1, Actor: "b"}, false},
		{"identical is not newer", Stamp{Clock: 1, Actor: "a"}, Stamp{Clock: 1, Actor: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Newer(tt.other); got != tt.want {
				t.Errorf("Newer() = %v, want %v", got, tt.want)
			}
		})
	}
}

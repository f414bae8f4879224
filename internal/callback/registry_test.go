package callback

import (
	"sync"
	"testing"
)

type key struct {
	category string
	channel  int
}

func TestRegistry_SingleMode(t *testing.T) {
	r := NewRegistry[key, string]()
	k := key{"raw_video", 0}

	id, _, replaced := r.Add(k, "first", false)
	if id != SingleID {
		t.Errorf("id = %d, want %d", id, SingleID)
	}
	if replaced {
		t.Error("first Add should not replace anything")
	}

	id, prev, replaced := r.Add(k, "second", false)
	if id != SingleID {
		t.Errorf("id = %d, want %d", id, SingleID)
	}
	if !replaced || prev != "first" {
		t.Errorf("replaced = %v, prev = %q; want true, %q", replaced, prev, "first")
	}

	if r.Len(k) != 1 {
		t.Errorf("Len() = %d, want 1", r.Len(k))
	}
	if got := r.Snapshot(k); len(got) != 1 || got[0] != "second" {
		t.Errorf("Snapshot() = %v, want [second]", got)
	}
}

func TestRegistry_MultiModeMonotonicIDs(t *testing.T) {
	r := NewRegistry[key, string]()
	k := key{"status", 0}

	id1, _, _ := r.Add(k, "a", true)
	id2, _, _ := r.Add(k, "b", true)
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", id1, id2)
	}

	if _, ok := r.Remove(k, id2); !ok {
		t.Fatal("Remove(id2) returned false")
	}

	// Removed ids are not reused.
	id3, _, _ := r.Add(k, "c", true)
	if id3 != 3 {
		t.Errorf("id after remove = %d, want 3", id3)
	}

	got := r.Snapshot(k)
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_ScopesAreIndependent(t *testing.T) {
	r := NewRegistry[key, string]()

	a, _, _ := r.Add(key{"raw_video", 0}, "v0", true)
	b, _, _ := r.Add(key{"raw_video", 1}, "v1", true)
	c, _, _ := r.Add(key{"raw_audio", 0}, "a0", true)

	if a != 1 || b != 1 || c != 1 {
		t.Errorf("ids = %d, %d, %d; want 1, 1, 1", a, b, c)
	}
	if len(r.Keys()) != 3 {
		t.Errorf("Keys() has %d entries, want 3", len(r.Keys()))
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := NewRegistry[key, string]()

	if _, ok := r.Remove(key{"raw_video", 0}, 5); ok {
		t.Error("Remove on empty registry should return false")
	}

	r.Add(key{"raw_video", 0}, "x", true)
	if _, ok := r.Remove(key{"raw_video", 0}, 5); ok {
		t.Error("Remove of unknown id should return false")
	}
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := NewRegistry[key, int]()
	k := key{"decode_image", 0}

	for i := 0; i < 3; i++ {
		r.Add(k, i, true)
	}

	removed := r.RemoveAll(k)
	if len(removed) != 3 {
		t.Errorf("RemoveAll() returned %d handlers, want 3", len(removed))
	}
	if r.Len(k) != 0 {
		t.Errorf("Len() = %d, want 0", r.Len(k))
	}
	if len(r.Keys()) != 0 {
		t.Errorf("Keys() = %v, want empty", r.Keys())
	}
}

func TestRegistry_UnregisterDuringDispatch(t *testing.T) {
	r := NewRegistry[key, func()]()
	k := key{"raw_video", 0}

	calls := 0
	var ids []int
	for i := 0; i < 3; i++ {
		id, _, _ := r.Add(k, func() {
			calls++
			// Each handler removes every subscriber while the snapshot is iterated.
			for _, id := range ids {
				r.Remove(k, id)
			}
		}, true)
		ids = append(ids, id)
	}

	for _, h := range r.Snapshot(k) {
		h()
	}

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if r.Len(k) != 0 {
		t.Errorf("Len() = %d, want 0", r.Len(k))
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry[key, int]()
	k := key{"raw_audio", 0}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, _ := r.Add(k, i, true)
			_ = r.Snapshot(k)
			r.Remove(k, id)
		}(i)
	}
	wg.Wait()

	if r.Len(k) != 0 {
		t.Errorf("Len() = %d, want 0", r.Len(k))
	}
	if ids := r.IDs(k); len(ids) != 0 {
		t.Errorf("IDs() = %v, want empty", ids)
	}
}

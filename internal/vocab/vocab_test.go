package vocab

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddToken_Idempotent(t *testing.T) {
	v := New()
	a := v.AddToken("hello")
	b := v.AddToken("world")
	if a == b {
		t.Fatalf("distinct tokens share id %d", a)
	}
	if got := v.AddToken("hello"); got != a {
		t.Errorf("repeat AddToken returned %d, want %d", got, a)
	}
	if id, ok := v.GetID("hello"); !ok || id != a {
		t.Errorf("GetID(hello) = (%d,%v), want (%d,true)", id, ok, a)
	}
}

func TestIDs_DenseAndMonotonic(t *testing.T) {
	v := New()
	tokens := []string{"alpha", "beta", "gamma", "delta"}
	for i, tok := range tokens {
		if id := v.AddToken(tok); id != uint32(i) {
			t.Errorf("AddToken(%q) = %d, want %d", tok, id, i)
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vocab.json")

	v := New()
	helloID := v.AddToken("hello")
	worldID := v.AddToken("world")
	if err := v.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, ok := loaded.GetID("hello"); !ok || id != helloID {
		t.Errorf("loaded GetID(hello) = (%d,%v), want (%d,true)", id, ok, helloID)
	}
	if id, ok := loaded.GetID("world"); !ok || id != worldID {
		t.Errorf("loaded GetID(world) = (%d,%v), want (%d,true)", id, ok, worldID)
	}

	// New tokens after load continue the id sequence, never reusing ids.
	if id := loaded.AddToken("there"); id != 2 {
		t.Errorf("AddToken(there) after load = %d, want 2", id)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	v, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load of missing file should not error, got %v", err)
	}
	if v.Len() != 0 {
		t.Errorf("missing file should yield empty vocabulary, got %d tokens", v.Len())
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load of corrupt file should not error, got %v", err)
	}
	if v.Len() != 0 {
		t.Errorf("corrupt file should yield empty vocabulary, got %d tokens", v.Len())
	}
}

func TestLoad_ToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forward.json")
	doc := `{"tokens":{"hello":0},"next_id":1,"format_version":9,"pruned_at":"2026-01-01"}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, ok := v.GetID("hello"); !ok || id != 0 {
		t.Errorf("GetID(hello) = (%d,%v), want (0,true)", id, ok)
	}
}

func TestSnapshot_Immutable(t *testing.T) {
	v := New()
	v.AddToken("hello")
	snap := v.Snapshot()
	v.AddToken("world")

	if snap.Len() != 1 {
		t.Errorf("snapshot grew after writer mutation: %d tokens", snap.Len())
	}
	if _, ok := snap.GetID("world"); ok {
		t.Error("snapshot should not see tokens added after it was taken")
	}
}

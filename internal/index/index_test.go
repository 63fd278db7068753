package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddKeepsHashesSortedAndUnique(t *testing.T) {
	ix := Index{}
	for _, h := range []string{"cc", "aa", "bb", "aa"} {
		ix.Add("ShowX_Aria", h)
	}
	got := strings.Join(ix["ShowX_Aria"], ",")
	if got != "aa,bb,cc" {
		t.Fatalf("hashes = %s", got)
	}
	if ix.Add("ShowX_Aria", "bb") {
		t.Fatal("re-adding a hash should report false")
	}
	if !ix.Has("ShowX_Aria", "cc") || ix.Has("ShowX_Aria", "dd") {
		t.Fatal("Has mismatch")
	}
	if !ix.Known("ShowX_Aria") || ix.Known("ShowY_Bea") {
		t.Fatal("Known mismatch")
	}
	if ix.Size() != 3 {
		t.Fatalf("Size = %d", ix.Size())
	}
}

func TestStoreMissingDocumentIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "index.json"))
	ix, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ix) != 0 {
		t.Fatalf("expected empty index, got %v", ix)
	}
}

func TestStoreMergeAndSaveWriteSortedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	s := NewStore(path)
	ctx := context.Background()

	if _, err := s.Merge(ctx, Index{"b_entity": {"22"}, "a_entity": {"11"}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := s.Merge(ctx, Index{"a_entity": {"00", "11"}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if strings.Index(text, "a_entity") > strings.Index(text, "b_entity") {
		t.Fatalf("keys not sorted:\n%s", text)
	}
	ix, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ix["a_entity"], ",") != "00,11" {
		t.Fatalf("a_entity = %v", ix["a_entity"])
	}

	if err := s.Save(ctx, Index{"c_entity": {"33"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ix, err = s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(ix) != 1 || !ix.Has("c_entity", "33") {
		t.Fatalf("Save did not replace: %v", ix)
	}
}

func TestLoadRepairsHandEditedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte(`{"x":["b","a","b"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	ix, err := NewStore(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ix["x"], ",") != "a,b" {
		t.Fatalf("x = %v", ix["x"])
	}
}

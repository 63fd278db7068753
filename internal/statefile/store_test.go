package statefile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type counterDoc struct {
	Revision int64          `json:"revision"`
	Counts   map[string]int `json:"counts"`
}

func (d *counterDoc) CurrentRevision() int64 { return d.Revision }
func (d *counterDoc) SetRevision(r int64)    { d.Revision = r }

func newCounterStore(t *testing.T) *Store[counterDoc] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "counters.json")
	return New(path, func() counterDoc { return counterDoc{Counts: map[string]int{}} })
}

func TestLoadMissingReturnsSeed(t *testing.T) {
	store := newCounterStore(t)
	doc, exists, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected missing document")
	}
	if doc.Counts == nil {
		t.Fatal("expected seeded map")
	}
	if store.Exists() {
		t.Fatal("Load must not create the file")
	}
}

func TestUpdateBumpsRevision(t *testing.T) {
	store := newCounterStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Update(ctx, func(doc *counterDoc) error {
			doc.Counts["runs"]++
			return nil
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	doc, exists, err := store.Load()
	if err != nil || !exists {
		t.Fatalf("Load: exists=%v err=%v", exists, err)
	}
	if doc.Revision != 3 || doc.Counts["runs"] != 3 {
		t.Fatalf("unexpected doc %+v", doc)
	}
}

func TestUpdateErrorSkipsWrite(t *testing.T) {
	store := newCounterStore(t)
	boom := errors.New("boom")
	_, err := store.Update(context.Background(), func(doc *counterDoc) error {
		doc.Counts["x"] = 1
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if store.Exists() {
		t.Fatal("failed update must not write")
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	store := newCounterStore(t)
	ctx := context.Background()
	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Update(ctx, func(doc *counterDoc) error {
				doc.Counts["hits"]++
				return nil
			}); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	doc, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Counts["hits"] != workers {
		t.Fatalf("hits = %d, want %d", doc.Counts["hits"], workers)
	}
	if doc.Revision != workers {
		t.Fatalf("revision = %d, want %d", doc.Revision, workers)
	}
}

func TestReplaceDetectsConflict(t *testing.T) {
	store := newCounterStore(t)
	ctx := context.Background()
	if _, err := store.Update(ctx, func(doc *counterDoc) error { return nil }); err != nil {
		t.Fatal(err)
	}
	snapshot, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(ctx, func(doc *counterDoc) error {
		doc.Counts["other"] = 1
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	snapshot.Counts["mine"] = 1
	_, err = store.Replace(ctx, snapshot.Revision, snapshot)
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.CurrentRevision != 2 || conflict.ExpectedRevision != 1 {
		t.Fatalf("unexpected conflict detail: %+v", conflict)
	}

	fresh, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	fresh.Counts["mine"] = 1
	written, err := store.Replace(ctx, fresh.Revision, fresh)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if written.Revision != 3 {
		t.Fatalf("revision = %d, want 3", written.Revision)
	}
}

func TestPlainDocumentsHaveNoRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	store := New[map[string][]string](path, func() map[string][]string { return map[string][]string{} })
	if _, err := store.Update(context.Background(), func(doc *map[string][]string) error {
		(*doc)["b"] = []string{"2"}
		(*doc)["a"] = []string{"1"}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"a\": [\n    \"1\"\n  ],\n  \"b\": [\n    \"2\"\n  ]\n}\n"
	if string(data) != want {
		t.Fatalf("unexpected content:\n%s", data)
	}
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	store := newCounterStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Load(); err == nil {
		t.Fatal("expected decode error")
	}
}

package staging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionKey(t *testing.T) {
	tests := []struct {
		dir    string
		key    string
		wantOK bool
	}{
		{"~temp_abc123", "abc123", true},
		{"^tempabc", "abc", true},
		{"temp_abc", "", false},
		{DiscardBufferName("x"), "", false},
	}
	for _, tc := range tests {
		key, ok := SessionKey(tc.dir)
		if ok != tc.wantOK || key != tc.key {
			t.Errorf("SessionKey(%q) = %q, %v", tc.dir, key, ok)
		}
	}
	if SessionDirName("k") != "~temp_k" {
		t.Fatal("unexpected session dir name")
	}
}

func TestListSessionsAndFiles(t *testing.T) {
	root := t.TempDir()
	store := NewFS()
	for _, dir := range []string{"~temp_b", "^tempa", "other"} {
		if err := os.Mkdir(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	sessions, err := store.ListSessions(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0].Key != "a" || sessions[1].Key != "b" {
		t.Fatalf("sessions = %+v", sessions)
	}

	dir := sessions[1].Dir
	for _, name := range []string{"b.json", "a.json", "note.txt"} {
		if err := store.Write(filepath.Join(dir, name), []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0o755); err != nil {
		t.Fatal(err)
	}
	files, err := store.ListFiles(dir, "*.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "a.json" || files[1] != "b.json" {
		t.Fatalf("files = %v", files)
	}
	missing, err := store.ListFiles(filepath.Join(root, "missing"), "*.json")
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing dir: %v %v", missing, err)
	}
}

func TestWriteRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	store := NewFS()
	if err := store.Write(path, []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Write(path, []byte("2")); !os.IsExist(err) {
		t.Fatalf("expected exists error, got %v", err)
	}
}

func TestArchiveMovesFilesAndRemovesSession(t *testing.T) {
	root := t.TempDir()
	store := NewFS()
	sessionDir := filepath.Join(root, "~temp_k")
	if err := os.Mkdir(sessionDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a_1.json", "b_2.txt"} {
		if err := os.WriteFile(filepath.Join(sessionDir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	archiveDir := filepath.Join(root, "archive", "k")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "a_1.json"), []byte("earlier"), 0o644); err != nil {
		t.Fatal(err)
	}

	moved, err := store.Archive(Session{Key: "k", Dir: sessionDir}, archiveDir)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	if _, err := os.Stat(sessionDir); !os.IsNotExist(err) {
		t.Fatal("session dir should be removed")
	}
	for _, name := range []string{"a_1.json", "a_1~1.json", "b_2.txt"} {
		if _, err := os.Stat(filepath.Join(archiveDir, name)); err != nil {
			t.Fatalf("expected %s in archive: %v", name, err)
		}
	}
	if n, err := CountEntries(archiveDir); err != nil || n != 3 {
		t.Fatalf("CountEntries = %d, %v", n, err)
	}
}

package exports

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"commenergy/internal/core"
)

func TestFilename(t *testing.T) {
	ts := time.Date(2026, 8, 29, 14, 5, 33, 0, time.UTC)
	got := Filename(ts)
	want := "decompte-2026-08-29-14-05.csv"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}

func TestWriteReadRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	content := []byte("Nom;Prénom;Montant\n")
	if _, err := store.Write("decompte-2026-08-29-14-05.csv", content); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := store.Read("decompte-2026-08-29-14-05.csv")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("Read = %q, want %q", data, content)
	}

	if err := store.Remove("decompte-2026-08-29-14-05.csv"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Read("decompte-2026-08-29-14-05.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Read after remove = %v, want ErrNotFound", err)
	}

	// Removing a file that is already gone is not an error.
	if err := store.Remove("decompte-2026-08-29-14-05.csv"); err != nil {
		t.Errorf("Remove of missing file: %v", err)
	}
}

func TestWriteRefusesOverwrite(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	name := "decompte-2026-08-29-14-05.csv"
	committed := []byte("Nom;Prénom;Montant\nDupont;Marie;75.50\n")
	if _, err := store.Write(name, committed); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	if _, err := store.Write(name, []byte("Nom;Prénom;Montant\n")); !errors.Is(err, ErrExists) {
		t.Fatalf("second Write = %v, want ErrExists", err)
	}

	data, err := store.Read(name)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != string(committed) {
		t.Errorf("file rewritten to %q, want %q", data, committed)
	}
}

func TestReadMissingFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Read("decompte-2026-01-01-00-00.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Read missing = %v, want ErrNotFound", err)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Plant a file outside the export directory that must stay unreachable.
	outside := filepath.Join(dir, "..", "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatalf("plant outside file: %v", err)
	}

	names := []string{
		"../secret.txt",
		"..",
		"foo/../../secret.txt",
		"/etc/passwd",
		"sub/decompte.csv",
		"",
	}
	for _, name := range names {
		if _, err := store.Read(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Read(%q) = %v, want ErrInvalidName", name, err)
		}
		if _, err := store.Write(name, []byte("x")); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Write(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := store.Write("decompte-2026-01-01-10-00.csv", []byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := store.Write("decompte-2026-02-01-10-00.csv", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	files, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List count = %d, want 2", len(files))
	}
	if files[0].Name != "decompte-2026-02-01-10-00.csv" {
		t.Errorf("newest first violated: %v", files)
	}
	if files[0].Size != 1 {
		t.Errorf("Size = %d, want 1", files[0].Size)
	}
}

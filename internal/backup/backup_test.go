package backup

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmarsh/overseer/internal/store"
	"github.com/dmarsh/overseer/internal/types"
)

func seedDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "overseer.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.CreateSession(&types.Session{
		ID:       "ses_01BACKUP",
		Status:   types.StatusPending,
		WorkDir:  "/tmp",
		Provider: "script",
		Model:    "test",
		Prompt:   "hello",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return dbPath
}

func TestCreateSnapshotsLiveDatabase(t *testing.T) {
	dbPath := seedDB(t)
	destDir := filepath.Join(t.TempDir(), "backups")

	entry, err := Create(dbPath, destDir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if entry.Size == 0 {
		t.Error("backup file is empty")
	}

	// The snapshot must be a valid database containing the seeded row.
	db, err := sql.Open("sqlite", entry.Path)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer func() { _ = db.Close() }()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatalf("query backup: %v", err)
	}
	if count != 1 {
		t.Errorf("backup has %d sessions, want 1", count)
	}
}

func TestCreateMissingDatabase(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing.db"), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func writeFakeBackup(t *testing.T, dir string, at time.Time) string {
	t.Helper()
	name := filePrefix + at.Format(timeFormat) + fileSuffix
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("write fake backup: %v", err)
	}
	return path
}

func TestListSortsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	old := writeFakeBackup(t, dir, base.Add(-time.Hour))
	newest := writeFakeBackup(t, dir, base)

	// Non-backup files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Path != newest || entries[1].Path != old {
		t.Errorf("wrong order: %v", entries)
	}
}

func TestListMissingDirectory(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil, got %v", entries)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		writeFakeBackup(t, dir, base.Add(-time.Duration(i)*time.Hour))
	}

	removed, err := Prune(dir, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed %d, want 3", removed)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("kept %d, want 2", len(entries))
	}
	if entries[0].CreatedAt != base {
		t.Errorf("newest backup was pruned")
	}

	// Pruning again is a no-op.
	removed, err = Prune(dir, 2)
	if err != nil || removed != 0 {
		t.Errorf("second prune: removed=%d err=%v", removed, err)
	}
}

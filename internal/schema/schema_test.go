package schema

import (
	"path/filepath"
	"testing"
)

func TestInitDB_CreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatalf("get schema version: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("expected version %d, got %d", CurrentVersion, version)
	}

	// All tables present
	for _, table := range []string{"sessions", "turns", "approvals", "events"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := Migrate(db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPendingApprovalIndex_RejectsSecondPending(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err = db.Exec(`INSERT INTO sessions (session_id, status, work_dir, provider, model, created_at, updated_at)
		VALUES ('ses_1', 'running', '/tmp', 'script', 'test', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}

	insert := `INSERT INTO approvals (approval_id, session_id, tool_name, status, created_at)
		VALUES (?, 'ses_1', 'delete_file', ?, '2026-01-01T00:00:00Z')`

	if _, err := db.Exec(insert, "apr_1", "pending"); err != nil {
		t.Fatalf("first pending approval: %v", err)
	}
	if _, err := db.Exec(insert, "apr_2", "pending"); err == nil {
		t.Error("expected unique constraint violation for second pending approval")
	}

	// A resolved approval does not block a new pending one
	if _, err := db.Exec("UPDATE approvals SET status='approved' WHERE approval_id='apr_1'"); err != nil {
		t.Fatalf("resolve first approval: %v", err)
	}
	if _, err := db.Exec(insert, "apr_3", "pending"); err != nil {
		t.Errorf("pending approval after resolution should be allowed: %v", err)
	}
}

package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPortFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.port")
	if err := WritePortFile(path, 9123); err != nil {
		t.Fatalf("write: %v", err)
	}
	port, err := ReadPortFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if port != 9123 {
		t.Errorf("port = %d, want 9123", port)
	}
}

func TestPortFileOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.port")
	if err := WritePortFile(path, 9000); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WritePortFile(path, 9001); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	port, err := ReadPortFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if port != 9001 {
		t.Errorf("port = %d, want 9001", port)
	}
}

func TestReadPortFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.port")
	if err := os.WriteFile(path, []byte("not-a-port\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadPortFile(path); err == nil {
		t.Error("garbage should not parse")
	}

	if err := os.WriteFile(path, []byte("70000\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadPortFile(path); err == nil {
		t.Error("out-of-range port should fail")
	}
}

func TestRemovePortFileIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.port")
	if err := WritePortFile(path, 9000); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := RemovePortFile(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := RemovePortFile(path); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

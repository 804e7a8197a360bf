package identity

import (
	"strings"
	"testing"
	"time"
)

func TestGeneratePrefixes(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"session", GenerateSessionID, "ses_"},
		{"approval", GenerateApprovalID, "apr_"},
		{"turn", GenerateTurnID, "trn_"},
		{"event", GenerateEventID, "evt_"},
		{"daemon", GenerateDaemonID, "d_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			if !strings.HasPrefix(id, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, id)
			}
			// ULID body is always 26 characters
			if got := len(id) - len(tt.prefix); got != 26 {
				t.Errorf("expected 26-char ULID body, got %d (%q)", got, id)
			}
		})
	}
}

func TestGenerateSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateSessionID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateSessionID_Sortable(t *testing.T) {
	first := GenerateSessionID()
	time.Sleep(2 * time.Millisecond)
	second := GenerateSessionID()

	if !(first < second) {
		t.Errorf("expected IDs to sort by creation time: %q >= %q", first, second)
	}
}

func TestULIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := GenerateSessionID()
	after := time.Now().Add(time.Second)

	ts, err := ULIDTimestamp(id)
	if err != nil {
		t.Fatalf("ULIDTimestamp: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v outside expected window [%v, %v]", ts, before, after)
	}
}

func TestULIDTimestamp_Invalid(t *testing.T) {
	if _, err := ULIDTimestamp("ses_notaulid"); err == nil {
		t.Error("expected error for invalid ULID")
	}
}

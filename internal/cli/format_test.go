package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"seconds", 42 * time.Second, "42s"},
		{"minutes", 4*time.Minute + 12*time.Second, "4m12s"},
		{"hours", 2*time.Hour + 5*time.Minute, "2h05m"},
		{"days", 73 * time.Hour, "3d1h"},
		{"zero", 0, "0s"},
		{"negative clamps to zero", -5 * time.Second, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		s    string
		max  int
		want string
	}{
		{"short passes through", "hello", 10, "hello"},
		{"exact length passes through", "hello", 5, "hello"},
		{"long is cut with ellipsis", "hello world", 8, "hello w…"},
		{"newlines flattened", "a\nb", 10, "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.s, tt.max); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	long := "ses_01J9ABCDEFGHJKMNPQRSTVWXYZ"
	if got := shortID(long); len(got) != 12 {
		t.Errorf("shortID returned %q, want 12 chars", got)
	}
	if got := shortID("ses_short"); got != "ses_short" {
		t.Errorf("shortID(%q) = %q, want unchanged", "ses_short", got)
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5k"},
		{2300000, "2.3M"},
	}

	for _, tt := range tests {
		if got := formatTokens(tt.n); got != tt.want {
			t.Errorf("formatTokens(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

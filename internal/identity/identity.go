// Package identity generates the prefixed ULID identifiers used across
// overseer: sessions, turns, approvals, events, and daemon instances.
package identity

import (
	"crypto/rand"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// GenerateSessionID generates a unique session ID.
// Format: "ses_" + ulid().
func GenerateSessionID() string {
	return "ses_" + generateULID()
}

// GenerateApprovalID generates a unique approval request ID.
// Format: "apr_" + ulid().
func GenerateApprovalID() string {
	return "apr_" + generateULID()
}

// GenerateTurnID generates a unique conversation turn ID.
// Format: "trn_" + ulid().
func GenerateTurnID() string {
	return "trn_" + generateULID()
}

// GenerateEventID generates a unique event ID.
// Format: "evt_" + ulid()
// Used for deduplication when clients replay the event journal.
func GenerateEventID() string {
	return "evt_" + generateULID()
}

// GenerateDaemonID generates a unique identifier for a daemon instance.
// Format: "d_" + ulid().
func GenerateDaemonID() string {
	return "d_" + generateULID()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a ULID string.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// ULIDTimestamp extracts the timestamp from a prefixed or bare ULID string.
func ULIDTimestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ULID: %w", err)
	}

	ms := id.Time()
	if ms/1000 > uint64(math.MaxInt64) {
		return time.Time{}, fmt.Errorf("ULID timestamp %d exceeds int64 range", ms)
	}
	sec := int64(ms / 1000)      //nolint:gosec // overflow checked above
	nsec := int64(ms%1000) * 1e6 //nolint:gosec // ms%1000 is always < 1000

	return time.Unix(sec, nsec), nil
}

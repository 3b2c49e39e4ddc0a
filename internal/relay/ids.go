package relay

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSubID returns a ULID-based subscription id. ULIDs sort by creation time,
// which keeps concurrent subscriptions readable in logs.
func NewSubID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// Extremely unlikely; fall back to random hex so the protocol keeps
		// working even if the monotonic source misbehaves.
		b := make([]byte, 13)
		_, _ = rand.Read(b)
		return hex.EncodeToString(b)
	}
	return id.String()
}

// Package ids generates the identifiers carried on the wire: request ids (RIDs)
// and the unique suffix appended to a socket identity.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRID returns a random UUID used to correlate a reply with its request.
func NewRID() string {
	return uuid.NewString()
}

// NewSuffix returns a time-sortable ULID. Identities built with it sort by
// connection time in broker logs.
func NewSuffix() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

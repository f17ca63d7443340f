package convmodel

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var (
	idMu       sync.Mutex
	idEntropy  = ulid.Monotonic(rand.Reader, 0)
)

// NewULID mints a time-sortable, lexicographically ordered id. Message,
// run, and job ids all use this format so the (createdAt, id) total order
// invariants 1/3/5 reduce to a single string comparison.
func NewULID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(now), idEntropy)
	return id.String()
}

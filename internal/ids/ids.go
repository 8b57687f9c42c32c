// Package ids allocates identifiers for audit entries. ULIDs keep the audit
// archive ordered by creation time, so "recent entries" is an index walk
// rather than a timestamp sort.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single monotonic entropy source keeps ids strictly increasing even when
// several audit writes land in the same millisecond.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh audit entry id.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

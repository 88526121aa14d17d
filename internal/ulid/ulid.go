// Package ulid generates messageIds: lexicographically sortable, monotonic
// within a single ship, globally unique across ships. The generator is
// adapted from the teacher's cmn/cos UUID scheme (shortid-backed body, a
// tie-break suffix recomputed under contention) but trades that scheme's
// alphabet-driven randomness for a timestamp-prefixed layout so that
// "(shipId, occurredAt) is non-decreasing" (§3 invariant) also holds for the
// bare messageId ordering.
package ulid

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"
)

// crockfordAlphabet avoids ambiguous characters (no I, L, O, U).
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var encoding = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

var (
	mu       sync.Mutex
	lastMs   int64
	tieBreak uint32
)

// Gen returns a new monotonic ID: a 6-byte millisecond timestamp followed by
// 8 random bytes, base32-encoded. Two calls within the same millisecond
// still sort correctly relative to each other because, whenever the clock
// hasn't advanced, the new ID is stamped one millisecond past the last one.
func Gen() string {
	mu.Lock()
	now := time.Now().UnixMilli()
	if now <= lastMs {
		now = lastMs + 1
		tieBreak++
	} else {
		lastMs = now
		tieBreak = 0
	}
	lastMs = now
	tie := tieBreak
	mu.Unlock()

	var tsBuf [8]byte
	for i := 7; i >= 0; i-- {
		tsBuf[i] = byte(now & 0xff)
		now >>= 8
	}

	randBuf := make([]byte, 8)
	if _, err := rand.Read(randBuf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to the
		// tie-break counter so IDs stay unique within this process at least.
		for i := range randBuf {
			randBuf[i] = byte(tie >> (8 * (i % 4)))
		}
	}

	buf := append(tsBuf[2:], randBuf...) // drop top 2 timestamp bytes: ms since epoch fits in 6 bytes until year ~10889
	return encoding.EncodeToString(buf)
}

// GenForShip suffixes an id with the first four characters of its origin
// shipId. Ships whose ids share those four characters get the same suffix.
func GenForShip(shipID string) string {
	return fmt.Sprintf("%s-%s", Gen(), shipPrefix(shipID))
}

func shipPrefix(shipID string) string {
	if len(shipID) <= 4 {
		return shipID
	}
	return shipID[:4]
}

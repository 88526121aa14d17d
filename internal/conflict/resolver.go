// Package conflict implements C6: write-write conflict detection and
// resolution. Detection takes the same per-document advisory lock the store
// layer exposes before reading the current version, avoiding the
// check-then-act race called out in §5.
package conflict

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/shipsync/offline-sync/internal/model"
)

// Strategy is a resolution policy, configured per content type (§4.6).
type Strategy string

const (
	LastWriteWins Strategy = "last-write-wins"
	MasterWins    Strategy = "master-wins"
	Manual        Strategy = "manual"
	Merge         Strategy = "merge"
)

// LockKey derives the per-document advisory lock key from
// hash(contentType||documentId), per §5. Shared verbatim by the conflict
// resolver and the apply path so both take the identical lock.
func LockKey(contentType, documentID string) int64 {
	h := xxhash.ChecksumString64(contentType + "||" + documentID)
	return int64(h)
}

// Current is what the apply side knows about a document's local state.
type Current struct {
	Version    int64
	OccurredAt time.Time
	Snapshot   json.RawMessage
	// ShipID is the shipId that authored the currently-applied version,
	// empty if master-authored. A CurrentFetcher implementation must
	// populate this so resolveLWW's tie-break (§4.6) can compare it against
	// an incoming message's ShipID.
	ShipID string
}

// Outcome is the resolver's decision.
type Outcome struct {
	// Apply is true when the incoming message should be applied as-is.
	Apply bool
	// Payload is the (possibly merged) payload to apply, when Apply is true.
	Payload json.RawMessage
	// Conflict is true when a ConflictRecord should be opened (manual strategy).
	Conflict bool
	// Reason documents why a message was not applied, e.g. "older" (§8 scenario 4).
	Reason string
}

// Resolver holds a per-content-type strategy registry (string-keyed, no
// reflection, per the §9 "Dynamic content-type dispatch" design note) and
// resolves conflicts deterministically: given identical
// (localSnapshot, remoteSnapshot, strategy) inputs, the output is a pure
// function of those inputs (§8 "Conflict determinism").
type Resolver struct {
	strategies map[string]Strategy
	defaultS   Strategy
}

func NewResolver(perType map[string]Strategy) *Resolver {
	return &Resolver{strategies: perType, defaultS: LastWriteWins}
}

func (r *Resolver) strategyFor(contentType string) Strategy {
	if s, ok := r.strategies[contentType]; ok {
		return s
	}
	return r.defaultS
}

// Detect reports whether msg conflicts with cur: local.version > msg.baseVersion (§4.6).
func Detect(cur Current, msg model.SyncMessage) bool {
	return cur.Version > msg.BaseVersion
}

// Resolve applies the configured strategy for msg's content type. Callers
// must already hold the advisory lock for (contentType, documentId) — see
// LockKey — for the duration of the surrounding transaction.
func (r *Resolver) Resolve(_ context.Context, cur Current, msg model.SyncMessage) Outcome {
	if !Detect(cur, msg) {
		return Outcome{Apply: true, Payload: msg.Payload}
	}

	switch r.strategyFor(msg.ContentType) {
	case MasterWins:
		if msg.ShipID == "" { // master-originated message always wins against itself
			return Outcome{Apply: true, Payload: msg.Payload}
		}
		return Outcome{Apply: false, Reason: "master-wins"}

	case Manual:
		return Outcome{Apply: false, Conflict: true, Reason: "manual-resolution-pending"}

	case Merge:
		merged, err := mergeFields(cur.Snapshot, msg.Payload)
		if err != nil {
			// fall back to last-write-wins if either snapshot is not a
			// JSON object
			return resolveLWW(cur, msg)
		}
		return Outcome{Apply: true, Payload: merged}

	case LastWriteWins:
		fallthrough
	default:
		return resolveLWW(cur, msg)
	}
}

// resolveLWW implements last-write-wins with the deterministic tie-break
// from §4.6: identical occurredAt breaks by lexicographic shipId, master
// (empty shipId) ranked highest.
func resolveLWW(cur Current, msg model.SyncMessage) Outcome {
	if msg.OccurredAt.After(cur.OccurredAt) {
		return Outcome{Apply: true, Payload: msg.Payload}
	}
	if msg.OccurredAt.Equal(cur.OccurredAt) && shipOutranks(msg.ShipID, cur.ShipID) {
		return Outcome{Apply: true, Payload: msg.Payload}
	}
	return Outcome{Apply: false, Reason: "older"}
}

// shipOutranks reports whether a beats b in the §4.6 tie-break order: ""
// (master) ranks highest; between two non-master ships, the lexicographically
// later shipId wins. Equal ids never outrank each other.
func shipOutranks(a, b string) bool {
	if a == b {
		return false
	}
	if a == "" {
		return true
	}
	if b == "" {
		return false
	}
	return a > b
}

// mergeFields does a shallow field-wise merge of two JSON objects: fields
// present on only one side are kept, and on every overlapping top-level
// field the incoming message's value wins. Per-field timestamps are not
// consulted.
func mergeFields(local, remote json.RawMessage) (json.RawMessage, error) {
	var localMap, remoteMap map[string]any
	if err := json.Unmarshal(local, &localMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(remote, &remoteMap); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(localMap)+len(remoteMap))
	for k, v := range localMap {
		merged[k] = v
	}
	for k, v := range remoteMap {
		merged[k] = v // incoming wins on overlapping fields
	}
	return json.Marshal(merged)
}

// Package capture implements C10: the change-capture hook that content-type
// handlers call into after a local write commits, and the echo-suppression
// context key that lets an applied remote write avoid being re-captured and
// re-queued back out.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/ulid"
)

// Handler builds the outbound SyncMessage payload for one content type's
// document after a local write. rawPayload is whatever the caller already
// has on hand (e.g. a host webhook body); a Handler with its own read path
// back to host state may ignore it and fetch the post-image itself.
// Returning a nil payload with a nil error means "capture nothing for this
// write" (e.g. a field the fleet doesn't replicate changed), except for a
// delete, which is captured with a nil payload.
type Handler func(ctx context.Context, documentID string, op model.Operation, rawPayload []byte) (payload []byte, err error)

// Capturer is the sync service's ingestion point for a captured write;
// satisfied by *syncsvc.Service. Declared here, rather than importing
// syncsvc, because syncsvc already imports capture for echo-suppression
// context tagging and a two-way import would cycle.
type Capturer interface {
	Capture(ctx context.Context, msg model.SyncMessage)
}

// Registry is a string-keyed dispatch table from contentType to its capture
// Handler. It intentionally avoids reflection: handlers register themselves
// by name at init time, the same shape as the teacher's xaction registry,
// just without the renew/abort lifecycle an xaction needs and a replication
// hook doesn't.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	shipID   string
}

func NewRegistry(shipID string) *Registry {
	return &Registry{handlers: make(map[string]Handler, 32), shipID: shipID}
}

// Register binds a Handler to contentType. Re-registering the same
// contentType overwrites the previous handler, which is convenient for
// tests but should not happen in production wiring.
func (r *Registry) Register(contentType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[contentType] = h
}

func (r *Registry) Lookup(contentType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[contentType]
	return h, ok
}

func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// Fire is what a host write-lifecycle hook (afterCreate, afterUpdate,
// afterDelete, afterPublish, afterUnpublish) calls after a local mutation
// commits (§4.9): look up contentType's Handler, build the post-image
// SyncMessage, and hand it to capturer.Capture. A write whose ctx carries
// replication origin — i.e. this write is itself the product of applying an
// inbound message — is never re-captured, preventing the apply-then-recapture
// echo loop. A contentType with no registered Handler, or a non-delete write
// whose Handler reports nothing to capture, is silently skipped.
func (r *Registry) Fire(ctx context.Context, contentType, documentID string, op model.Operation, rawPayload []byte, baseVersion int64, capturer Capturer) error {
	if _, replicated := Origin(ctx); replicated {
		return nil
	}
	h, ok := r.Lookup(contentType)
	if !ok {
		return nil
	}
	payload, err := h(ctx, documentID, op, rawPayload)
	if err != nil {
		return err
	}
	if payload == nil && op != model.OpDelete {
		return nil
	}
	capturer.Capture(ctx, model.SyncMessage{
		MessageID:   ulid.Gen(),
		ShipID:      r.shipID,
		ContentType: contentType,
		DocumentID:  documentID,
		Operation:   op,
		Payload:     payload,
		BaseVersion: baseVersion,
		OccurredAt:  time.Now().UTC(),
	})
	return nil
}

type originKey struct{}

// WithOrigin tags ctx so a write made while applying a remote SyncMessage
// (shipID, possibly "" for a master-originated write) can be recognized by
// the capture hook and skipped, preventing an apply-then-recapture echo loop
// (§4.10 "the hook MUST NOT re-enqueue a write it just applied").
func WithOrigin(ctx context.Context, shipID string) context.Context {
	return context.WithValue(ctx, originKey{}, shipID)
}

// Origin reports the replication origin tagged on ctx, if any, and whether
// this write is itself the product of applying a remote message.
func Origin(ctx context.Context) (shipID string, isReplicated bool) {
	v := ctx.Value(originKey{})
	if v == nil {
		return "", false
	}
	return v.(string), true
}

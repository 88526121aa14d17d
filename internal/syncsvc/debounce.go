package syncsvc

import (
	"sync"
	"time"

	"github.com/shipsync/offline-sync/internal/model"
)

// debounceKey identifies the coalescing bucket a write falls into (§4.10:
// "writes to the same (contentType, documentId)").
type debounceKey struct {
	contentType string
	documentID  string
}

type pendingWrite struct {
	msg        model.SyncMessage
	supersedes []string
	timer      *time.Timer
}

// debouncer coalesces rapid writes to the same document into a single
// outbound SyncMessage carrying the latest payload, recording every
// superseded messageId so a consumer can short-circuit a stale out-of-order
// delivery (§4.10).
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[debounceKey]*pendingWrite
	flush   func(model.SyncMessage)
}

func newDebouncer(window time.Duration, flush func(model.SyncMessage)) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[debounceKey]*pendingWrite),
		flush:   flush,
	}
}

// Submit coalesces msg into any in-flight pending write for its
// (contentType, documentId), resetting the debounce timer. When the timer
// fires, the surviving message (latest payload, accumulated supersedes) is
// handed to flush.
func (d *debouncer) Submit(msg model.SyncMessage) {
	key := debounceKey{contentType: msg.ContentType, documentID: msg.DocumentID}

	d.mu.Lock()
	defer d.mu.Unlock()

	if pw, ok := d.pending[key]; ok {
		pw.timer.Stop()
		pw.supersedes = append(pw.supersedes, pw.msg.MessageID)
		pw.msg = msg
		pw.timer = time.AfterFunc(d.window, func() { d.fire(key) })
		return
	}

	pw := &pendingWrite{msg: msg}
	pw.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.pending[key] = pw
}

func (d *debouncer) fire(key debounceKey) {
	d.mu.Lock()
	pw, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	out := pw.msg
	out.Supersedes = pw.supersedes
	d.flush(out)
}

// Stop cancels every pending timer without flushing, for use during
// shutdown once the caller has decided to drop in-flight coalescing state.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, pw := range d.pending {
		pw.timer.Stop()
		delete(d.pending, k)
	}
}

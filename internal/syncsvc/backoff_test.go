package syncsvc

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/model"
)

func TestBackoffInternal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "syncsvc internal suite")
}

var _ = Describe("backoff", func() {
	It("doubles per attempt up to the 5 minute cap, within ±20% jitter", func() {
		d := backoff(5*time.Second, 0)
		Expect(d).To(BeNumerically("~", 5*time.Second, time.Second))

		d = backoff(5*time.Second, 6) // 5s * 2^6 = 320s, capped to 300s before jitter
		Expect(d).To(BeNumerically("<=", maxBackoff+maxBackoff/5))
	})

	It("never exceeds the 5 minute cap plus 20% jitter regardless of attempt", func() {
		d := backoff(5*time.Second, 100)
		Expect(d).To(BeNumerically("<=", maxBackoff+maxBackoff/5))
	})
})

var _ = Describe("debouncer", func() {
	It("coalesces k rapid writes into one flush carrying the latest payload", func() {
		var flushed []string
		done := make(chan struct{})
		deb := newDebouncer(20*time.Millisecond, func(m model.SyncMessage) {
			flushed = append(flushed, string(m.Payload))
			close(done)
		})

		deb.Submit(model.SyncMessage{MessageID: "m1", ContentType: "ct", DocumentID: "d1", Payload: []byte(`1`)})
		deb.Submit(model.SyncMessage{MessageID: "m2", ContentType: "ct", DocumentID: "d1", Payload: []byte(`2`)})
		deb.Submit(model.SyncMessage{MessageID: "m3", ContentType: "ct", DocumentID: "d1", Payload: []byte(`3`)})

		Eventually(done, time.Second).Should(BeClosed())
		Expect(flushed).To(Equal([]string{"3"}))
	})
})

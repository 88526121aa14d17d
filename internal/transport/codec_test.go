package transport_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/transport"
)

func TestTransport(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "transport suite")
}

var _ = Describe("Encode/Decode", func() {
	base := model.SyncMessage{
		MessageID:   "msg-1",
		ShipID:      "ship-a",
		ContentType: "api::page.page",
		DocumentID:  "doc-1",
		Operation:   model.OpUpdate,
		Payload:     json.RawMessage(`{"title":"hi"}`),
		BaseVersion: 1,
		OccurredAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	It("round-trips a message unchanged", func() {
		b, err := transport.Encode(base)
		Expect(err).NotTo(HaveOccurred())
		got, err := transport.Decode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.MessageID).To(Equal(base.MessageID))
		Expect(got.DocumentID).To(Equal(base.DocumentID))
	})

	It("preserves an unrecognized field into Extra and republishes it", func() {
		b, err := json.Marshal(map[string]any{
			"messageId":   "msg-2",
			"shipId":      "ship-a",
			"contentType": "api::page.page",
			"documentId":  "doc-2",
			"operation":   "update",
			"payload":     json.RawMessage(`{}`),
			"baseVersion": 1,
			"occurredAt":  "2026-01-01T00:00:00Z",
			"futureField": "keep-me",
		})
		Expect(err).NotTo(HaveOccurred())

		msg, err := transport.Decode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Extra).To(HaveKey("futureField"))

		reEncoded, err := transport.Encode(msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(reEncoded)).To(ContainSubstring("futureField"))
	})

	It("rejects a delete operation carrying a non-null payload", func() {
		bad := base
		bad.Operation = model.OpDelete
		b, _ := transport.Encode(bad)
		_, err := transport.Decode(b)
		Expect(err).To(HaveOccurred())
	})
})

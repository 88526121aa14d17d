package capture_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/capture"
	"github.com/shipsync/offline-sync/internal/model"
)

func TestCapture(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "capture suite")
}

type fakeCapturer struct {
	captured []model.SyncMessage
}

func (f *fakeCapturer) Capture(_ context.Context, msg model.SyncMessage) {
	f.captured = append(f.captured, msg)
}

var _ = Describe("Registry", func() {
	It("builds a SyncMessage from the registered Handler and hands it to the Capturer", func() {
		r := capture.NewRegistry("ship-a")
		r.Register("api::page.page", func(_ context.Context, documentID string, op model.Operation, rawPayload []byte) ([]byte, error) {
			return []byte(`{"title":"hello"}`), nil
		})
		cap := &fakeCapturer{}

		err := r.Fire(context.Background(), "api::page.page", "doc-1", model.OpUpdate, nil, 3, cap)
		Expect(err).NotTo(HaveOccurred())
		Expect(cap.captured).To(HaveLen(1))

		msg := cap.captured[0]
		Expect(msg.MessageID).NotTo(BeEmpty())
		Expect(msg.ShipID).To(Equal("ship-a"))
		Expect(msg.ContentType).To(Equal("api::page.page"))
		Expect(msg.DocumentID).To(Equal("doc-1"))
		Expect(msg.Operation).To(Equal(model.OpUpdate))
		Expect(msg.BaseVersion).To(Equal(int64(3)))
		Expect(string(msg.Payload)).To(Equal(`{"title":"hello"}`))
		Expect(msg.OccurredAt.IsZero()).To(BeFalse())
	})

	It("does not re-capture a write applied from a remote message (echo suppression)", func() {
		r := capture.NewRegistry("ship-a")
		called := false
		r.Register("api::page.page", func(context.Context, string, model.Operation, []byte) ([]byte, error) {
			called = true
			return []byte(`{}`), nil
		})
		cap := &fakeCapturer{}

		ctx := capture.WithOrigin(context.Background(), "ship-b")
		err := r.Fire(ctx, "api::page.page", "doc-1", model.OpUpdate, nil, 0, cap)
		Expect(err).NotTo(HaveOccurred())
		Expect(called).To(BeFalse())
		Expect(cap.captured).To(BeEmpty())
	})

	It("is a no-op for a contentType with no registered Handler", func() {
		r := capture.NewRegistry("ship-a")
		cap := &fakeCapturer{}

		err := r.Fire(context.Background(), "api::unregistered.type", "doc-1", model.OpCreate, nil, 0, cap)
		Expect(err).NotTo(HaveOccurred())
		Expect(cap.captured).To(BeEmpty())
	})

	It("skips capture when the Handler reports nothing to capture", func() {
		r := capture.NewRegistry("ship-a")
		r.Register("api::page.page", func(context.Context, string, model.Operation, []byte) ([]byte, error) {
			return nil, nil
		})
		cap := &fakeCapturer{}

		err := r.Fire(context.Background(), "api::page.page", "doc-1", model.OpUpdate, nil, 0, cap)
		Expect(err).NotTo(HaveOccurred())
		Expect(cap.captured).To(BeEmpty())
	})

	It("propagates a Handler error without capturing", func() {
		r := capture.NewRegistry("ship-a")
		boom := errBoom("handler exploded")
		r.Register("api::page.page", func(context.Context, string, model.Operation, []byte) ([]byte, error) {
			return nil, boom
		})
		cap := &fakeCapturer{}

		err := r.Fire(context.Background(), "api::page.page", "doc-1", model.OpUpdate, nil, 0, cap)
		Expect(err).To(Equal(boom))
		Expect(cap.captured).To(BeEmpty())
	})
})

type errBoom string

func (e errBoom) Error() string { return string(e) }

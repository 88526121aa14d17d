package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/capture"
	"github.com/shipsync/offline-sync/internal/config"
	"github.com/shipsync/offline-sync/internal/httpapi"
	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/syncsvc"
)

func TestHTTPAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "httpapi suite")
}

type fakeDrainer struct{}

func (fakeDrainer) Push(ctx context.Context, shipID string) (syncsvc.PushResult, error) {
	return syncsvc.PushResult{Success: true, Skipped: true}, nil
}
func (fakeDrainer) Pull(ctx context.Context) error { return nil }

type fakeCapturer struct {
	captured []model.SyncMessage
}

func (f *fakeCapturer) Capture(_ context.Context, msg model.SyncMessage) {
	f.captured = append(f.captured, msg)
}

type fakeBus struct{ err error }

func (f fakeBus) Healthy(context.Context) error { return f.err }

var _ = Describe("GET /health/live", func() {
	It("always returns 200", func() {
		cfg := config.Default()
		cfg.ShipID = "ship-a"
		srv := httpapi.New(cfg, nil, fakeDrainer{}, nil, nil, nil, nil, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("GET /ships on a replica", func() {
	It("is forbidden when mode != master", func() {
		cfg := config.Default()
		cfg.Mode = config.ModeReplica
		cfg.ShipID = "ship-a"
		srv := httpapi.New(cfg, nil, fakeDrainer{}, nil, nil, nil, nil, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/ships", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})
})

var _ = Describe("GET /health/ready", func() {
	It("returns 503 when the bus is unreachable", func() {
		cfg := config.Default()
		cfg.ShipID = "ship-a"
		srv := httpapi.New(cfg, nil, fakeDrainer{}, nil, nil, nil, nil, nil, fakeBus{err: context.DeadlineExceeded})

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("returns 200 when the bus is healthy and there is no store to check", func() {
		cfg := config.Default()
		cfg.ShipID = "ship-a"
		srv := httpapi.New(cfg, nil, fakeDrainer{}, nil, nil, nil, nil, nil, fakeBus{})

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("POST /capture/:contentType/:documentId", func() {
	It("fires the change-capture registry and forwards the built SyncMessage to the capturer", func() {
		cfg := config.Default()
		cfg.ShipID = "ship-a"
		reg := capture.NewRegistry(cfg.ShipID)
		reg.Register("api::page.page", func(_ context.Context, documentID string, op model.Operation, rawPayload []byte) ([]byte, error) {
			return rawPayload, nil
		})
		cap := &fakeCapturer{}
		srv := httpapi.New(cfg, nil, fakeDrainer{}, nil, nil, nil, reg, cap, nil)

		body, _ := json.Marshal(map[string]any{
			"operation":   "update",
			"payload":     map[string]string{"title": "hello"},
			"baseVersion": 2,
		})
		req := httptest.NewRequest(http.MethodPost, "/capture/api::page.page/doc-1", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(cap.captured).To(HaveLen(1))
		Expect(cap.captured[0].ContentType).To(Equal("api::page.page"))
		Expect(cap.captured[0].DocumentID).To(Equal("doc-1"))
	})

	It("returns 501 when no capture registry is configured", func() {
		cfg := config.Default()
		cfg.ShipID = "ship-a"
		srv := httpapi.New(cfg, nil, fakeDrainer{}, nil, nil, nil, nil, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/capture/api::page.page/doc-1", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotImplemented))
	})
})

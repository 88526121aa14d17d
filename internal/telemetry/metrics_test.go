package telemetry_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/telemetry"
)

func TestTelemetry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "telemetry suite")
}

var _ = Describe("Registry", func() {
	It("exposes the queue gauge and the message counter with the values last set", func() {
		reg := prometheus.NewRegistry()
		r := telemetry.NewWithRegisterer(reg, "replica", "ship-a", "test")

		r.SetQueuePending(7)
		r.SetShips(5, 3)
		r.SetDeadLetters(1, 2, 3, 4)
		r.ObserveMessage("processed")
		r.ObserveMessage("processed")

		Expect(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP offline_sync_queue_pending Pending+sending entries in the outbound sync queue.
# TYPE offline_sync_queue_pending gauge
offline_sync_queue_pending 7
`), "offline_sync_queue_pending")).To(Succeed())

		Expect(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP offline_sync_messages_total Count of SyncMessages by terminal outcome.
# TYPE offline_sync_messages_total counter
offline_sync_messages_total{status="processed"} 2
`), "offline_sync_messages_total")).To(Succeed())
	})
})

package connectivity_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/connectivity"
)

func TestConnectivity(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "connectivity suite")
}

var _ = Describe("Monitor", func() {
	It("emits a went_online transition when the link recovers", func() {
		calls := 0
		prober := func(context.Context) connectivity.Result {
			calls++
			return connectivity.Result{IsOnline: calls > 1}
		}
		m := connectivity.NewMonitor(prober, 5*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		go m.Run(ctx)
		defer cancel()

		Eventually(m.Events(), time.Second).Should(Receive(WithTransform(
			func(t connectivity.Transition) bool { return t.Online }, BeTrue(),
		)))
	})

	It("Check runs an immediate probe without waiting for the next tick", func() {
		prober := func(context.Context) connectivity.Result { return connectivity.Result{IsOnline: true} }
		m := connectivity.NewMonitor(prober, time.Hour)
		res := m.Check(context.Background())
		Expect(res.IsOnline).To(BeTrue())
	})
})

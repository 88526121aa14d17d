package housekeep_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/housekeep"
)

func TestHousekeep(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "housekeep suite")
}

var _ = Describe("Housekeeper", func() {
	It("runs a registered job repeatedly on its interval", func() {
		hk := housekeep.New()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var runs int32
		hk.Reg("tick", func(context.Context) time.Duration {
			atomic.AddInt32(&runs, 1)
			return 10 * time.Millisecond
		}, 0)

		go hk.Run(ctx)

		Eventually(func() int32 { return atomic.LoadInt32(&runs) }, time.Second).Should(BeNumerically(">=", 3))
	})

	It("unregisters a job that returns a non-positive duration", func() {
		hk := housekeep.New()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var runs int32
		hk.Reg("once", func(context.Context) time.Duration {
			atomic.AddInt32(&runs, 1)
			return 0
		}, 0)

		go hk.Run(ctx)

		Eventually(func() int32 { return atomic.LoadInt32(&runs) }, time.Second).Should(Equal(int32(1)))
		Consistently(func() int32 { return atomic.LoadInt32(&runs) }, 100*time.Millisecond).Should(Equal(int32(1)))
	})
})

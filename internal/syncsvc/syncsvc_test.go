package syncsvc_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/config"
	"github.com/shipsync/offline-sync/internal/syncsvc"
)

func TestSyncSvc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "syncsvc suite")
}

var _ = Describe("Push", func() {
	It("skips without error when role is master (§4.10 step 1)", func() {
		cfg := config.Default()
		cfg.Mode = config.ModeMaster
		svc := syncsvc.New(cfg, nil, nil, nil)

		res, err := svc.Push(context.Background(), "ship-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Skipped).To(BeTrue())
	})
})

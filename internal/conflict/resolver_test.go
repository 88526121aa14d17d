package conflict_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/conflict"
	"github.com/shipsync/offline-sync/internal/model"
)

func TestConflict(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "conflict suite")
}

var _ = Describe("Resolver", func() {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	It("keeps master's later edit over an older replica message (§8 scenario 4)", func() {
		r := conflict.NewResolver(nil)
		cur := conflict.Current{Version: 2, OccurredAt: now.Add(time.Second), Snapshot: []byte(`{"title":"B"}`)}
		msg := model.SyncMessage{
			ShipID: "ship-a", BaseVersion: 1, OccurredAt: now,
			Payload: []byte(`{"title":"A"}`),
		}
		out := r.Resolve(context.Background(), cur, msg)
		Expect(out.Apply).To(BeFalse())
		Expect(out.Reason).To(Equal("older"))
	})

	It("is a pure function of its inputs (§8 determinism)", func() {
		r := conflict.NewResolver(nil)
		cur := conflict.Current{Version: 3, OccurredAt: now, Snapshot: []byte(`{}`)}
		msg := model.SyncMessage{ShipID: "ship-a", BaseVersion: 1, OccurredAt: now.Add(-time.Minute)}

		out1 := r.Resolve(context.Background(), cur, msg)
		out2 := r.Resolve(context.Background(), cur, msg)
		Expect(out1).To(Equal(out2))
	})

	It("does not detect a conflict when local version matches baseVersion", func() {
		Expect(conflict.Detect(conflict.Current{Version: 4}, model.SyncMessage{BaseVersion: 4})).To(BeFalse())
	})

	It("parks master-wins replica messages on conflict", func() {
		r := conflict.NewResolver(map[string]conflict.Strategy{"api::page.page": conflict.MasterWins})
		cur := conflict.Current{Version: 5, OccurredAt: now}
		msg := model.SyncMessage{ContentType: "api::page.page", ShipID: "ship-a", BaseVersion: 1, OccurredAt: now.Add(time.Hour)}
		out := r.Resolve(context.Background(), cur, msg)
		Expect(out.Apply).To(BeFalse())
		Expect(out.Reason).To(Equal("master-wins"))
	})

	It("breaks a ship-vs-master tie in master's favor (§4.6 lexicographic tie-break)", func() {
		r := conflict.NewResolver(nil)
		cur := conflict.Current{Version: 2, OccurredAt: now, ShipID: "", Snapshot: []byte(`{"title":"B"}`)}
		msg := model.SyncMessage{ShipID: "ship-a", BaseVersion: 1, OccurredAt: now, Payload: []byte(`{"title":"A"}`)}

		out := r.Resolve(context.Background(), cur, msg)
		Expect(out.Apply).To(BeFalse())
		Expect(out.Reason).To(Equal("older"))
	})

	It("breaks a ship-vs-ship tie by lexicographic shipId (§4.6)", func() {
		r := conflict.NewResolver(nil)

		// "ship-b" > "ship-a" lexicographically, so the incoming ship-b
		// message should win over a current state authored by ship-a.
		cur := conflict.Current{Version: 2, OccurredAt: now, ShipID: "ship-a", Snapshot: []byte(`{"title":"A"}`)}
		msg := model.SyncMessage{ShipID: "ship-b", BaseVersion: 1, OccurredAt: now, Payload: []byte(`{"title":"B"}`)}
		out := r.Resolve(context.Background(), cur, msg)
		Expect(out.Apply).To(BeTrue())
		Expect(out.Payload).To(MatchJSON(`{"title":"B"}`))

		// And the reverse: ship-a losing to an already-applied ship-b write.
		cur2 := conflict.Current{Version: 2, OccurredAt: now, ShipID: "ship-b", Snapshot: []byte(`{"title":"B"}`)}
		msg2 := model.SyncMessage{ShipID: "ship-a", BaseVersion: 1, OccurredAt: now, Payload: []byte(`{"title":"A"}`)}
		out2 := r.Resolve(context.Background(), cur2, msg2)
		Expect(out2.Apply).To(BeFalse())
		Expect(out2.Reason).To(Equal("older"))
	})

	It("opens a conflict record under the manual strategy", func() {
		r := conflict.NewResolver(map[string]conflict.Strategy{"api::page.page": conflict.Manual})
		cur := conflict.Current{Version: 5, OccurredAt: now}
		msg := model.SyncMessage{ContentType: "api::page.page", BaseVersion: 1}
		out := r.Resolve(context.Background(), cur, msg)
		Expect(out.Apply).To(BeFalse())
		Expect(out.Conflict).To(BeTrue())
	})
})

package store_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/store"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "store suite")
}

func newMockStore() (*store.Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	Expect(err).NotTo(HaveOccurred())
	db := sqlx.NewDb(sqlDB, "sqlmock")
	return store.Wrap(db), mock
}

var _ = Describe("Tracker", func() {
	It("collapses a duplicate MarkProcessed into a false return", func() {
		s, mock := newMockStore()
		mock.ExpectExec("INSERT INTO processed_messages").
			WithArgs("m1", "ship-a", "api::page.page", "d1", model.OpUpdate, model.ProcessedOK, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT collision -> 0 rows affected

		msg := model.SyncMessage{
			MessageID: "m1", ShipID: "ship-a", ContentType: "api::page.page",
			DocumentID: "d1", Operation: model.OpUpdate, OccurredAt: time.Now(),
		}
		first, err := s.Tracker.MarkProcessed(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(BeFalse())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports a fresh insert as true", func() {
		s, mock := newMockStore()
		mock.ExpectExec("INSERT INTO processed_messages").
			WillReturnResult(sqlmock.NewResult(1, 1))

		msg := model.SyncMessage{
			MessageID: "m2", ShipID: "ship-a", ContentType: "api::page.page",
			DocumentID: "d2", Operation: model.OpCreate, OccurredAt: time.Now(),
		}
		first, err := s.Tracker.MarkProcessed(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(BeTrue())
	})
})

var _ = Describe("IdentityMapper", func() {
	It("is idempotent: binding the same mapping twice leaves it unchanged", func() {
		s, mock := newMockStore()
		mock.ExpectExec("INSERT INTO identity_mappings").
			WithArgs("api::page.page", "d1", "local-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO identity_mappings").
			WithArgs("api::page.page", "d1", "local-1").
			WillReturnResult(sqlmock.NewResult(1, 0))

		ctx := context.Background()
		Expect(s.Identity.Bind(ctx, "api::page.page", "d1", "local-1")).To(Succeed())
		Expect(s.Identity.Bind(ctx, "api::page.page", "d1", "local-1")).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

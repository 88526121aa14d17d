package initialsync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/initialsync"
	"github.com/shipsync/offline-sync/internal/store"
)

func TestInitialSync(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "initialsync suite")
}

type fakePersister struct{ persisted int }

func (f *fakePersister) Persist(ctx context.Context, contentType string, item initialsync.ListItem) (string, error) {
	f.persisted++
	return "local-" + item.DocumentID, nil
}

var _ = Describe("Bootstrapper.Pull", func() {
	It("skips all writes and only counts in dryRun mode", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		st := store.Wrap(sqlx.NewDb(db, "sqlmock"))

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"documentId": "doc-1", "payload": map[string]any{}},
				},
				"hasMore": false,
			})
		}))
		defer srv.Close()

		persister := &fakePersister{}
		b := initialsync.NewBootstrapper(st, persister, nil)

		summary, err := b.Pull(context.Background(), initialsync.Input{
			MasterURL:    srv.URL,
			ContentTypes: []string{"api::page.page"},
			DryRun:       true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Types).To(HaveLen(1))
		Expect(summary.Types[0].Fetched).To(Equal(1))
		Expect(summary.Types[0].Bound).To(Equal(1)) // dryRun still "bound" in the count, no actual write
		Expect(persister.persisted).To(Equal(0))    // ...but Persist was never called
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("falls back to the configured content types when the request omits them (§6 contentTypes?)", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		st := store.Wrap(sqlx.NewDb(db, "sqlmock"))

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":   []map[string]any{{"documentId": "doc-1", "payload": map[string]any{}}},
				"hasMore": false,
			})
		}))
		defer srv.Close()

		persister := &fakePersister{}
		b := initialsync.NewBootstrapper(st, persister, []string{"api::page.page", "api::article.article"})

		summary, err := b.Pull(context.Background(), initialsync.Input{
			MasterURL: srv.URL,
			DryRun:    true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Types).To(HaveLen(2))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

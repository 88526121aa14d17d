package media_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shipsync/offline-sync/internal/media"
)

type fakeOrigin struct {
	objects []media.ObjectInfo
	data    map[string][]byte
	opens   int
}

func (f *fakeOrigin) List(context.Context) ([]media.ObjectInfo, error) { return f.objects, nil }
func (f *fakeOrigin) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.opens++
	return io.NopCloser(bytes.NewReader(f.data[key])), nil
}

func TestMedia(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "media suite")
}

var _ = Describe("Syncer", func() {
	var dir string
	BeforeEach(func() { dir = GinkgoT().TempDir() })

	It("downloads missing objects once and skips them when unchanged", func() {
		origin := &fakeOrigin{
			objects: []media.ObjectInfo{{Key: "a/b.jpg", Size: 5, ETag: "e1"}},
			data:    map[string][]byte{"a/b.jpg": []byte("hello")},
		}
		syncer := media.NewSyncer(origin, dir, 2)

		Expect(syncer.Run(context.Background())).To(Succeed())
		stats := syncer.Stats()
		Expect(stats.FilesDownloaded).To(Equal(1))
		Expect(stats.FilesSkipped).To(Equal(0))

		got, err := os.ReadFile(filepath.Join(dir, "a", "b.jpg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("hello"))

		Expect(syncer.Run(context.Background())).To(Succeed())
		stats = syncer.Stats()
		Expect(stats.FilesDownloaded).To(Equal(0))
		Expect(stats.FilesSkipped).To(Equal(1))
		Expect(origin.opens).To(Equal(1)) // second cycle never re-opened the object
	})
})

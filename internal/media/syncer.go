package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/logging"
)

// Stats is the §4.12 progress shape exposed via GET /media/stats.
type Stats struct {
	FilesDownloaded int       `json:"filesDownloaded"`
	FilesSkipped    int       `json:"filesSkipped"`
	FilesFailed     int       `json:"filesFailed"`
	TotalBytes      int64     `json:"totalBytes"`
	LastSyncAt      time.Time `json:"lastSyncAt"`
	IsRunning       bool      `json:"isRunning"`
	Error           string    `json:"error,omitempty"`
}

// Syncer mirrors an Origin into a local cache directory, read-through
// fashion: local is always disposable and rebuildable from the origin.
type Syncer struct {
	origin      Origin
	cacheDir    string
	concurrency int

	mu    sync.Mutex
	stats Stats
}

func NewSyncer(origin Origin, cacheDir string, concurrency int) *Syncer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Syncer{origin: origin, cacheDir: cacheDir, concurrency: concurrency}
}

func (s *Syncer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run executes one mirror cycle: list, etag-compare, stream-copy-if-changed
// (§4.12's algorithm). A failed transfer is left for the next cycle; it is
// not retried within the same cycle.
func (s *Syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.stats.IsRunning = true
	s.stats.Error = ""
	s.mu.Unlock()

	var downloaded, skipped, failed int
	var totalBytes int64
	runErr := s.run(ctx, &downloaded, &skipped, &failed, &totalBytes)

	s.mu.Lock()
	s.stats.IsRunning = false
	s.stats.FilesDownloaded = downloaded
	s.stats.FilesSkipped = skipped
	s.stats.FilesFailed = failed
	s.stats.TotalBytes = totalBytes
	s.stats.LastSyncAt = time.Now().UTC()
	if runErr != nil {
		s.stats.Error = runErr.Error()
	}
	s.mu.Unlock()

	return runErr
}

func (s *Syncer) run(ctx context.Context, downloaded, skipped, failed *int, totalBytes *int64) error {
	objects, err := s.origin.List(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return errs.HostApply("creating media cache dir", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			changed, size, err := s.syncOne(gctx, obj)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				*failed++
				logging.Warnf("media: syncing %s failed: %v", obj.Key, err)
			case changed:
				*downloaded++
				*totalBytes += size
			default:
				*skipped++
			}
			return nil // a single object's failure doesn't abort the cycle
		})
	}
	return g.Wait()
}

// syncOne compares the origin object against its local copy by (size, etag)
// and streams a fresh copy to a .tmp file, renamed into place on success, if
// missing or changed (§4.12).
func (s *Syncer) syncOne(ctx context.Context, obj ObjectInfo) (changed bool, size int64, err error) {
	dest := filepath.Join(s.cacheDir, filepath.FromSlash(obj.Key))
	meta := dest + ".etag"

	if existingETag, err := os.ReadFile(meta); err == nil {
		if string(existingETag) == obj.ETag {
			if fi, statErr := os.Stat(dest); statErr == nil && fi.Size() == obj.Size {
				return false, 0, nil
			}
		}
	}

	r, err := s.origin.Open(ctx, obj.Key)
	if err != nil {
		return false, 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, 0, errs.HostApply("creating media cache subdir", err)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return false, 0, errs.HostApply("creating tmp media file", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return false, 0, errs.Transient("streaming media object "+obj.Key, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return false, 0, errs.HostApply("renaming tmp media file", err)
	}
	_ = os.WriteFile(meta, []byte(obj.ETag), 0o644)

	return true, n, nil
}

// SweepOrphanTmp removes .tmp files left behind by a crashed transfer,
// invoked periodically by the housekeeper (C16).
func (s *Syncer) SweepOrphanTmp(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var removed int
	err := filepath.Walk(s.cacheDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" && info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Package initialsync implements C12: the one-shot HTTP pull a replica runs
// once to seed its local store from the master before joining ongoing sync.
package initialsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/logging"
	"github.com/shipsync/offline-sync/internal/store"
)

const pageSize = 100

// Input is the §6 POST /initial-sync/pull request body.
type Input struct {
	MasterURL      string   `json:"masterUrl"`
	MasterAPIToken string   `json:"masterApiToken,omitempty"`
	ContentTypes   []string `json:"contentTypes,omitempty"`
	DryRun         bool     `json:"dryRun,omitempty"`
}

// ListItem is one document returned by the master's paginated list endpoint.
type ListItem struct {
	DocumentID string          `json:"documentId"`
	LocalID    string          `json:"localId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type listPage struct {
	Items   []ListItem `json:"items"`
	HasMore bool       `json:"hasMore"`
}

// Persister writes the final local copy for one document, returning the
// localId it was stored under (host-specific; aistore's own content types
// have no analogue, so this is left to the embedding application).
type Persister interface {
	Persist(ctx context.Context, contentType string, item ListItem) (localID string, err error)
}

// TypeCount is a per-content-type tally in the pull Summary.
type TypeCount struct {
	ContentType string `json:"contentType"`
	Fetched     int    `json:"fetched"`
	Bound       int    `json:"bound"`
	Failed      int    `json:"failed"`
}

// Summary is the §6 result shape for an initial-sync run.
type Summary struct {
	DryRun    bool        `json:"dryRun"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   time.Time   `json:"endedAt"`
	Types     []TypeCount `json:"types"`
}

// Bootstrapper drives C12's one-shot pull.
type Bootstrapper struct {
	store      *store.Store
	persister  Persister
	httpClient *http.Client

	// defaultContentTypes is used when a Pull's Input omits ContentTypes
	// (§6 "contentTypes?" is optional on POST /initial-sync/pull): it falls
	// back to the process's own subscribed content types.
	defaultContentTypes []string

	mu      sync.Mutex
	running bool
	last    *Summary
}

func NewBootstrapper(st *store.Store, persister Persister, defaultContentTypes []string) *Bootstrapper {
	return &Bootstrapper{
		store:               st,
		persister:           persister,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
		defaultContentTypes: defaultContentTypes,
	}
}

// Status reports whether a pull is currently running and the last Summary,
// backing GET /initial-sync/status.
func (b *Bootstrapper) Status() (running bool, last *Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running, b.last
}

// Pull runs the one-shot import described in §4.11. It paginates the
// master's list endpoint per content type, idempotently binds each document
// (bind is safe to call repeatedly — §8 "idempotent bind"), and persists a
// local copy, unless DryRun is set in which case no writes occur and only
// counts are reported. The run is resumable: re-invoking it is always safe
// because bind is idempotent and Persist is expected to upsert.
func (b *Bootstrapper) Pull(ctx context.Context, in Input) (Summary, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return Summary{}, errs.Config("starting initial sync", fmt.Errorf("a pull is already running"))
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	contentTypes := in.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = b.defaultContentTypes
	}

	summary := Summary{DryRun: in.DryRun, StartedAt: time.Now().UTC()}
	for _, ct := range contentTypes {
		tc := TypeCount{ContentType: ct}
		if err := b.pullType(ctx, in, ct, &tc); err != nil {
			return summary, err
		}
		summary.Types = append(summary.Types, tc)
	}
	summary.EndedAt = time.Now().UTC()

	b.mu.Lock()
	last := summary
	b.last = &last
	b.mu.Unlock()

	return summary, nil
}

func (b *Bootstrapper) pullType(ctx context.Context, in Input, contentType string, tc *TypeCount) error {
	page := 1
	for {
		items, hasMore, err := b.fetchPage(ctx, in, contentType, page)
		if err != nil {
			return err
		}
		tc.Fetched += len(items)

		for _, item := range items {
			if err := b.applyItem(ctx, in, contentType, item); err != nil {
				tc.Failed++
				logging.Warnf("initialsync: %s/%s failed: %v", contentType, item.DocumentID, err)
				continue
			}
			tc.Bound++
		}

		if !hasMore {
			return nil
		}
		page++
	}
}

func (b *Bootstrapper) applyItem(ctx context.Context, in Input, contentType string, item ListItem) error {
	if in.DryRun {
		return nil
	}
	localID, err := b.persister.Persist(ctx, contentType, item)
	if err != nil {
		return err
	}
	return b.store.Identity.Bind(ctx, contentType, item.DocumentID, localID)
}

func (b *Bootstrapper) fetchPage(ctx context.Context, in Input, contentType string, page int) ([]ListItem, bool, error) {
	u, err := url.Parse(in.MasterURL)
	if err != nil {
		return nil, false, errs.Config("parsing masterUrl", err)
	}
	u.Path = u.Path + "/initial-sync/export"
	q := u.Query()
	q.Set("type", contentType)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, errs.Config("building export request", err)
	}
	if in.MasterAPIToken != "" {
		req.Header.Set("Authorization", "Bearer "+in.MasterAPIToken)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, false, errs.Transient("fetching export page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, errs.Transient("export page status", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out listPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, errs.Schema("decoding export page", err)
	}
	return out.Items, out.HasMore, nil
}

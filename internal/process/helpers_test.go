package process

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/database"
	"reddot-watch/rssfetcher/internal/models"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeSource struct {
	mu      sync.Mutex
	doc     *config.Document
	err     error
	changed bool
}

func (s *fakeSource) Load() (*config.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = false
	return s.doc, s.err
}

func (s *fakeSource) Changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *fakeSource) Publish(doc *config.Document, err error) {
	s.mu.Lock()
	s.doc, s.err, s.changed = doc, err, true
	s.mu.Unlock()
}

// fakeFetcher returns one fresh item per call unless the feed is set up
// to fail or panic.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	seq    int
	errs   map[string]error
	panics map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, spec config.FeedSpec) ([]models.ItemRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec.FeedID)
	f.seq++
	seq := f.seq
	err := f.errs[spec.FeedID]
	boom := f.panics[spec.FeedID]
	f.mu.Unlock()

	if boom {
		panic("parser exploded")
	}
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("item-%d", seq)
	return []models.ItemRecord{{FeedID: spec.FeedID, ItemID: id, Title: models.StringPtr(id), Raw: "<item/>"}}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func feed(id string, interval int) config.FeedSpec {
	return config.FeedSpec{
		FeedID:          id,
		URL:             "http://example.com/" + id,
		Enabled:         true,
		IntervalMinutes: interval,
		Parser:          config.ParserRaw,
	}
}

func document(specs ...config.FeedSpec) *config.Document {
	return &config.Document{
		Storage: config.Storage{Driver: config.DriverSQLite, Path: "rss.sqlite3"},
		Feeds:   config.NewFeedSpecSet(specs...),
	}
}

func openStore(t *testing.T) *database.Switch {
	t.Helper()
	sw, err := database.OpenSwitch(database.NewConfig(config.DriverSQLite, filepath.Join(t.TempDir(), "rss.sqlite3")))
	require.NoError(t, err)
	t.Cleanup(func() { sw.Close() })
	return sw
}

func storeCount(t *testing.T, store *database.Switch) int64 {
	t.Helper()
	var n int64
	require.NoError(t, store.Use(func(db *database.DB) error {
		var err error
		n, err = db.Count(context.Background())
		return err
	}))
	return n
}

// drain pops every queued job and marks it done.
func drain(q *Queue) []Job {
	var jobs []Job
	for {
		job, ok := q.TryGet(10 * time.Millisecond)
		if !ok {
			return jobs
		}
		jobs = append(jobs, job)
		q.Done(1)
	}
}

func feedIDs(jobs []Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.FeedID)
	}
	return ids
}

// staticFetcher always returns the same two items.
type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, spec config.FeedSpec) ([]models.ItemRecord, error) {
	return []models.ItemRecord{
		{FeedID: spec.FeedID, ItemID: "1", Raw: "<item/>"},
		{FeedID: spec.FeedID, ItemID: "2", Raw: "<item/>"},
	}, nil
}

// blockingFetcher blocks until release is closed or ctx is done.
type blockingFetcher chan struct{}

func (f blockingFetcher) Fetch(ctx context.Context, _ config.FeedSpec) ([]models.ItemRecord, error) {
	select {
	case <-f:
	case <-ctx.Done():
	}
	return nil, ctx.Err()
}

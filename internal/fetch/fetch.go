// Package fetch downloads feeds and turns their items into records for
// the store.
package fetch

import (
	"context"
	"time"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/models"
)

// Timeouts applied to every feed request.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultReadTimeout = 60 * time.Second
	DefaultUserAgent   = "rssfetcher/1.0"
)

// Fetcher fetches the items of one feed.
type Fetcher interface {
	Fetch(ctx context.Context, spec config.FeedSpec) ([]models.ItemRecord, error)
}

// Multi dispatches each feed to the fetcher of its configured parser.
type Multi struct {
	Raw        Fetcher
	Normalized Fetcher
}

// NewMulti returns the default fetcher set.
func NewMulti() *Multi {
	return &Multi{
		Raw:        NewHTTPFetcher(HTTPConfig{}),
		Normalized: NewNormalizedFetcher(DefaultUserAgent),
	}
}

// Fetch implements Fetcher.
func (m *Multi) Fetch(ctx context.Context, spec config.FeedSpec) ([]models.ItemRecord, error) {
	if spec.Parser == config.ParserNormalized && m.Normalized != nil {
		return m.Normalized.Fetch(ctx, spec)
	}
	return m.Raw.Fetch(ctx, spec)
}

// skip reports whether spec must not be fetched at all.
func skip(spec config.FeedSpec) bool {
	return spec.URL == "" || !spec.Enabled
}

package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/reddot-watch/feedfetcher"
	"github.com/rs/zerolog/log"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/models"
)

// NormalizedFetcher fetches feeds through feedfetcher, which filters out
// stale and future-dated items and trims headings. Items are keyed by
// their URL. Proxies are not supported.
type NormalizedFetcher struct {
	fetcher *feedfetcher.FeedFetcher
}

// NewNormalizedFetcher creates a normalized fetcher.
func NewNormalizedFetcher(userAgent string) *NormalizedFetcher {
	return &NormalizedFetcher{
		fetcher: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent:            userAgent,
			RequestTimeout:       DefaultDialTimeout + DefaultReadTimeout,
			MaxItems:             100,
			MaxHeadingLength:     200,
			MaxAge:               48 * time.Hour,
			FutureDriftTolerance: 12 * time.Hour,
		}),
	}
}

// Fetch implements Fetcher.
func (f *NormalizedFetcher) Fetch(ctx context.Context, spec config.FeedSpec) ([]models.ItemRecord, error) {
	if skip(spec) {
		return nil, nil
	}
	if spec.Proxy != "" || len(spec.Proxies) > 0 {
		log.Warn().Str("feed_id", spec.FeedID).Msg("Normalized parser ignores proxy settings")
	}

	items, err := f.fetcher.FetchAndProcess(ctx, spec.URL)
	if err != nil {
		return nil, fmt.Errorf("normalized fetch failed: %w", err)
	}

	records := make([]models.ItemRecord, 0, len(items))
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		pubDate := ""
		if !item.PublishedAt.IsZero() {
			pubDate = item.PublishedAt.UTC().Format(time.RFC1123Z)
		}
		records = append(records, models.ItemRecord{
			FeedID: spec.FeedID,
			ItemID: item.URL,
			Title:  models.StringPtr(item.Headline),
			Raw: renderItem(rendered{
				GUID:        item.URL,
				Title:       item.Headline,
				Link:        item.URL,
				Description: item.Content,
				PubDate:     pubDate,
			}),
		})
	}
	log.Info().Str("feed_id", spec.FeedID).Int("items", len(records)).Msg("Feed fetched (normalized)")
	return records, nil
}

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/models"
)

const maxBodyBytes = 32 << 20

// HTTPConfig configures an HTTPFetcher. Zero values use the defaults.
type HTTPConfig struct {
	UserAgent   string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// HTTPFetcher downloads a feed over HTTP, parses it with gofeed and keeps
// the raw XML of every item.
type HTTPFetcher struct {
	cfg HTTPConfig

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy configuration
}

// NewHTTPFetcher creates a fetcher with the given settings.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &HTTPFetcher{cfg: cfg, clients: make(map[string]*http.Client)}
}

// Fetch implements Fetcher. Feeds without a URL and disabled feeds
// yield no records.
func (f *HTTPFetcher) Fetch(ctx context.Context, spec config.FeedSpec) ([]models.ItemRecord, error) {
	if skip(spec) {
		return nil, nil
	}
	logger := log.With().Str("feed_id", spec.FeedID).Str("url", spec.URL).Logger()

	proxies := proxiesFor(spec)
	if len(proxies) > 0 {
		logger.Info().Interface("proxies", proxies).Msg("Using proxies")
	}
	client, err := f.client(proxies)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid feed: %w", err)
	}

	records := toRecords(spec.FeedID, feed, body)
	logger.Info().Int("items", len(records)).Msg("Feed fetched")
	return records, nil
}

func (f *HTTPFetcher) client(proxies map[string]string) (*http.Client, error) {
	key := proxyKey(proxies)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	proxy, err := proxyFunc(proxies)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           (&net.Dialer{Timeout: f.cfg.DialTimeout}).DialContext,
		TLSHandshakeTimeout:   f.cfg.DialTimeout,
		ResponseHeaderTimeout: f.cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   2,
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   f.cfg.DialTimeout + f.cfg.ReadTimeout,
	}
	f.clients[key] = c
	return c, nil
}

// toRecords converts parsed items. Raw item elements are taken from the
// body when they line up with the parsed items, otherwise rendered.
func toRecords(feedID string, feed *gofeed.Feed, body []byte) []models.ItemRecord {
	var raws []string
	if feed.FeedType == "rss" || feed.FeedType == "atom" {
		raws = rawElements(body)
		if len(raws) != len(feed.Items) {
			log.Debug().
				Str("feed_id", feedID).
				Int("raw", len(raws)).
				Int("parsed", len(feed.Items)).
				Msg("Raw items do not line up with parsed items, rendering instead")
			raws = nil
		}
	}

	records := make([]models.ItemRecord, 0, len(feed.Items))
	for i, item := range feed.Items {
		itemID := item.GUID
		if itemID == "" {
			itemID = item.Title
		}
		if itemID == "" {
			log.Debug().Str("feed_id", feedID).Int("index", i).Msg("Dropping item without guid or title")
			continue
		}

		raw := ""
		if raws != nil {
			raw = raws[i]
		} else {
			raw = renderItem(rendered{
				GUID:        item.GUID,
				Title:       item.Title,
				Link:        item.Link,
				Description: item.Description,
				PubDate:     item.Published,
			})
		}

		records = append(records, models.ItemRecord{
			FeedID: feedID,
			ItemID: itemID,
			Title:  models.StringPtr(item.Title),
			Raw:    raw,
		})
	}
	return records
}

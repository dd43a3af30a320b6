package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("DefaultSectionMergedUnderFeeds", func(t *testing.T) {
		doc, err := Parse([]byte(`
database: data/rss.db
default:
  interval: 30
  proxy: 127.0.0.1:8080
options:
  kept_count: 500
feeds:
  hn:
    url: https://news.ycombinator.com/rss
  lobsters:
    url: https://lobste.rs/rss
    interval: 3
    proxy: ""
  quiet:
    url: https://example.com/feed
    enable: false
    proxies:
      https: http://proxy:3128
`))
		require.NoError(t, err)

		assert.Equal(t, Storage{Driver: DriverSQLite3, Path: "data/rss.db"}, doc.Storage)
		kept, enforced := doc.Retention.Enforced()
		assert.True(t, enforced)
		assert.Equal(t, 500, kept)

		assert.Equal(t, []string{"hn", "lobsters", "quiet"}, doc.Feeds.IDs())

		hn, ok := doc.Feeds.Get("hn")
		require.True(t, ok)
		assert.Equal(t, FeedSpec{
			FeedID:          "hn",
			URL:             "https://news.ycombinator.com/rss",
			Enabled:         true,
			IntervalMinutes: 30,
			Proxy:           "127.0.0.1:8080",
			Parser:          ParserRaw,
		}, hn)

		lobsters, _ := doc.Feeds.Get("lobsters")
		assert.Equal(t, 3, lobsters.IntervalMinutes)
		assert.Empty(t, lobsters.Proxy)

		quiet, _ := doc.Feeds.Get("quiet")
		assert.False(t, quiet.Enabled)
		assert.Equal(t, map[string]string{"https": "http://proxy:3128"}, quiet.Proxies)
	})

	t.Run("Defaults", func(t *testing.T) {
		doc, err := Parse([]byte(`feeds: {a: {url: "http://a"}}`))
		require.NoError(t, err)

		assert.Equal(t, DefaultDBPath, doc.Storage.Path)
		_, enforced := doc.Retention.Enforced()
		assert.False(t, enforced)

		a, _ := doc.Feeds.Get("a")
		assert.Equal(t, DefaultIntervalMinutes, a.IntervalMinutes)
		assert.True(t, a.Enabled)
	})

	t.Run("EmptyDocument", func(t *testing.T) {
		doc, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, doc.Feeds.Len())
	})

	t.Run("RetentionBelowFloorIsDisabled", func(t *testing.T) {
		doc, err := Parse([]byte("options:\n  kept_count: 5\n"))
		require.NoError(t, err)
		_, enforced := doc.Retention.Enforced()
		assert.False(t, enforced)
	})

	t.Run("NonIntegerRetentionIsDisabled", func(t *testing.T) {
		for _, value := range []string{`"100"`, "100.5", "[1]"} {
			doc, err := Parse([]byte("options:\n  kept_count: " + value + "\n"))
			require.NoError(t, err, value)
			_, enforced := doc.Retention.Enforced()
			assert.False(t, enforced, value)
		}
	})

	t.Run("HugeIntervalIsClamped", func(t *testing.T) {
		doc, err := Parse([]byte(`feeds: {a: {url: "http://a", interval: 9223372036854775807}}`))
		require.NoError(t, err)
		a, _ := doc.Feeds.Get("a")
		assert.Equal(t, MaxIntervalMinutes, a.IntervalMinutes)
	})

	t.Run("InvalidCron", func(t *testing.T) {
		_, err := Parse([]byte(`feeds: {a: {url: "http://a", cron: "every day"}}`))
		assert.ErrorContains(t, err, "invalid cron expression")
	})

	t.Run("UnknownParser", func(t *testing.T) {
		_, err := Parse([]byte(`feeds: {a: {url: "http://a", parser: html}}`))
		assert.ErrorContains(t, err, "unknown parser")
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		_, err := Parse([]byte("driver: postgres\n"))
		assert.ErrorContains(t, err, "unsupported driver")
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		_, err := Parse([]byte("feeds: [a, b"))
		assert.Error(t, err)
	})
}

func TestFeedSpecEqual(t *testing.T) {
	base := FeedSpec{FeedID: "f", URL: "http://f", Enabled: true, IntervalMinutes: 15,
		Proxies: map[string]string{"http": "p"}}

	same := base
	same.Proxies = map[string]string{"http": "p"}
	assert.True(t, base.Equal(same))

	changed := base
	changed.IntervalMinutes = 20
	assert.False(t, base.Equal(changed))

	changedProxy := base
	changedProxy.Proxies = map[string]string{"http": "q"}
	assert.False(t, base.Equal(changedProxy))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rssfetcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`feeds: {a: {url: "http://a"}}`), 0o644))

	src := NewFileSource(path)
	assert.True(t, src.Changed())

	doc, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Feeds.Len())
	assert.False(t, src.Changed())

	require.NoError(t, os.WriteFile(path, []byte(`feeds: {a: {url: "http://a"}, b: {url: "http://b"}}`), 0o644))
	assert.True(t, src.Changed())
	doc, err = src.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Feeds.Len())

	require.NoError(t, os.WriteFile(path, []byte("feeds: [broken"), 0o644))
	assert.True(t, src.Changed())
	_, err = src.Load()
	assert.Error(t, err)
	assert.False(t, src.Changed(), "a broken file is reported once")

	require.NoError(t, os.Remove(path))
	assert.True(t, src.Changed())
	_, err = src.Load()
	assert.Error(t, err)
}

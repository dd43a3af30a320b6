package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/models"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example</title>
  <item><guid>g1</guid><title>First</title><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
  <item><title>Second</title><description>no guid</description></item>
  <item><description>neither guid nor title</description></item>
</channel>
</rss>`

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example</title>
  <entry><id>urn:1</id><title>One</title><updated>2024-01-01T00:00:00Z</updated></entry>
</feed>`

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func spec(url string) config.FeedSpec {
	return config.FeedSpec{FeedID: "feed", URL: url, Enabled: true, IntervalMinutes: 15, Parser: config.ParserRaw}
}

func TestHTTPFetcherRSS(t *testing.T) {
	srv := serve(t, http.StatusOK, rssBody)

	records, err := NewHTTPFetcher(HTTPConfig{}).Fetch(context.Background(), spec(srv.URL))
	require.NoError(t, err)
	require.Len(t, records, 2, "items without guid and title are dropped")

	assert.Equal(t, "feed", records[0].FeedID)
	assert.Equal(t, "g1", records[0].ItemID)
	assert.Equal(t, "First", *records[0].Title)
	assert.Equal(t, `<item><guid>g1</guid><title>First</title><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>`, records[0].Raw)

	assert.Equal(t, "Second", records[1].ItemID, "title is the fallback identity")
	assert.Equal(t, `<item><title>Second</title><description>no guid</description></item>`, records[1].Raw)
}

func TestHTTPFetcherAtom(t *testing.T) {
	srv := serve(t, http.StatusOK, atomBody)

	records, err := NewHTTPFetcher(HTTPConfig{}).Fetch(context.Background(), spec(srv.URL))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "urn:1", records[0].ItemID)
	assert.True(t, strings.HasPrefix(records[0].Raw, "<entry>"))
	assert.True(t, strings.HasSuffix(records[0].Raw, "</entry>"))
}

func TestHTTPFetcherFailures(t *testing.T) {
	f := NewHTTPFetcher(HTTPConfig{})

	t.Run("HTTPStatus", func(t *testing.T) {
		srv := serve(t, http.StatusInternalServerError, rssBody)
		records, err := f.Fetch(context.Background(), spec(srv.URL))
		assert.ErrorContains(t, err, "unexpected HTTP status 500")
		assert.Empty(t, records)
	})

	t.Run("InvalidXML", func(t *testing.T) {
		srv := serve(t, http.StatusOK, "this is not a feed {")
		_, err := f.Fetch(context.Background(), spec(srv.URL))
		assert.Error(t, err)
	})

	t.Run("ConnectionRefused", func(t *testing.T) {
		srv := serve(t, http.StatusOK, rssBody)
		url := srv.URL
		srv.Close()
		records, err := f.Fetch(context.Background(), spec(url))
		assert.Error(t, err)
		assert.Empty(t, records)
	})
}

func TestHTTPFetcherSkips(t *testing.T) {
	f := NewHTTPFetcher(HTTPConfig{})

	records, err := f.Fetch(context.Background(), config.FeedSpec{FeedID: "nourl", Enabled: true})
	assert.NoError(t, err)
	assert.Empty(t, records)

	disabled := spec("http://127.0.0.1:1")
	disabled.Enabled = false
	records, err = f.Fetch(context.Background(), disabled)
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func TestRawElementsFallsBackOnMismatch(t *testing.T) {
	assert.Nil(t, rawElements([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><rss><item/></rss>`)))
	assert.Equal(t, []string{"<item>a</item>", "<item/>"}, rawElements([]byte(`<rss><item>a</item> <item/></rss>`)))
}

func TestProxiesFor(t *testing.T) {
	tests := []struct {
		name string
		spec config.FeedSpec
		want map[string]string
	}{
		{"None", config.FeedSpec{URL: "https://a"}, nil},
		{"SchemeFromFeed", config.FeedSpec{URL: "https://a", Proxy: "127.0.0.1:8080"},
			map[string]string{"https": "https://127.0.0.1:8080"}},
		{"DefaultScheme", config.FeedSpec{URL: "a/b", Proxy: "127.0.0.1:8080"},
			map[string]string{"http": "http://127.0.0.1:8080"}},
		{"ExplicitScheme", config.FeedSpec{URL: "https://a", Proxy: "socks5://127.0.0.1:1080"},
			map[string]string{"socks5": "socks5://127.0.0.1:1080"}},
		{"ProxiesWin", config.FeedSpec{URL: "https://a", Proxy: "ignored:1", Proxies: map[string]string{"all": "http://p:3128"}},
			map[string]string{"all": "http://p:3128"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, proxiesFor(tt.spec))
		})
	}
}

func TestProxyFunc(t *testing.T) {
	fn, err := proxyFunc(map[string]string{"https": "http://secure:1", "all": "http://any:2"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/feed", nil)
	u, err := fn(req)
	require.NoError(t, err)
	assert.Equal(t, "secure:1", u.Host)

	req = httptest.NewRequest(http.MethodGet, "http://example.com/feed", nil)
	u, err = fn(req)
	require.NoError(t, err)
	assert.Equal(t, "any:2", u.Host)
}

type stubFetcher struct{ name string }

func (s stubFetcher) Fetch(context.Context, config.FeedSpec) ([]models.ItemRecord, error) {
	return []models.ItemRecord{{ItemID: s.name}}, nil
}

func TestMultiDispatchesByParser(t *testing.T) {
	m := &Multi{Raw: stubFetcher{"raw"}, Normalized: stubFetcher{"normalized"}}

	records, _ := m.Fetch(context.Background(), config.FeedSpec{Parser: config.ParserNormalized})
	assert.Equal(t, "normalized", records[0].ItemID)

	records, _ = m.Fetch(context.Background(), config.FeedSpec{Parser: config.ParserRaw})
	assert.Equal(t, "raw", records[0].ItemID)
}

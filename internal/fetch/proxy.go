package fetch

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"reddot-watch/rssfetcher/internal/config"
)

// proxiesFor returns the scheme to proxy URL mapping for spec. An explicit
// proxies map wins over the single proxy value. A proxy without a scheme
// takes the scheme of the feed URL and applies to that scheme only.
func proxiesFor(spec config.FeedSpec) map[string]string {
	if spec.Proxies != nil {
		return spec.Proxies
	}
	if spec.Proxy == "" {
		return nil
	}

	proxy := spec.Proxy
	scheme, _, found := strings.Cut(proxy, "://")
	if !found {
		scheme = "http"
		if u, err := url.Parse(spec.URL); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		proxy = scheme + "://" + proxy
	}
	return map[string]string{scheme: proxy}
}

// proxyFunc builds an http.Transport proxy selector. The "all" key
// matches any request scheme.
func proxyFunc(proxies map[string]string) (func(*http.Request) (*url.URL, error), error) {
	if len(proxies) == 0 {
		return nil, nil
	}
	parsed := make(map[string]*url.URL, len(proxies))
	for scheme, raw := range proxies {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
		}
		parsed[scheme] = u
	}
	return func(req *http.Request) (*url.URL, error) {
		if u, ok := parsed[req.URL.Scheme]; ok {
			return u, nil
		}
		return parsed["all"], nil
	}, nil
}

// proxyKey renders proxies deterministically for client caching.
func proxyKey(proxies map[string]string) string {
	keys := make([]string, 0, len(proxies))
	for k := range proxies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(proxies[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

package importfeeds

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"reddot-watch/rssfetcher/internal/config"
)

const downloadTimeout = 30 * time.Second

// Row is one feed read from the CSV file.
type Row struct {
	ID       string
	URL      string
	Interval *int
	Enable   *bool
	Proxy    string
}

// Summary reports the outcome of an import.
type Summary struct {
	Total   int
	Added   int
	Skipped int
	Errors  []string
}

// Importer merges feeds from a CSV file into the YAML configuration.
// Existing sections are never modified; rows whose id or url already
// appear in the document are skipped.
type Importer struct {
	configPath string
	client     *http.Client
}

// NewImporter creates an importer writing to configPath.
func NewImporter(configPath string) *Importer {
	return &Importer{
		configPath: configPath,
		client:     &http.Client{Timeout: downloadTimeout},
	}
}

// ImportFeeds reads source, a local path or an http(s) URL, and merges
// its rows into the configuration file.
func (i *Importer) ImportFeeds(ctx context.Context, source string) (Summary, error) {
	log.Info().Str("csv", source).Str("config", i.configPath).Msg("Starting feed import")

	data, err := i.getCSVData(ctx, source)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get CSV data: %w", err)
	}

	rows, summary, err := parseRows(bytes.NewReader(data))
	if err != nil {
		return summary, fmt.Errorf("failed to parse CSV: %w", err)
	}

	if err := i.merge(rows, &summary); err != nil {
		return summary, fmt.Errorf("failed to import feeds: %w", err)
	}

	log.Info().
		Int("total", summary.Total).
		Int("added", summary.Added).
		Int("skipped", summary.Skipped).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}

func (i *Importer) getCSVData(ctx context.Context, source string) ([]byte, error) {
	if _, err := os.Stat(source); err == nil {
		log.Info().Str("path", source).Msg("Using local CSV file")
		return os.ReadFile(source)
	}

	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("CSV file not found: %s", source)
	}

	log.Info().Str("url", source).Msg("Downloading CSV file")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("bytes", len(body)).Msg("Downloaded CSV file")
	return body, nil
}

func parseRows(r io.Reader) ([]Row, Summary, error) {
	var summary Summary

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, summary, err
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	urlIdx := findColumnIndex(header, "url")
	if urlIdx < 0 {
		return nil, summary, errors.New("required column 'url' not found in CSV header")
	}
	idIdx := findColumnIndex(header, "id")
	intervalIdx := findColumnIndex(header, "interval")
	enableIdx := findColumnIndex(header, "enable")
	statusIdx := findColumnIndex(header, "status")
	proxyIdx := findColumnIndex(header, "proxy")

	var rows []Row
	line := 1 // Header was already read
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if blank(record) {
			continue
		}
		summary.Total++

		row := Row{
			ID:    safeGetValue(record, idIdx),
			URL:   safeGetValue(record, urlIdx),
			Proxy: safeGetValue(record, proxyIdx),
		}
		if row.URL == "" {
			log.Warn().Int("line", line).Msg("Skipping row with empty URL")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: empty URL", line))
			continue
		}
		if s := safeGetValue(record, intervalIdx); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: invalid interval %q", line, s))
				continue
			}
			row.Interval = &n
		}
		if s := safeGetValue(record, enableIdx); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: invalid enable %q", line, s))
				continue
			}
			row.Enable = &b
		} else if s := safeGetValue(record, statusIdx); s != "" {
			b := strings.EqualFold(s, "active")
			row.Enable = &b
		}
		rows = append(rows, row)
	}
	return rows, summary, nil
}

// merge appends rows to the feeds mapping of the configuration file,
// creating the file when it does not exist.
func (i *Importer) merge(rows []Row, summary *Summary) error {
	root, err := i.readDocument()
	if err != nil {
		return err
	}
	feeds := mappingValue(root, "feeds")
	if feeds.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: 'feeds' must be a mapping", i.configPath)
	}

	ids := map[string]bool{}
	urls := map[string]bool{}
	for k := 0; k+1 < len(feeds.Content); k += 2 {
		ids[feeds.Content[k].Value] = true
		if u := lookup(feeds.Content[k+1], "url"); u != nil && u.Value != "" {
			urls[u.Value] = true
		}
	}

	for _, row := range rows {
		if urls[row.URL] || (row.ID != "" && ids[row.ID]) {
			log.Debug().Str("url", row.URL).Msg("Feed already configured")
			summary.Skipped++
			continue
		}
		id := row.ID
		if id == "" {
			id = uniqueID(slug(row.URL), ids)
		}
		ids[id] = true
		urls[row.URL] = true

		feeds.Content = append(feeds.Content, scalar(id), sectionNode(row))
		summary.Added++
		log.Debug().Str("feed_id", id).Str("url", row.URL).Msg("Feed added")
	}

	if summary.Added == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if _, err := config.Parse(buf.Bytes()); err != nil {
		return fmt.Errorf("merged configuration is invalid: %w", err)
	}
	return writeFileAtomic(i.configPath, buf.Bytes())
}

// readDocument returns the mapping node at the root of the file, or a
// fresh one when the file does not exist or is empty.
func (i *Importer) readDocument() (*yaml.Node, error) {
	data, err := os.ReadFile(i.configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", i.configPath, err)
		}
	}
	if doc.Kind == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: top level must be a mapping", i.configPath)
	}
	return doc.Content[0], nil
}

// lookup returns the value node of key in m, or nil.
func lookup(m *yaml.Node, key string) *yaml.Node {
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for k := 0; k+1 < len(m.Content); k += 2 {
		if m.Content[k].Value == key {
			return m.Content[k+1]
		}
	}
	return nil
}

// mappingValue returns the value node of key in m, adding an empty
// mapping when the key is missing.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if v := lookup(m, key); v != nil {
		if v.Kind == yaml.ScalarNode && v.ShortTag() == "!!null" {
			*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		return v
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, scalar(key), v)
	return v
}

func sectionNode(row Row) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	n.Content = append(n.Content, scalar("url"), scalar(row.URL))
	if row.Enable != nil {
		n.Content = append(n.Content, scalar("enable"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(*row.Enable)})
	}
	if row.Interval != nil {
		n.Content = append(n.Content, scalar("interval"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(*row.Interval)})
	}
	if row.Proxy != "" {
		n.Content = append(n.Content, scalar("proxy"), scalar(row.Proxy))
	}
	return n
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// slug derives a feed id from the host and path of a URL.
func slug(raw string) string {
	s := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		s = u.Host + u.Path
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "feed"
	}
	return out
}

func uniqueID(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		if id := fmt.Sprintf("%s-%d", base, n); !taken[id] {
			return id
		}
	}
}

// writeFileAtomic replaces path so that a watcher never observes a
// partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the trimmed value at index, or "" when the index
// is out of bounds.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}

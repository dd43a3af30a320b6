package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Section is one feed section of the YAML document. Every field is
// optional so that a feed section can be layered over the default one.
type Section struct {
	URL      *string           `yaml:"url,omitempty"`
	Enable   *bool             `yaml:"enable,omitempty"`
	Interval *int              `yaml:"interval,omitempty"`
	Proxy    *string           `yaml:"proxy,omitempty"`
	Proxies  map[string]string `yaml:"proxies,omitempty"`
	Cron     *string           `yaml:"cron,omitempty"`
	Parser   *string           `yaml:"parser,omitempty"`
}

// over returns s with every unset field taken from def.
func (s Section) over(def Section) Section {
	merged := def
	if s.URL != nil {
		merged.URL = s.URL
	}
	if s.Enable != nil {
		merged.Enable = s.Enable
	}
	if s.Interval != nil {
		merged.Interval = s.Interval
	}
	if s.Proxy != nil {
		merged.Proxy = s.Proxy
	}
	if s.Proxies != nil {
		merged.Proxies = s.Proxies
	}
	if s.Cron != nil {
		merged.Cron = s.Cron
	}
	if s.Parser != nil {
		merged.Parser = s.Parser
	}
	return merged
}

// FeedSpec is the resolved configuration of a single feed.
type FeedSpec struct {
	FeedID          string
	URL             string
	Enabled         bool
	IntervalMinutes int
	Proxy           string
	Proxies         map[string]string
	Cron            string
	Parser          string
}

// Equal reports whether both specs describe the same feed configuration.
func (f FeedSpec) Equal(o FeedSpec) bool {
	return f.FeedID == o.FeedID &&
		f.URL == o.URL &&
		f.Enabled == o.Enabled &&
		f.IntervalMinutes == o.IntervalMinutes &&
		f.Proxy == o.Proxy &&
		f.Cron == o.Cron &&
		f.Parser == o.Parser &&
		maps.Equal(f.Proxies, o.Proxies)
}

// FeedSpecSet maps feed ids to their specs, in document order.
type FeedSpecSet struct {
	ids   []string
	specs map[string]FeedSpec
}

// NewFeedSpecSet builds a set from specs. Later duplicates replace earlier ones.
func NewFeedSpecSet(specs ...FeedSpec) FeedSpecSet {
	set := FeedSpecSet{specs: make(map[string]FeedSpec, len(specs))}
	for _, spec := range specs {
		if _, exists := set.specs[spec.FeedID]; !exists {
			set.ids = append(set.ids, spec.FeedID)
		}
		set.specs[spec.FeedID] = spec
	}
	return set
}

// Len returns the number of feeds.
func (s FeedSpecSet) Len() int { return len(s.ids) }

// IDs returns the feed ids in document order.
func (s FeedSpecSet) IDs() []string { return append([]string(nil), s.ids...) }

// Get returns the spec of feedID.
func (s FeedSpecSet) Get(feedID string) (FeedSpec, bool) {
	spec, ok := s.specs[feedID]
	return spec, ok
}

// All returns every spec in document order.
func (s FeedSpecSet) All() []FeedSpec {
	all := make([]FeedSpec, 0, len(s.ids))
	for _, id := range s.ids {
		all = append(all, s.specs[id])
	}
	return all
}

// RetentionPolicy bounds the number of stored rows.
type RetentionPolicy struct {
	KeptCount int
	Set       bool
}

// Enforced returns the row budget and whether retention applies at all.
// Budgets below MinKeptCount disable retention.
func (r RetentionPolicy) Enforced() (int, bool) {
	if !r.Set || r.KeptCount < MinKeptCount {
		return 0, false
	}
	return r.KeptCount, true
}

// Storage identifies the database a document writes to.
type Storage struct {
	Driver string
	Path   string
}

// Document is an immutable snapshot of the YAML configuration file.
type Document struct {
	Storage   Storage
	Retention RetentionPolicy
	Feeds     FeedSpecSet
}

type rawDocument struct {
	Database string    `yaml:"database"`
	Driver   string    `yaml:"driver"`
	Default  Section   `yaml:"default"`
	Options  yaml.Node `yaml:"options"`
	Feeds    yaml.Node `yaml:"feeds"`
}

type rawOptions struct {
	KeptCount yaml.Node `yaml:"kept_count"`
}

// LoadFile reads and parses the document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a YAML document and resolves every feed section over
// the default section.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	doc := &Document{
		Storage: Storage{Driver: raw.Driver, Path: raw.Database},
	}
	if doc.Storage.Path == "" {
		doc.Storage.Path = DefaultDBPath
	}
	switch doc.Storage.Driver {
	case "":
		doc.Storage.Driver = DefaultDriver
	case DriverSQLite3, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q", doc.Storage.Driver)
	}

	retention, err := parseRetention(&raw.Options)
	if err != nil {
		return nil, err
	}
	doc.Retention = retention

	specs, err := parseFeeds(&raw.Feeds, raw.Default)
	if err != nil {
		return nil, err
	}
	doc.Feeds = NewFeedSpecSet(specs...)
	return doc, nil
}

func parseRetention(node *yaml.Node) (RetentionPolicy, error) {
	if node.Kind == 0 {
		return RetentionPolicy{}, nil
	}
	var opts rawOptions
	if err := node.Decode(&opts); err != nil {
		return RetentionPolicy{}, fmt.Errorf("invalid options section: %w", err)
	}
	kept := opts.KeptCount
	if kept.Kind == 0 || kept.ShortTag() == "!!null" {
		return RetentionPolicy{}, nil
	}
	if kept.Kind != yaml.ScalarNode || kept.ShortTag() != "!!int" {
		log.Warn().Str("kept_count", kept.Value).Msg("Ignoring non-integer kept_count, retention disabled")
		return RetentionPolicy{}, nil
	}
	var n int
	if err := kept.Decode(&n); err != nil {
		return RetentionPolicy{}, fmt.Errorf("invalid kept_count: %w", err)
	}
	if n < MinKeptCount {
		log.Warn().Int("kept_count", n).Int("minimum", MinKeptCount).Msg("kept_count below minimum, retention disabled")
	}
	return RetentionPolicy{KeptCount: n, Set: true}, nil
}

func parseFeeds(node *yaml.Node, def Section) ([]FeedSpec, error) {
	if node.Kind == 0 || node.ShortTag() == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("feeds must be a mapping of feed id to section")
	}

	specs := make([]FeedSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		feedID := node.Content[i].Value
		var section Section
		if err := node.Content[i+1].Decode(&section); err != nil {
			return nil, fmt.Errorf("feed %q: %w", feedID, err)
		}
		spec, err := resolve(feedID, section.over(def))
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", feedID, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolve(feedID string, s Section) (FeedSpec, error) {
	spec := FeedSpec{
		FeedID:          feedID,
		Enabled:         true,
		IntervalMinutes: DefaultIntervalMinutes,
		Parser:          ParserRaw,
		Proxies:         maps.Clone(s.Proxies),
	}
	if s.URL != nil {
		spec.URL = *s.URL
	}
	if s.Enable != nil {
		spec.Enabled = *s.Enable
	}
	if s.Interval != nil {
		spec.IntervalMinutes = *s.Interval
		if spec.IntervalMinutes > MaxIntervalMinutes {
			log.Warn().Str("feed_id", feedID).Int("interval", spec.IntervalMinutes).
				Int("max", MaxIntervalMinutes).Msg("Feed interval too large, clamped")
			spec.IntervalMinutes = MaxIntervalMinutes
		}
	}
	if s.Proxy != nil {
		spec.Proxy = *s.Proxy
	}
	if s.Cron != nil && *s.Cron != "" {
		if _, err := cron.ParseStandard(*s.Cron); err != nil {
			return FeedSpec{}, fmt.Errorf("invalid cron expression %q: %w", *s.Cron, err)
		}
		spec.Cron = *s.Cron
	}
	if s.Parser != nil && *s.Parser != "" {
		switch *s.Parser {
		case ParserRaw, ParserNormalized:
			spec.Parser = *s.Parser
		default:
			return FeedSpec{}, fmt.Errorf("unknown parser %q", *s.Parser)
		}
	}
	return spec, nil
}

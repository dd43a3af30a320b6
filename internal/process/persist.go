package process

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/database"
	"reddot-watch/rssfetcher/internal/models"
)

// feedTimeout bounds a single feed fetch on top of the fetcher's own
// transport timeouts.
const feedTimeout = 2 * time.Minute

// Fetcher fetches the items of one feed.
type Fetcher interface {
	Fetch(ctx context.Context, spec config.FeedSpec) ([]models.ItemRecord, error)
}

// Store runs fn with exclusive use of the write connection.
type Store interface {
	Use(fn func(db *database.DB) error) error
}

// Result summarises one persisted batch.
type Result struct {
	Feeds   int
	Fetched int
	Added   int64
	Removed int64
}

// Persister fetches a batch of feeds and writes their items in a single
// transaction.
type Persister struct {
	fetcher Fetcher
	store   Store

	mu        sync.RWMutex
	retention config.RetentionPolicy

	added   atomic.Int64
	removed atomic.Int64
	failed  atomic.Int64
}

// NewPersister creates a persister writing to store.
func NewPersister(fetcher Fetcher, store Store, retention config.RetentionPolicy) *Persister {
	return &Persister{fetcher: fetcher, store: store, retention: retention}
}

// SetRetention replaces the policy applied to subsequent batches.
func (p *Persister) SetRetention(r config.RetentionPolicy) {
	p.mu.Lock()
	p.retention = r
	p.mu.Unlock()
}

// Retention returns the current policy.
func (p *Persister) Retention() config.RetentionPolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.retention
}

// Stats returns the running totals of added rows, evicted rows and
// failed fetches.
func (p *Persister) Stats() (added, removed, failed int64) {
	return p.added.Load(), p.removed.Load(), p.failed.Load()
}

// Persist fetches every job sequentially. A failing feed contributes no
// records and does not affect the others. When nothing was fetched the
// store is not touched.
func (p *Persister) Persist(ctx context.Context, jobs []Job) (Result, error) {
	res := Result{Feeds: len(jobs)}

	var records []models.ItemRecord
	for _, job := range jobs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		records = append(records, p.fetchOne(ctx, job)...)
	}
	res.Fetched = len(records)

	if len(records) == 0 {
		log.Debug().Int("feeds", len(jobs)).Msg("No items fetched, skipping store write")
		return res, nil
	}

	err := p.store.Use(func(db *database.DB) error {
		batch, err := db.Begin(ctx)
		if err != nil {
			return err
		}
		defer batch.Rollback()

		before, err := batch.Count(ctx)
		if err != nil {
			return err
		}
		if _, err := batch.Upsert(ctx, records); err != nil {
			return err
		}
		after, err := batch.Count(ctx)
		if err != nil {
			return err
		}
		res.Added = after - before

		if kept, ok := p.Retention().Enforced(); ok {
			if res.Removed, err = batch.Evict(ctx, kept); err != nil {
				return err
			}
		}
		return batch.Commit()
	})
	if err != nil {
		return Result{Feeds: res.Feeds, Fetched: res.Fetched}, fmt.Errorf("failed to persist batch: %w", err)
	}

	p.added.Add(res.Added)
	p.removed.Add(res.Removed)

	log.Info().
		Int("feeds", res.Feeds).
		Int("fetched", res.Fetched).
		Int64("added", res.Added).
		Msg("Total added items")
	if res.Removed > 0 {
		log.Info().Int64("removed", res.Removed).Msg("Evicted old items")
	}
	return res, nil
}

// fetchOne fetches a single feed, turning errors and panics into an
// empty result.
func (p *Persister) fetchOne(ctx context.Context, job Job) (records []models.ItemRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Error().
				Str("feed_id", job.FeedID).
				Interface("panic", r).
				Msg("Feed fetch panicked")
			records = nil
		}
	}()

	feedCtx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	started := time.Now()
	records, err := p.fetcher.Fetch(feedCtx, job.Spec)
	if err != nil {
		p.failed.Add(1)
		log.Error().
			Err(err).
			Str("feed_id", job.FeedID).
			Str("url", job.Spec.URL).
			Msg("Failed to fetch feed")
		return nil
	}

	log.Debug().
		Str("feed_id", job.FeedID).
		Int("items", len(records)).
		Dur("elapsed", time.Since(started)).
		Msg("Fetched feed")
	return records
}

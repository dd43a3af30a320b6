package process

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"reddot-watch/rssfetcher/internal/config"
)

// DefaultTick is how often the scheduler checks timers, the config
// source and pending shutdown requests.
const DefaultTick = time.Second

// Period returns the effective fetch period of spec, kept within
// [MinIntervalMinutes, MaxIntervalMinutes].
func Period(spec config.FeedSpec) time.Duration {
	minutes := min(max(spec.IntervalMinutes, config.MinIntervalMinutes), config.MaxIntervalMinutes)
	return time.Duration(minutes) * time.Minute
}

// Reconfigurer applies document level settings that are not feed
// schedules, such as the storage target and retention.
type Reconfigurer interface {
	Reconfigure(doc *config.Document) error
}

// timer is the armed schedule of one enabled feed.
type timer struct {
	schedule cron.Schedule
	floored  bool
	next     time.Time
}

func (t *timer) arm(from time.Time) {
	t.next = t.schedule.Next(from)
	if !t.floored {
		return
	}
	floor := from.Add(config.MinIntervalMinutes * time.Minute).Truncate(time.Second)
	if t.next.Before(floor) {
		t.next = t.schedule.Next(floor.Add(-time.Second))
	}
}

// entry is the installed state of one feed. Disabled feeds have no timer.
type entry struct {
	spec  config.FeedSpec
	timer *timer
}

// Scheduler owns one timer per enabled feed and is the only producer of
// jobs. It reloads the config source when it changes and reconciles the
// installed timers with the new feed set.
type Scheduler struct {
	source config.Source
	queue  *Queue
	reconf Reconfigurer
	now    func() time.Time
	tick   time.Duration

	doc     *config.Document
	entries map[string]*entry

	shutdown     atomic.Bool
	sentinelSent bool
	done         chan struct{}
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithTick sets the control loop period.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

// WithReconfigurer registers r for document level changes.
func WithReconfigurer(r Reconfigurer) SchedulerOption {
	return func(s *Scheduler) { s.reconf = r }
}

// NewScheduler creates a scheduler producing into queue.
func NewScheduler(source config.Source, queue *Queue, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		source:  source,
		queue:   queue,
		now:     time.Now,
		tick:    DefaultTick,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start installs doc and enqueues one immediate job per enabled feed.
// It blocks while the queue is full, so the consumer must already be
// running when there are more feeds than the queue holds. It must be
// called once, before Run.
func (s *Scheduler) Start(ctx context.Context, doc *config.Document) error {
	s.doc = doc
	now := s.now()
	for _, spec := range doc.Feeds.All() {
		if err := s.install(ctx, spec, now); err != nil {
			return err
		}
	}
	log.Info().Int("feeds", doc.Feeds.Len()).Msg("Scheduler started")
	return nil
}

// Run drives the control loop until shutdown has been handled or ctx
// is done.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.step(ctx) {
				return nil
			}
		}
	}
}

// RequestShutdown asks the scheduler to stop. The request is observed on
// the next tick: all timers are cleared and the sentinel is enqueued.
func (s *Scheduler) RequestShutdown() {
	s.shutdown.Store(true)
}

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// step runs one control loop iteration and reports whether the loop
// must stop.
func (s *Scheduler) step(ctx context.Context) bool {
	if s.shutdown.Load() {
		s.stop(ctx)
		return true
	}

	now := s.now()
	if s.source.Changed() {
		s.reload(ctx, now)
	}
	s.fire(ctx, now)
	return false
}

func (s *Scheduler) stop(ctx context.Context) {
	for _, e := range s.entries {
		e.timer = nil
	}
	if s.sentinelSent {
		return
	}
	if err := s.queue.Put(ctx, ShutdownJob()); err != nil {
		log.Warn().Err(err).Msg("Scheduler stopped without enqueuing shutdown")
		return
	}
	s.sentinelSent = true
	log.Info().Msg("Scheduler stopped, shutdown enqueued")
}

// fire enqueues a job for every due feed and re-arms its timer.
func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	for _, id := range s.doc.Feeds.IDs() {
		e, ok := s.entries[id]
		if !ok || e.timer == nil || now.Before(e.timer.next) {
			continue
		}
		if err := s.queue.Put(ctx, NewJob(e.spec)); err != nil {
			return
		}
		e.timer.arm(now)
	}
}

func (s *Scheduler) reload(ctx context.Context, now time.Time) {
	doc, err := s.source.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload config, keeping previous feeds")
		return
	}

	if s.reconf != nil && (doc.Storage != s.doc.Storage || doc.Retention != s.doc.Retention) {
		if err := s.reconf.Reconfigure(doc); err != nil {
			log.Error().Err(err).Msg("Failed to apply config, keeping previous feeds")
			return
		}
	}

	added, changed, removed := s.reconcile(ctx, doc, now)
	s.doc = doc
	log.Info().
		Int("added", added).
		Int("changed", changed).
		Int("removed", removed).
		Int("feeds", doc.Feeds.Len()).
		Msg("Config reloaded")
}

// reconcile brings the installed entries in line with doc. Unchanged
// feeds keep their timers; new and changed feeds are rescheduled from
// now and fetched immediately; removed feeds are dropped.
func (s *Scheduler) reconcile(ctx context.Context, doc *config.Document, now time.Time) (added, changed, removed int) {
	for id := range s.entries {
		if _, ok := doc.Feeds.Get(id); !ok {
			delete(s.entries, id)
			removed++
		}
	}

	for _, spec := range doc.Feeds.All() {
		e, ok := s.entries[spec.FeedID]
		switch {
		case !ok:
			added++
		case !e.spec.Equal(spec):
			changed++
		default:
			continue
		}
		if err := s.install(ctx, spec, now); err != nil {
			break
		}
	}
	return added, changed, removed
}

// install replaces the entry of spec and, when enabled, arms its timer
// and enqueues an immediate job.
func (s *Scheduler) install(ctx context.Context, spec config.FeedSpec, now time.Time) error {
	e := &entry{spec: spec}
	s.entries[spec.FeedID] = e

	if !spec.Enabled {
		log.Debug().Str("feed_id", spec.FeedID).Msg("Feed disabled, not scheduled")
		return nil
	}

	e.timer = newTimer(spec)
	e.timer.arm(now)
	if err := s.queue.Put(ctx, NewJob(spec)); err != nil {
		return err
	}

	log.Debug().
		Str("feed_id", spec.FeedID).
		Time("next", e.timer.next).
		Msg("Feed scheduled")
	return nil
}

func newTimer(spec config.FeedSpec) *timer {
	if spec.Cron != "" {
		schedule, err := cron.ParseStandard(spec.Cron)
		if err == nil {
			return &timer{schedule: schedule, floored: true}
		}
		log.Warn().Err(err).Str("feed_id", spec.FeedID).Msg("Invalid cron expression, using interval")
	}
	return &timer{schedule: cron.Every(Period(spec))}
}

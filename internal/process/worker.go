package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/rssfetcher/internal/config"
)

// Default worker settings.
const (
	DefaultQueueSize = 1024
	DefaultWindow    = 10 * time.Second
)

// StorageFunc is called when a reloaded document names a different
// storage target.
type StorageFunc func(config.Storage) error

// Options configures a Worker.
type Options struct {
	QueueSize int
	Window    time.Duration
	Tick      time.Duration
	Clock     func() time.Time
	OnStorage StorageFunc
}

// Worker runs the scheduler and the consumer as two goroutines joined by
// a job queue.
type Worker struct {
	queue     *Queue
	scheduler *Scheduler
	consumer  *Consumer
	persister *Persister
	onStorage StorageFunc

	storage config.Storage
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	errMu sync.Mutex
	errs  []error
}

// NewWorker wires a worker reading feeds from source, fetching with
// fetcher and writing into store.
func NewWorker(source config.Source, fetcher Fetcher, store Store, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	w := &Worker{
		queue:     NewQueue(opts.QueueSize),
		persister: NewPersister(fetcher, store, config.RetentionPolicy{}),
		onStorage: opts.OnStorage,
	}
	w.consumer = NewConsumer(w.queue, w.persister, opts.Window)

	schedOpts := []SchedulerOption{WithReconfigurer(w)}
	if opts.Tick > 0 {
		schedOpts = append(schedOpts, WithTick(opts.Tick))
	}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, WithClock(opts.Clock))
	}
	w.scheduler = NewScheduler(source, w.queue, schedOpts...)
	return w
}

// Persister returns the persister used by the consumer.
func (w *Worker) Persister() *Persister {
	return w.persister
}

// Start launches both goroutines. The consumer runs before doc is
// installed so the cold start jobs never wait on a full queue with
// nobody reading it.
func (w *Worker) Start(doc *config.Document) {
	w.storage = doc.Storage
	w.persister.SetRetention(doc.Retention)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(2)
	go w.run("consumer", func() error { return w.consumer.Run(ctx) })
	go w.run("scheduler", func() error {
		if err := w.scheduler.Start(ctx, doc); err != nil {
			return err
		}
		return w.scheduler.Run(ctx)
	})
}

func (w *Worker) run(name string, fn func() error) {
	defer w.wg.Done()
	if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("task", name).Msg("Worker task failed")
		w.errMu.Lock()
		w.errs = append(w.errs, fmt.Errorf("%s: %w", name, err))
		w.errMu.Unlock()
	}
}

// Reconfigure applies storage and retention changes from a reloaded
// document.
func (w *Worker) Reconfigure(doc *config.Document) error {
	if doc.Storage != w.storage && w.onStorage != nil {
		if err := w.onStorage(doc.Storage); err != nil {
			return fmt.Errorf("failed to switch storage: %w", err)
		}
	}
	w.storage = doc.Storage
	w.persister.SetRetention(doc.Retention)
	return nil
}

// Shutdown stops the scheduler, waits until every queued job has been
// processed and both goroutines have exited. If ctx expires first the
// goroutines are cancelled and ctx's error is returned.
func (w *Worker) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down worker")
	w.scheduler.RequestShutdown()

	select {
	case <-w.scheduler.Done():
	case <-ctx.Done():
		w.abort()
		return ctx.Err()
	}

	if err := w.queue.Join(ctx); err != nil {
		w.abort()
		return err
	}

	w.wg.Wait()
	w.cancel()

	w.errMu.Lock()
	defer w.errMu.Unlock()
	log.Info().Msg("Worker stopped")
	return errors.Join(w.errs...)
}

func (w *Worker) abort() {
	w.cancel()
	w.wg.Wait()
	log.Warn().Int("unfinished", w.queue.Unfinished()).Msg("Worker aborted before the queue drained")
}

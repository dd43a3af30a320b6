package process

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Consumer drains the queue in debounced batches and hands each batch
// to a Persister.
type Consumer struct {
	queue     *Queue
	persister *Persister
	window    time.Duration
}

// NewConsumer creates a consumer collecting jobs for window after the
// first job of a batch arrives.
func NewConsumer(queue *Queue, persister *Persister, window time.Duration) *Consumer {
	return &Consumer{queue: queue, persister: persister, window: window}
}

// Run processes batches until the shutdown sentinel is consumed or ctx
// is done.
func (c *Consumer) Run(ctx context.Context) error {
	log.Debug().Dur("window", c.window).Msg("Consumer started")
	for {
		batch, err := c.collect(ctx)
		if err != nil {
			return err
		}
		if c.handle(ctx, batch) {
			log.Info().Msg("Consumer received shutdown, exiting")
			return nil
		}
	}
}

// collect blocks for the first job, then keeps reading until the window
// measured from that first job elapses or the sentinel arrives.
func (c *Consumer) collect(ctx context.Context) ([]Job, error) {
	first, err := c.queue.Get(ctx)
	if err != nil {
		return nil, err
	}

	batch := []Job{first}
	deadline := time.Now().Add(c.window)
	for !batch[len(batch)-1].IsShutdown() {
		job, ok := c.queue.TryGet(time.Until(deadline))
		if !ok {
			break
		}
		batch = append(batch, job)
	}
	return batch, nil
}

// handle processes one batch and reports whether the consumer must stop.
// Every token in batch is marked done, duplicates and sentinel included.
func (c *Consumer) handle(ctx context.Context, batch []Job) bool {
	defer c.queue.Done(len(batch))

	for _, job := range batch {
		if job.IsShutdown() {
			return true
		}
	}

	jobs := dedup(batch)
	log.Info().Int("jobs", len(batch)).Int("feeds", len(jobs)).Msg("Received fetch jobs")

	if _, err := c.persister.Persist(ctx, jobs); err != nil {
		log.Error().Err(err).Msg("Batch failed")
	}
	return false
}

// dedup keeps the first job of every feed, preserving order.
func dedup(batch []Job) []Job {
	seen := make(map[string]struct{}, len(batch))
	jobs := make([]Job, 0, len(batch))
	for _, job := range batch {
		if _, ok := seen[job.FeedID]; ok {
			continue
		}
		seen[job.FeedID] = struct{}{}
		jobs = append(jobs, job)
	}
	return jobs
}

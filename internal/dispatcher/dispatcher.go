// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/redditextract/redditextract/internal/scrape"
	"github.com/redditextract/redditextract/internal/worker"
)

// Dispatcher fans queue work out to a fixed pool of worker slots. Each
// slot runs one job's fetch loop to completion before claiming another.
type Dispatcher struct {
	queue   scrape.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue scrape.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string) error {
	if err := d.queue.Enqueue(ctx, jobID); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

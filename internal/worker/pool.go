// Package worker runs the bounded pool that drains the job queue.
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/nkuznetsov/docpipe/internal/core/ports"
)

// Pool fans queued job ids out to a fixed number of workers. Each worker
// drives one job to a terminal state before taking another, so the pool size
// is the extraction concurrency bound.
type Pool struct {
	queue     ports.JobQueue
	processor ports.JobProcessor
	size      int
}

func New(queue ports.JobQueue, processor ports.JobProcessor, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{queue: queue, processor: processor, size: size}
}

func (p *Pool) Size() int { return p.size }

// Run blocks until ctx is done, then stops accepting deliveries and waits
// for in-flight extractions to finish or hit their own timeouts.
func (p *Pool) Run(ctx context.Context) error {
	jobs := make(chan string)

	// In-flight jobs outlive the shutdown signal; their per-attempt timeout
	// still bounds them.
	procCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for jobID := range jobs {
				if err := p.processor.ProcessJob(procCtx, jobID); err != nil {
					slog.Error("process_job_failed", "worker", workerID, "job_id", jobID, "error", err)
				}
			}
		}(i)
	}

	err := p.queue.Subscribe(ctx, func(handlerCtx context.Context, jobID string) error {
		select {
		case jobs <- jobID:
			return nil
		case <-handlerCtx.Done():
			return handlerCtx.Err()
		}
	})

	close(jobs)
	wg.Wait()
	return err
}

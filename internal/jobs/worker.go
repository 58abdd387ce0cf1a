package jobs

import (
	"context"
	"log"
	"time"
)

// Runner is a unit of background work invoked on each poll tick.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// Worker drives a Runner on a fixed interval until stopped.
type Worker struct {
	runner       Runner
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(runner Runner, pollInterval time.Duration) *Worker {
	return &Worker{
		runner:       runner,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop. The first pass runs immediately;
// subsequent passes run every pollInterval.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("Worker started with poll interval: %v", w.pollInterval)

	if err := w.runner.RunOnce(ctx); err != nil {
		log.Printf("Error running background pass: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("Worker stopped: stop signal received")
			return
		case <-ticker.C:
			if err := w.runner.RunOnce(ctx); err != nil {
				log.Printf("Error running background pass: %v", err)
			}
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("Worker shutdown complete")
}

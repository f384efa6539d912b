// Package job runs transcription pipelines on a bounded worker pool.
// Submission is fire-and-forget: callers get their response immediately and
// observe progress by polling the job's status.
package job

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// drainTimeout bounds how long Stop waits for in-flight jobs before
// cancelling their contexts.
const drainTimeout = 30 * time.Second

// Runner executes one pipeline attempt for a job id.
type Runner interface {
	Run(ctx context.Context, id int64)
}

// Pool dispatches job ids to a fixed number of workers. Unlike detached
// daemon threads, in-flight work is counted and shutdown waits for it.
type Pool struct {
	runner   Runner
	pending  chan int64
	quit     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	active   atomic.Int64
	stopOnce sync.Once
}

// NewPool creates and starts a pool with the given number of workers.
func NewPool(runner Runner, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		runner:  runner,
		pending: make(chan int64, 100),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues a job for processing. Never blocks the caller: a full queue
// is logged and the job stays pending in the database until the next resume.
func (p *Pool) Submit(id int64) {
	select {
	case <-p.quit:
		return
	default:
	}
	select {
	case p.pending <- id:
	default:
		log.Printf("[job] queue full, job %d stays pending until restart", id)
	}
}

// Resume re-queues jobs found pending in the database on startup.
func (p *Pool) Resume(ids []int64) {
	count := 0
	for _, id := range ids {
		select {
		case p.pending <- id:
			count++
		default:
		}
	}
	if count > 0 {
		log.Printf("[job] resumed %d pending jobs", count)
	}
}

// Active returns the number of jobs currently being processed.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Stop prevents new dispatches and lets in-flight jobs finish undisturbed.
// Jobs still running after the drain timeout get their context cancelled.
// Queued-but-unstarted jobs stay pending in the database for the next start.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			log.Printf("[job] drain timeout, cancelling %d in-flight jobs", p.active.Load())
		}

		p.cancel()
		p.wg.Wait()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case id := <-p.pending:
			p.active.Add(1)
			p.runner.Run(p.ctx, id)
			p.active.Add(-1)
		}
	}
}

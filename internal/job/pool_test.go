package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingRunner struct {
	mu   sync.Mutex
	seen []int64
	done chan struct{}
	want int
}

func (r *recordingRunner) Run(ctx context.Context, id int64) {
	r.mu.Lock()
	r.seen = append(r.seen, id)
	if len(r.seen) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}), want: 3}
	pool := NewPool(runner, 2)
	defer pool.Stop()

	pool.Submit(1)
	pool.Submit(2)
	pool.Submit(3)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs were not processed in time")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.seen) != 3 {
		t.Fatalf("processed %d jobs, want 3", len(runner.seen))
	}
}

func TestPoolResume(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}), want: 2}
	pool := NewPool(runner, 1)
	defer pool.Stop()

	pool.Resume([]int64{10, 11})

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resumed jobs were not processed in time")
	}
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, id int64) {
	r.started <- struct{}{}
	<-r.release
}

func TestPoolBoundsConcurrency(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
	pool := NewPool(runner, 1)

	pool.Submit(1)
	pool.Submit(2)

	<-runner.started
	if got := pool.Active(); got != 1 {
		t.Fatalf("active = %d, want 1 with a single worker", got)
	}

	select {
	case <-runner.started:
		t.Fatal("second job started while the only worker was busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	<-runner.started
	pool.Stop()
}

func TestPoolStopWaitsForInFlight(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	pool := NewPool(runner, 1)

	pool.Submit(1)
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}
}

type ctxReportingRunner struct {
	started  chan struct{}
	release  chan struct{}
	ctxErrAt chan error
}

func (r *ctxReportingRunner) Run(ctx context.Context, id int64) {
	r.started <- struct{}{}
	<-r.release
	r.ctxErrAt <- ctx.Err()
}

func TestPoolStopDoesNotCancelInFlightJob(t *testing.T) {
	runner := &ctxReportingRunner{
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		ctxErrAt: make(chan error, 1),
	}
	pool := NewPool(runner, 1)

	pool.Submit(1)
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	// Let Stop begin draining, then finish the job. Its context must still
	// be live so the run completes and persists normally.
	time.Sleep(50 * time.Millisecond)
	close(runner.release)

	if err := <-runner.ctxErrAt; err != nil {
		t.Fatalf("job context cancelled during graceful stop: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}
}

func TestPoolSubmitAfterStopIsDropped(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}), want: 1}
	pool := NewPool(runner, 1)
	pool.Stop()

	pool.Submit(1)

	select {
	case <-runner.done:
		t.Fatal("job ran after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

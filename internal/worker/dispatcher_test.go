package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d := NewDispatcher(cfg, nil)
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherDoRunsJob(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	var ran atomic.Bool
	if err := d.Do(context.Background(), Generate, "s1", func() { ran.Store(true) }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("job did not run")
	}
}

func TestDispatcherSessionsDoNotBlockEachOther(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 3, QueueSize: 8})
	release := make(chan struct{})
	started := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		slowDone <- d.Do(context.Background(), Generate, "slow", func() {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Do(ctx, Generate, "fast", func() {}); err != nil {
		t.Fatalf("fast session blocked behind slow one: %v", err)
	}
	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow job: %v", err)
	}
}

func TestDispatcherBusyWhenBacklogFull(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	if err := d.Submit(newJob(Extract, "a", func() {
		close(started)
		<-release
	})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	var accepted []Job
	var busy bool
	for i := 0; i < 10; i++ {
		job := newJob(Extract, "b", func() {})
		err := d.Submit(job)
		if errors.Is(err, ErrDispatcherBusy) {
			busy = true
			break
		}
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		accepted = append(accepted, job)
		time.Sleep(10 * time.Millisecond)
	}
	if !busy {
		t.Fatalf("expected ErrDispatcherBusy with a single busy worker")
	}
	close(release)
	for _, job := range accepted {
		select {
		case err := <-job.done:
			if err != nil {
				t.Fatalf("queued job: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("queued job never ran")
		}
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	if err := d.Do(context.Background(), Generate, "p", func() { panic("boom") }); err == nil {
		t.Fatalf("expected error from panicking job")
	}
	if err := d.Do(context.Background(), Generate, "p", func() {}); err != nil {
		t.Fatalf("worker should survive a panic: %v", err)
	}
}

func TestDispatcherDoReturnsOnContextButJobFinishes(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	release := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Do(ctx, Generate, "s", func() {
			defer finished.Done()
			<-release
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
	finished.Wait()
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 2, MaxWorkers: 2, QueueSize: 2}, nil)
	d.Stop()
	d.Stop()
	if err := d.Do(context.Background(), Generate, "s", func() {}); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestPoolShrinksIdleWorkers(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 3, QueueSize: 8, IdleTimeout: 30 * time.Millisecond})
	release := make(chan struct{})
	var wg sync.WaitGroup
	var started sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		started.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = d.Do(context.Background(), Generate, id, func() {
				started.Done()
				<-release
			})
		}(id)
	}
	started.Wait()
	if workers, _, _ := d.Stats(); workers != 3 {
		t.Fatalf("expected pool to grow to 3 workers, got %d", workers)
	}
	close(release)
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if workers, _, _ := d.Stats(); workers == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	workers, _, _ := d.Stats()
	t.Fatalf("idle workers not retired, still %d", workers)
}

func TestDispatcherKeepsSessionOrder(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 16})
	var mu sync.Mutex
	var order []int
	jobs := make([]Job, 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		job := newJob(Generate, "ordered", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		if err := d.Submit(job); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		if err := <-job.done; err != nil {
			t.Fatalf("job: %v", err)
		}
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

package worker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs session jobs on an elastic worker pool. Sessions take
// turns in LRU order so one busy session cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake for outer jobs
	logger   *zap.Logger

	mu        sync.Mutex
	queues    map[string]*sessionQueue // pending jobs per session
	ready     *list.List               // LRU queue storing session IDs
	positions map[string]*list.Element

	quit     chan struct{}
	stopOnce sync.Once
	stopped  bool
}

func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, logger)

	d := &Dispatcher{
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, queueSize),
		logger:    logger,
		quit:      make(chan struct{}),
	}

	for i := 0; i < pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without waiting for it.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Do runs fn on a worker and waits for it. If ctx ends first Do returns
// ctx.Err() while fn keeps running to completion.
func (d *Dispatcher) Do(ctx context.Context, jobType JobType, sessionID string, fn func()) error {
	job := newJob(jobType, sessionID, fn)
	if err := d.Submit(job); err != nil {
		return err
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the session in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // wait for work
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

// CancelSession drops the pending jobs of a session. Running jobs finish.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	var dropped []Job
	if q := d.queues[sessionID]; q != nil {
		dropped = q.jobs
	}
	delete(d.queues, sessionID)
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.finish(ErrJobCanceled)
	}
}

// Stop shuts the workers down. Pending jobs fail with ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.quit)
		d.pool.close()
	})
}

// Stats reports worker and backlog counts.
func (d *Dispatcher) Stats() (workers, idle, pending int) {
	workers, idle = d.pool.stats()
	d.mu.Lock()
	for _, q := range d.queues {
		pending += len(q.jobs)
	}
	d.mu.Unlock()
	return workers, idle, pending + len(d.JobQueue)
}

func (d *Dispatcher) enqueueJob(job Job) {
	sessionID := job.SessionID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[sessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[sessionID] = d.ready.PushBack(sessionID)
}

// dispatchOne get first session in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, workerID := d.pool.acquire()
	if workerChan == nil {
		job.finish(ErrDispatcherStopped)
		return true
	}
	d.logger.Debug("dispatch job",
		zap.String("type", string(job.Type)),
		zap.String("session", sessionID),
		zap.Int("worker", workerID))
	workerChan <- job
	return true
}

// drain fails everything still waiting once the dispatcher stops.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	var pending []Job
	for _, q := range d.queues {
		pending = append(pending, q.jobs...)
	}
	d.queues = make(map[string]*sessionQueue)
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()

	for {
		select {
		case job := <-d.JobQueue:
			pending = append(pending, job)
		default:
			for _, job := range pending {
				job.finish(ErrDispatcherStopped)
			}
			return
		}
	}
}

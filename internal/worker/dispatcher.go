package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
)

var (
	// ErrDispatcherBusy is returned when the pending queue is full; callers should retry later.
	ErrDispatcherBusy = errors.New("dispatcher is busy")
	// ErrDispatcherStopped is returned after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrJobCanceled is returned by Do when CancelUser dropped the job before it ran.
	ErrJobCanceled = errors.New("job canceled")
)

// Config bounds the worker pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Job is one unit of work queued on behalf of a user.
type Job struct {
	UserID int64
	Ctx    context.Context
	Run    func(ctx context.Context)

	// dropped is told why the job will never run.
	dropped func(err error)
	gen     uint64
	stop    bool
}

func (j Job) drop(err error) {
	if j.dropped != nil {
		j.dropped(err)
	}
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded pool, taking one job per user in turn so a
// single busy user cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // entry point for submitted jobs
	log      *logger.Logger

	pending  int64
	capacity int64

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // round-robin order of user ids
	positions map[int64]*list.Element
	gens      map[int64]uint64 // bumped by CancelUser

	quit     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	log = log.With("component", "Dispatcher")
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, log)

	d := &Dispatcher{
		pool:      pool,
		jobQueue:  make(chan Job, cfg.QueueSize),
		log:       log,
		capacity:  int64(cfg.QueueSize),
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		gens:      make(map[int64]uint64),
		quit:      make(chan struct{}),
	}

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn without waiting for it. A job whose context is already done
// when a worker picks it up is skipped.
func (d *Dispatcher) Submit(ctx context.Context, userID int64, fn func(ctx context.Context)) error {
	return d.submit(Job{UserID: userID, Ctx: ctx, Run: fn})
}

func (d *Dispatcher) submit(job Job) error {
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	d.mu.Lock()
	job.gen = d.gens[job.UserID]
	d.mu.Unlock()
	if atomic.AddInt64(&d.pending, 1) > d.capacity {
		atomic.AddInt64(&d.pending, -1)
		return ErrDispatcherBusy
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		atomic.AddInt64(&d.pending, -1)
		return ErrDispatcherBusy
	}
}

// Do queues fn and waits until it has run, the context ends, the job is
// canceled with CancelUser, or the dispatcher stops.
func (d *Dispatcher) Do(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	err := d.submit(Job{
		UserID: userID,
		Ctx:    ctx,
		Run: func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					finish(fmt.Errorf("job panicked: %v", r))
				}
			}()
			finish(fn(ctx))
		},
		dropped: finish,
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrDispatcherStopped
	}
}

// Pending reports jobs accepted but not yet handed to a worker.
func (d *Dispatcher) Pending() int {
	return int(atomic.LoadInt64(&d.pending))
}

// Stop shuts the dispatcher and its workers down. Queued jobs are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.stop()
	})
}

// CancelUser drops every job of the user that has not reached a worker yet,
// including jobs still on their way into the per-user queue. Waiting Do calls
// return ErrJobCanceled. A job already running is not interrupted.
func (d *Dispatcher) CancelUser(userID int64) {
	d.mu.Lock()
	d.gens[userID]++
	var dropped []Job
	if q, ok := d.queues[userID]; ok {
		dropped = q.jobs
		atomic.AddInt64(&d.pending, -int64(len(q.jobs)))
		delete(d.queues, userID)
	}
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.drop(ErrJobCanceled)
	}
}

// stale reports whether CancelUser ran after the job was submitted.
func (d *Dispatcher) stale(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return job.gen != d.gens[job.UserID]
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the user at the front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // nothing queued, wait for work
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
		}
		if !d.drain() {
			return
		}
	}
}

// drain moves every already submitted job into the per-user queues so the
// round-robin sees all waiting users. It reports false once stopped.
func (d *Dispatcher) drain() bool {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return false
		default:
			return true
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	if job.gen != d.gens[job.UserID] {
		d.mu.Unlock()
		atomic.AddInt64(&d.pending, -1)
		job.drop(ErrJobCanceled)
		return
	}
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dispatchOne hands the next job of the front user to an idle worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last job of this user leaves the ready list
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		return false
	}
	atomic.AddInt64(&d.pending, -1)
	if d.stale(job) {
		// canceled while waiting for a worker
		d.pool.release(workerChan)
		job.drop(ErrJobCanceled)
		return true
	}
	d.log.Debug("assign job", "user_id", userID, "worker", d.pool.workerID(workerChan))
	select {
	case workerChan <- job:
		return true
	case <-d.quit:
		return false
	}
}

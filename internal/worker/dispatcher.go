package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherBusy is surfaced when the inbound job queue is full.
var ErrDispatcherBusy = errors.New("dispatcher queue full")

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type roomQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands generation jobs to the worker pool round-robin across
// rooms, so a busy room cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*roomQueue // job queue for each room
	ready     *list.List            // LRU queue storing room IDs
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout)
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	jobQueue := make(chan Job, queueSize)

	d := &Dispatcher{
		queues:    make(map[string]*roomQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  jobQueue,
	}

	// Warm up workers to keep latency down on the first replies.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit enqueues a job without blocking the caller.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of room in the front of LRU queue
		if !d.dispatchOne() {
			job := <-d.JobQueue // force congestion
			d.enqueueJob(job)
			continue
		}
		// if we have a new job, enqueue it and its caller room
		select {
		case job := <-d.JobQueue: // non-congestion
			d.enqueueJob(job)
		default:
		}
	}
}

// CancelRoom drops any not-yet-dispatched jobs for a room. Jobs already on
// a worker cannot be aborted; their output is appended even after a room
// logically ends.
func (d *Dispatcher) CancelRoom(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, roomID)
	if elem, ok := d.positions[roomID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, roomID)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.RoomID]
	if q == nil {
		q = &roomQueue{}
		d.queues[job.RoomID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// room already enqueued, skip
		return
	}
	// new room, enqueue
	q.enqueued = true
	elem := d.ready.PushBack(job.RoomID)
	d.positions[job.RoomID] = elem
}

// dispatchOne get first room in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	for elem != nil {
		roomID := elem.Value.(string)
		q := d.queues[roomID]
		// get job from the first room
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		if len(q.jobs) == 0 {
			// room only has one job, it'll be handled, room needs to quit queue
			q.enqueued = false
			d.ready.Remove(elem)
			delete(d.positions, roomID)
		} else {
			// get to the back of queue
			d.ready.MoveToBack(elem)
		}
		d.mu.Unlock()

		workerChan := d.pool.acquire()
		workerChan <- job
		return true
	}
	d.mu.Unlock()
	return false
}

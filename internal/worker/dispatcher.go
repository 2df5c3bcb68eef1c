package worker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type ownerQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to pooled workers, round-robin across meeting owners so
// one busy owner cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher
	log      zerolog.Logger

	mu        sync.Mutex
	queues    map[int64]*ownerQueue // job queue for each owner
	ready     *list.List            // LRU queue storing owner IDs
	positions map[int64]*list.Element

	cancel context.CancelFunc
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewDispatcher(cfg DispatcherConfig, handler Handler, log zerolog.Logger) *Dispatcher {
	d := newDispatcher(cfg, handler, log)
	go d.run()
	return d
}

func newDispatcher(cfg DispatcherConfig, handler Handler, log zerolog.Logger) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With().Str("component", "dispatcher").Logger()

	d := &Dispatcher{
		queues:    make(map[int64]*ownerQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pool:      newJobChannelPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, handler, log),
		JobQueue:  make(chan Job, queueSize),
		log:       log,
		cancel:    cancel,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	return d
}

// Submit queues a job without blocking; a full queue yields ErrDispatcherBusy.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.quit:
		return ErrDispatcherClosed
	default:
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now()
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the owner in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // block until there is work
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// CancelOwner drops every queued job of the owner; running jobs are not interrupted.
func (d *Dispatcher) CancelOwner(ownerID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, ownerID)
	if elem, ok := d.positions[ownerID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
	}
}

// Pending reports how many jobs wait in per-owner queues.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n + len(d.JobQueue)
}

// Close stops dispatching, cancels the worker context and retires idle workers.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.quit)
		d.pool.close()
		<-d.done
		d.cancel()
	})
}

func (d *Dispatcher) enqueueJob(job Job) {
	ownerID := job.ownerID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[ownerID]
	if q == nil {
		q = &ownerQueue{}
		d.queues[ownerID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(ownerID)
	d.positions[ownerID] = elem
}

// dispatchOne get first owner in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	ownerID := elem.Value.(int64)
	q := d.queues[ownerID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last job of this owner, owner leaves the ready list
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
		delete(d.queues, ownerID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.log.Warn().Str("job", string(job.Type)).Int64("meeting_id", job.MeetingID).Msg("pool closed, job dropped")
		return false
	}
	debugLog(d.log, "[dispatcher] assign job %s for owner %d to worker-%d", job.Type, ownerID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

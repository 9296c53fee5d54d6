// Package concurrent provides the ordered callback dispatcher
// (component C): an executor that serializes tasks submitted under the
// same key, in submission order, while tasks under different keys run
// in parallel (spec.md §4.3). It is adapted from the teacher's single
// global FIFO job scheduler (pkg/mcast/concurrent/scheduler.go),
// generalized here into one such FIFO per key so that per-ledger
// ordering holds without serializing unrelated ledgers behind it.
package concurrent

import "sync"

// Task is a unit of work submitted to the Dispatcher under some key.
type Task func()

// Dispatcher is the ordered executor consumed by the façade/router
// (spec.md §6: "Ordered executor: submit_ordered(key, task)").
type Dispatcher interface {
	// Submit schedules task to run after every task previously
	// submitted under the same key, and concurrently with tasks
	// submitted under other keys.
	Submit(key int64, task Task)

	// Stop drains and shuts down every per-key queue. Pending tasks are
	// still run (in order) before Stop returns; no task is dropped.
	Stop()
}

// NewDispatcher returns a Dispatcher backed by one goroutine per key
// that has ever been submitted to. A key's goroutine is created lazily
// on first use and parked (not spinning) whenever its queue is empty;
// it lives for the Dispatcher's lifetime rather than being garbage
// collected between bursts, trading a little idle memory per distinct
// ledger_id for a dispatcher with no teardown races.
func NewDispatcher() Dispatcher {
	return &keyedDispatcher{
		queues: make(map[int64]*fifoQueue),
	}
}

type keyedDispatcher struct {
	mutex   sync.Mutex
	queues  map[int64]*fifoQueue
	stopped bool
}

func (d *keyedDispatcher) Submit(key int64, task Task) {
	d.mutex.Lock()
	if d.stopped {
		d.mutex.Unlock()
		panic("concurrent: dispatcher is already stopped")
	}
	q, ok := d.queues[key]
	if !ok {
		q = newFIFOQueue()
		d.queues[key] = q
	}
	d.mutex.Unlock()

	q.enqueue(task)
}

func (d *keyedDispatcher) Stop() {
	d.mutex.Lock()
	d.stopped = true
	queues := d.queues
	d.mutex.Unlock()

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *fifoQueue) {
			defer wg.Done()
			q.stop()
		}(q)
	}
	wg.Wait()
}

// fifoQueue runs the tasks submitted to it, in submission order, on a
// single dedicated goroutine, parking on wake when its backlog is
// empty.
type fifoQueue struct {
	mutex   sync.Mutex
	pending []Task
	wake    chan struct{}
	closing chan struct{}
	closed  chan struct{}
}

func newFIFOQueue() *fifoQueue {
	q := &fifoQueue{
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *fifoQueue) enqueue(t Task) {
	q.mutex.Lock()
	q.pending = append(q.pending, t)
	q.mutex.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *fifoQueue) run() {
	defer close(q.closed)
	for {
		for {
			task := q.pop()
			if task == nil {
				break
			}
			task()
		}

		select {
		case <-q.wake:
			continue
		case <-q.closing:
			// Run whatever slipped in between the last empty pop and
			// the close signal, then exit.
			for {
				task := q.pop()
				if task == nil {
					return
				}
				task()
			}
		}
	}
}

func (q *fifoQueue) pop() Task {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t
}

func (q *fifoQueue) stop() {
	close(q.closing)
	<-q.closed
}

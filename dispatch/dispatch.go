// Package dispatch decouples publication from transmission: a writer
// enqueues itself to request a later Progress call on a pool worker. The
// default PoolDispatcher is a bounded FIFO drained by a fixed set of
// workers that back off with a short sleep when idle.
package dispatch

import (
	"log/slog"
	"sync"
	"time"
)

// Progresser is the slice of the writer the dispatcher needs: one unit of
// send progress per call. Implementations must be comparable (pointer)
// values so duplicate enqueues can be coalesced.
type Progresser interface {
	Progress()
}

// Dispatcher schedules a later Progress call. Ordering is FIFO across
// enqueues of the same writer; duplicate enqueues may be coalesced. Enqueue
// reports false when the dispatcher is saturated or stopped; the writer
// relies on the next heartbeat/acknack round to recover from a dropped
// request.
type Dispatcher interface {
	Enqueue(w Progresser) bool
}

// PoolDispatcher is the default Dispatcher: a fixed-capacity FIFO of
// pending writers drained by a fixed number of worker goroutines. Workers
// poll the queue and sleep for idleSleep when it is empty.
type PoolDispatcher struct {
	mu      sync.Mutex
	queue   []Progresser // ring buffer, fixed capacity
	head    int
	length  int
	running bool

	idleSleep time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewPoolDispatcher constructs a dispatcher with the given queue capacity
// and worker count and starts its workers. All queue storage is allocated
// here; Enqueue never allocates.
func NewPoolDispatcher(capacity, workers int, idleSleep time.Duration, logger *slog.Logger) *PoolDispatcher {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	if idleSleep <= 0 {
		idleSleep = time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &PoolDispatcher{
		queue:     make([]Progresser, capacity),
		running:   true,
		idleSleep: idleSleep,
		logger:    logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.workerLoop()
	}
	return d
}

// Enqueue schedules w for a Progress call. A w already waiting in the
// queue is coalesced; a full queue drops the request.
func (d *PoolDispatcher) Enqueue(w Progresser) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return false
	}
	for i := 0; i < d.length; i++ {
		if d.queue[(d.head+i)%len(d.queue)] == w {
			return true
		}
	}
	if d.length == len(d.queue) {
		d.logger.Warn("dispatch queue saturated, dropping progress request")
		return false
	}
	d.queue[(d.head+d.length)%len(d.queue)] = w
	d.length++
	return true
}

func (d *PoolDispatcher) pop() (Progresser, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.length == 0 {
		return nil, false
	}
	w := d.queue[d.head]
	d.queue[d.head] = nil
	d.head = (d.head + 1) % len(d.queue)
	d.length--
	return w, true
}

func (d *PoolDispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		w, ok := d.pop()
		if !ok {
			d.mu.Lock()
			running := d.running
			d.mu.Unlock()
			if !running {
				return
			}
			time.Sleep(d.idleSleep)
			continue
		}
		w.Progress()
	}
}

// Close stops accepting work and waits for the workers to drain the queue
// and exit.
func (d *PoolDispatcher) Close() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()
	d.wg.Wait()
}

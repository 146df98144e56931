package server

import "sync"

// taskQueue is the unbounded FIFO feeding a connection's task loop. Once
// closed, push reports false and the caller keeps ownership of the task.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	ready  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

func (q *taskQueue) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *taskQueue) take() []func() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	return tasks
}

// closeAndTake closes the queue and returns whatever was still queued.
func (q *taskQueue) closeAndTake() []func() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.closed = true
	q.mu.Unlock()
	return tasks
}

// closedChan is permanently closed; waiting on it never blocks.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// outQueue holds encoded PDUs waiting for the writer goroutine. Producers
// never block on it. A queue holding more than limit bytes is congested
// and its space channel stays open until the writer drains it.
type outQueue struct {
	mu      sync.Mutex
	bufs    [][]byte
	size    int
	limit   int
	space   chan struct{}
	drained []chan struct{}
	ready   chan struct{}
}

func newOutQueue(limit int) *outQueue {
	return &outQueue{
		limit: limit,
		space: closedChan,
		ready: make(chan struct{}, 1),
	}
}

func (q *outQueue) push(b []byte) {
	q.mu.Lock()
	q.bufs = append(q.bufs, b)
	q.size += len(b)
	if q.limit > 0 && q.size > q.limit && q.space == closedChan {
		q.space = make(chan struct{})
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take hands the queued buffers to the writer. Their bytes still count
// against the limit until written reports them.
func (q *outQueue) take() [][]byte {
	q.mu.Lock()
	bufs := q.bufs
	q.bufs = nil
	q.mu.Unlock()
	return bufs
}

// written releases n bytes after the writer flushed them.
func (q *outQueue) written(n int) {
	q.mu.Lock()
	q.size -= n
	if q.space != closedChan && q.size <= q.limit {
		close(q.space)
		q.space = closedChan
	}
	if q.size == 0 {
		for _, ch := range q.drained {
			close(ch)
		}
		q.drained = nil
	}
	q.mu.Unlock()
}

// writable returns a channel that is closed while the queue is below its
// limit.
func (q *outQueue) writable() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.space
}

// congested reports whether the queue is above its limit.
func (q *outQueue) congested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.space != closedChan
}

// empty returns a channel closed once every queued byte has been written.
func (q *outQueue) empty() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return closedChan
	}
	ch := make(chan struct{})
	q.drained = append(q.drained, ch)
	return ch
}

func (q *outQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

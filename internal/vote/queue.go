package vote

import (
	"sync"

	"github.com/roach88/puzzlegate/internal/entity"
	"github.com/roach88/puzzlegate/internal/forum"
)

// confirmation is one queued vote confirmation.
type confirmation struct {
	Seq      uint64
	Key      forum.ItemKey
	Previous forum.Vote
	Vote     forum.Vote
	Applied  entity.VoteUpdate
}

// confirmQueue is a thread-safe FIFO queue of confirmations.
//
// The queue is unbounded so Toggle never blocks on the network. Toggle
// enqueues while holding the item lock, which keeps confirmations for one
// item in the order their transitions were applied.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the dispatch loop.
type confirmQueue struct {
	mu     sync.Mutex
	items  []confirmation
	closed bool
	signal chan struct{} // buffered, size 1
}

func newConfirmQueue() *confirmQueue {
	return &confirmQueue{
		items:  make([]confirmation, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds c to the back of the queue.
// Returns false if the queue is closed.
func (q *confirmQueue) Enqueue(c confirmation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, c)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front confirmation without blocking.
func (q *confirmQueue) TryDequeue() (confirmation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return confirmation{}, false
	}

	c := q.items[0]
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return c, true
}

// Wait returns a channel that signals when confirmations may be available.
// It is closed when the queue is closed.
func (q *confirmQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *confirmQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes the dispatcher.
func (q *confirmQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// pending counts confirmations that are queued or in flight.
type pending struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (p *pending) add() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		p.idle = make(chan struct{})
	}
	p.n++
}

func (p *pending) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n--
	if p.n == 0 {
		close(p.idle)
	}
}

// wait returns a channel closed once nothing is pending.
func (p *pending) wait() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.idle
}

package store

import (
	"sync"

	"github.com/google/uuid"
)

// pendingQueue is the FIFO work queue of orders awaiting a matching cycle.
// Entries may reference orders that have since been cancelled or expired;
// the matching engine discards those on drain.
type pendingQueue struct {
	mu     sync.Mutex
	ids    []uuid.UUID
	queued map[uuid.UUID]struct{}
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{queued: make(map[uuid.UUID]struct{})}
}

// Enqueue appends an order id unless it is already queued
func (q *pendingQueue) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[id]; ok {
		return
	}
	q.queued[id] = struct{}{}
	q.ids = append(q.ids, id)
}

// Drain removes and returns all queued order ids in FIFO order
func (q *pendingQueue) Drain() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.ids
	q.ids = nil
	q.queued = make(map[uuid.UUID]struct{})
	return out
}

// Remove drops a single id from the queue if present
func (q *pendingQueue) Remove(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[id]; !ok {
		return
	}
	delete(q.queued, id)
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
}

// Len returns the number of queued entries
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

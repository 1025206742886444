package batching

import (
	"fmt"
	"sync"
	"time"

	"asahi/internal/domain"
)

// queued pairs a request with the handle its caller is waiting on.
type queued struct {
	req    domain.QueuedRequest
	handle *Handle
}

// Queue is a FIFO partitioned by batch group. All state changes go
// through one mutex.
type Queue struct {
	mu     sync.Mutex
	groups map[string][]queued
	ids    map[string]string // request id -> group

	now func() time.Time
}

// NewQueue builds an empty queue.
func NewQueue() *Queue {
	return &Queue{
		groups: make(map[string][]queued),
		ids:    make(map[string]string),
		now:    time.Now,
	}
}

// Enqueue appends a request to its group. Duplicate ids are rejected.
func (q *Queue) Enqueue(group string, req domain.QueuedRequest, h *Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.ids[req.ID]; dup {
		return domain.E(domain.ErrBatching, fmt.Sprintf("duplicate request id %s", req.ID))
	}
	q.groups[group] = append(q.groups[group], queued{req: req, handle: h})
	q.ids[req.ID] = group
	return nil
}

// GetBatch atomically pops up to maxSize oldest entries from a group,
// removing the group when it empties.
func (q *Queue) GetBatch(group string, maxSize int) []queued {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.groups[group]
	if len(entries) == 0 || maxSize <= 0 {
		return nil
	}

	n := maxSize
	if n > len(entries) {
		n = len(entries)
	}
	batch := entries[:n:n]
	rest := entries[n:]
	if len(rest) == 0 {
		delete(q.groups, group)
	} else {
		q.groups[group] = rest
	}
	for _, item := range batch {
		delete(q.ids, item.req.ID)
	}
	return batch
}

// Peek returns up to max entries without removing them.
func (q *Queue) Peek(group string, max int) []domain.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.groups[group]
	if max > len(entries) {
		max = len(entries)
	}
	out := make([]domain.QueuedRequest, 0, max)
	for _, item := range entries[:max] {
		out = append(out, item.req)
	}
	return out
}

// HasExpired reports whether any entry in the group has passed its
// deadline.
func (q *Queue) HasExpired(group string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, item := range q.groups[group] {
		if !item.req.Deadline.After(now) {
			return true
		}
	}
	return false
}

// OldestAgeMs is the age of the group's oldest entry, 0 when empty.
func (q *Queue) OldestAgeMs(group string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.groups[group]
	if len(entries) == 0 {
		return 0
	}
	return q.now().Sub(entries[0].req.EnqueuedAt).Milliseconds()
}

// Remove cancels a queued request by id. Returns false when the id is
// not waiting (unknown or already batched).
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	group, ok := q.ids[id]
	if !ok {
		return false
	}
	entries := q.groups[group]
	for i, item := range entries {
		if item.req.ID == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			if len(entries) == 0 {
				delete(q.groups, group)
			} else {
				q.groups[group] = entries
			}
			delete(q.ids, id)
			return true
		}
	}
	return false
}

// Size returns the total number of queued requests.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// GroupSize returns the number of requests waiting in one group.
func (q *Queue) GroupSize(group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.groups[group])
}

// AllGroups lists the non-empty groups.
func (q *Queue) AllGroups() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, len(q.groups))
	for g := range q.groups {
		out = append(out, g)
	}
	return out
}

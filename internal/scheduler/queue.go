package scheduler

import "sync"

// Task is one in-progress download.
// ChunksSent only grows; the next read offset is ChunksSent * chunk size.
type Task struct {
	Filename   string
	Priority   string
	ChunksSent int64
}

// Queue is the ordered set of pending tasks shared by a session's ingestion
// and dispatch loops. Every method holds the lock only for the duration of
// the call; callers copy tasks out, do their I/O, then write back.
//
// Only the dispatcher removes tasks, and Append only adds at the tail, so an
// index read by the dispatcher stays valid until the dispatcher itself
// removes it.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Append adds t at the tail and wakes an idle dispatcher.
func (q *Queue) Append(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get returns a copy of the task at index i.
func (q *Queue) Get(i int) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tasks) {
		return Task{}, false
	}
	return q.tasks[i], true
}

// Set replaces the task at index i.
func (q *Queue) Set(i int, t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tasks) {
		return false
	}
	q.tasks[i] = t
	return true
}

// RemoveAt deletes the task at index i, shifting later tasks down.
func (q *Queue) RemoveAt(i int) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tasks) {
		return Task{}, false
	}
	t := q.tasks[i]
	copy(q.tasks[i:], q.tasks[i+1:])
	q.tasks[len(q.tasks)-1] = Task{}
	q.tasks = q.tasks[:len(q.tasks)-1]
	return t, true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns a copy of all pending tasks in order.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Ready is signalled after Append. A receive may be stale; callers re-check Len.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

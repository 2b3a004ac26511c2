package internal

import "sync"

// Loop is the single cooperative executor of the controller. Every mutation of controller state happens inside
// Drain, so no other locking is needed by the code that runs on it. Post may be called from any goroutine (fetch and
// RPC continuations use it to come back to the loop).
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

// NewLoop see Loop
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the next Drain.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default: // Already signaled
	}
}

// Wake is signaled (coalesced) after each Post, for hosts that are not polling every frame.
func (l *Loop) Wake() <-chan struct{} {
	return l.wake
}

// Drain runs all queued tasks, including the ones they post, and returns how many ran.
// It must only be called from one goroutine at a time.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, task := range batch {
			task()
			ran++
		}
	}
}

// Pending returns the number of tasks waiting for the next Drain.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

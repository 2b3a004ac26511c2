package internal

// source is implemented by every Cell so that effects can forget their previous dependencies before re-running.
type source interface {
	unlink(e *Effect)
}

// Cell is a named observable value owned by a Store.
//
// Peek is the transient read: always the latest value, never registers anything.
// Get is the durable read: same storage, but the reading Effect re-runs after the next effective write.
type Cell[T any] struct {
	store   *Store
	name    string
	value   T
	version uint64
	equal   func(a, b T) bool
	deps    []*Effect
}

// NewCell creates a cell whose writes are ignored when the new value is == to the current one.
func NewCell[T comparable](s *Store, name string, initial T) *Cell[T] {
	return NewCellFunc(s, name, initial, func(a, b T) bool { return a == b })
}

// NewCellFunc creates a cell with a custom equality (nil means every write notifies).
func NewCellFunc[T any](s *Store, name string, initial T, equal func(a, b T) bool) *Cell[T] {
	return &Cell[T]{store: s, name: name, value: initial, equal: equal}
}

// Name returns the debug name of the cell.
func (c *Cell[T]) Name() string {
	return c.name
}

// Peek returns the current value without subscribing.
func (c *Cell[T]) Peek() T {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.value
}

// PeekVersioned returns the current value and the number of effective writes so far.
func (c *Cell[T]) PeekVersioned() (T, uint64) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.value, c.version
}

// Get returns the current value and subscribes e (if non-nil) to the next change.
func (c *Cell[T]) Get(e *Effect) T {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if e != nil && !e.disposed {
		found := false
		for _, dep := range c.deps {
			if dep == e {
				found = true
				break
			}
		}
		if !found {
			c.deps = append(c.deps, e)
			e.sources = append(e.sources, c)
		}
	}
	return c.value
}

// Set stores v and reports whether it was an effective change.
func (c *Cell[T]) Set(v T) bool {
	return c.Update(func(T) T { return v })
}

// Update performs a read-modify-write. fn runs with the store locked and must not access the store.
func (c *Cell[T]) Update(fn func(old T) T) bool {
	c.store.mu.Lock()
	next := fn(c.value)
	if c.equal != nil && c.equal(c.value, next) {
		c.store.mu.Unlock()
		return false
	}
	c.value = next
	c.version++
	notify := c.deps
	c.deps = nil
	c.store.mu.Unlock()
	for _, e := range notify {
		e.schedule()
	}
	return true
}

func (c *Cell[T]) unlink(e *Effect) {
	for i, dep := range c.deps {
		if dep == e {
			c.deps = append(c.deps[:i], c.deps[i+1:]...)
			return
		}
	}
}

// Effect is an observer re-run on the store's loop after any cell it read durably (Get) changes.
// Multiple changes before the re-run collapse into a single run.
type Effect struct {
	store    *Store
	name     string
	fn       func(e *Effect)
	sources  []source
	queued   bool
	disposed bool
}

// Effect registers fn and runs it once immediately, on the calling goroutine (which must be the loop's).
func (s *Store) Effect(name string, fn func(e *Effect)) *Effect {
	e := &Effect{store: s, name: name, fn: fn}
	e.run()
	return e
}

// Name returns the debug name of the effect.
func (e *Effect) Name() string {
	return e.name
}

// Dispose stops any further re-run.
func (e *Effect) Dispose() {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.disposed = true
	e.unlinkLocked()
}

func (e *Effect) unlinkLocked() {
	for _, src := range e.sources {
		src.unlink(e)
	}
	e.sources = nil
}

func (e *Effect) schedule() {
	e.store.mu.Lock()
	if e.queued || e.disposed {
		e.store.mu.Unlock()
		return
	}
	e.queued = true
	e.store.mu.Unlock()
	e.store.loop.Post(e.run)
}

func (e *Effect) run() {
	e.store.mu.Lock()
	if e.disposed {
		e.store.mu.Unlock()
		return
	}
	e.queued = false
	e.unlinkLocked() // Dependencies are collected again by this run
	e.store.mu.Unlock()
	e.fn(e)
}

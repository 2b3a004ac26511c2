package internal

// Handle is either Uninitialized (the zero value) or Ready(engine).
type Handle struct {
	engine Engine
}

// Ready wraps an initialized engine. Ready(nil) is the same as Uninitialized.
func Ready(e Engine) Handle {
	return Handle{engine: e}
}

// Ready reports whether the engine can be used.
func (h Handle) Ready() bool {
	return h.engine != nil
}

// Engine returns the engine and whether it is ready.
func (h Handle) Engine() (Engine, bool) {
	return h.engine, h.engine != nil
}

// Guard is the single choke point of every engine interaction: operations run only when the engine (and the surface,
// for the second variant) is available, otherwise they are silently skipped (not queued).
// It only reads cells, so it is safe to use from any goroutine, but ops should run on the loop.
type Guard struct {
	engine  *Cell[Handle]
	surface *Cell[Surface]
}

// NewGuard see Guard
func NewGuard(s *Store) *Guard {
	return &Guard{engine: s.Engine, surface: s.Surface}
}

// WithEngine calls op iff the engine is ready, and reports whether it did.
func (g *Guard) WithEngine(op func(e Engine)) bool {
	e, ok := g.engine.Peek().Engine()
	if !ok {
		return false
	}
	op(e)
	return true
}

// WithEngineAndSurface calls op iff the engine is ready and a surface is bound, and reports whether it did.
func (g *Guard) WithEngineAndSurface(op func(e Engine, s Surface)) bool {
	e, ok := g.engine.Peek().Engine()
	if !ok {
		return false
	}
	s := g.surface.Peek()
	if s == nil {
		return false
	}
	op(e, s)
	return true
}

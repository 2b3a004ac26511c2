package ui

import (
	"context"
	"time"

	"github.com/Yeicor/toy-ui/internal"
	"github.com/subchen/go-trylock/v2"
	"go.uber.org/zap"
)

// ReloadState is the state of the reload state machine, as derived from the reload intents.
type ReloadState int

const (
	// ReloadIdle means that nothing is pending.
	ReloadIdle ReloadState = iota
	// ReloadAwaitingInitialReset means that the first successful compilation (followed by an engine reset) is pending.
	ReloadAwaitingInitialReset
	// ReloadManualPending means that a manual reload was requested and has not completed yet.
	ReloadManualPending
	// ReloadHotArmed means that every source change triggers a reload.
	ReloadHotArmed
)

func (s ReloadState) String() string {
	switch s {
	case ReloadIdle:
		return "Idle"
	case ReloadAwaitingInitialReset:
		return "AwaitingInitialReset"
	case ReloadManualPending:
		return "ManualPending"
	case ReloadHotArmed:
		return "HotArmed"
	default:
		return "Unknown"
	}
}

const (
	reasonInitial = "initial"
	reasonManual  = "manual"
	reasonHot     = "hot"
)

// reloadSequence is one uniform upload followed by one shader compilation.
type reloadSequence struct {
	id       uint64
	reason   string
	awaiting bool // The shader was sent, waiting for the compile callbacks
	done     func(ok bool)
	timeout  *time.Timer
	started  time.Time

	hadEngine     bool
	engineVersion uint64 // Engine handle the uniforms were uploaded to
	shaderIndex   uint64 // Number of the SetShader call of this sequence (for the current handle)
}

// reloadCoordinator sequences reloads: at most one is in flight, and its result is the next compile callback.
// Everything runs on the loop.
type reloadCoordinator struct {
	c                *Controller
	seq              *reloadSequence
	lastID           uint64
	hotPending       bool // A hot reload was requested while busy
	deferred         bool // A one-shot request found the coordinator busy
	uniformsInFlight bool // A standalone uniform upload is running
	compiling        trylock.TryLocker
	log              *zap.Logger

	// Compile results are reported in the order of the SetShader calls, so they are matched by counting
	shadersSent uint64
	resultsSeen uint64
}

func newReloadCoordinator(c *Controller, compiling trylock.TryLocker) *reloadCoordinator {
	return &reloadCoordinator{c: c, compiling: compiling, log: logger("reload")}
}

func (r *reloadCoordinator) state() ReloadState {
	s := r.c.store
	switch {
	case s.NeedsInitialReset.Peek():
		return ReloadAwaitingInitialReset
	case s.ManualReload.Peek():
		return ReloadManualPending
	case s.HotReload.Peek():
		return ReloadHotArmed
	default:
		return ReloadIdle
	}
}

func (r *reloadCoordinator) busy() bool {
	return r.seq != nil || r.uniformsInFlight
}

// step is the per-tick transition of the state machine. Unfinished work is retried by later steps.
func (r *reloadCoordinator) step() {
	s := r.c.store
	if !s.DocumentLoaded.Peek() {
		return
	}
	if s.NeedsInitialReset.Peek() {
		r.reload(reasonInitial, func(ok bool) {
			if !ok || !s.NeedsInitialReset.Peek() {
				return
			}
			if r.c.resetEngine() {
				s.NeedsInitialReset.Set(false)
			}
		})
		return
	}
	if s.ManualReload.Peek() {
		r.reload(reasonManual, func(bool) {
			s.ManualReload.Set(false) // Whatever the compile result
		})
	}
}

// hotReloadEffect reloads after every change of the source, or after arming hot reload, but not when mounting.
func (r *reloadCoordinator) hotReloadEffect() func(e *internal.Effect) {
	first := true
	return func(e *internal.Effect) {
		s := r.c.store
		s.Source.Get(e)
		armed := s.HotReload.Get(e)
		if first {
			first = false
			return
		}
		if armed {
			r.reload(reasonHot, nil)
		}
	}
}

// pausedEffect steps the state machine while no tick is running, so that reloads still happen when paused.
func (r *reloadCoordinator) pausedEffect(e *internal.Effect) {
	s := r.c.store
	s.ManualReload.Get(e)
	s.DocumentLoaded.Get(e)
	s.Play.Get(e)
	s.Engine.Get(e)
	if !r.c.scheduler.playing() {
		r.step()
	}
}

// reload starts a sequence, unless one is already running (then a hot reload is remembered and the others are
// retried by the next step).
func (r *reloadCoordinator) reload(reason string, done func(ok bool)) bool {
	if r.busy() {
		if reason == reasonHot {
			r.hotPending = true
		} else {
			r.deferred = true
		}
		return false
	}
	if reason != reasonHot {
		r.deferred = false
	}
	r.lastID++
	h, version := r.c.store.Engine.PeekVersioned()
	seq := &reloadSequence{id: r.lastID, reason: reason, done: done, started: r.c.now(),
		hadEngine: h.Ready(), engineVersion: version}
	r.seq = seq
	r.compiling.Lock()
	r.log.Debug("reload started", zap.Uint64("id", seq.id), zap.String("reason", reason))
	r.syncUniforms(func() {
		r.setShader(seq)
	})
	return true
}

// syncUniforms uploads a snapshot of the sliders (in the background) and then continues on the loop.
func (r *reloadCoordinator) syncUniforms(then func()) {
	names, values, version := r.c.store.UniformSnapshot()
	var engine internal.Engine
	r.c.guard.WithEngine(func(e internal.Engine) {
		engine = e
	})
	if engine == nil {
		r.c.post(then) // Nothing to upload to: the signal stays raised, and a reload fails before sending its shader
		return
	}
	if len(names) == 0 {
		r.c.post(func() {
			r.uniformsSynced(version)
			then()
		})
		return
	}
	r.c.spawn(func(ctx context.Context) {
		if err := engine.SetCustomFloats(ctx, names, values); err != nil {
			r.log.Warn("could not upload uniforms", zap.Strings("names", names), zap.Error(err))
		}
		r.c.post(func() {
			r.uniformsSynced(version)
			then()
		})
	})
}

// uniformsSynced lowers the slider update signal, unless the sliders changed after the uploaded snapshot.
func (r *reloadCoordinator) uniformsSynced(version uint64) {
	if _, current := r.c.store.Sliders.PeekVersioned(); current == version {
		r.c.store.SliderUpdate.Set(false)
	}
}

// resyncThenStep uploads pending slider changes and then steps the state machine.
func (r *reloadCoordinator) resyncThenStep() {
	if r.busy() { // The running work steps again (or uploads again) when it finishes
		return
	}
	r.uniformsInFlight = true
	r.syncUniforms(func() {
		r.uniformsInFlight = false
		r.step()
		r.flushHot()
	})
}

func (r *reloadCoordinator) setShader(seq *reloadSequence) {
	if r.seq != seq {
		return
	}
	if _, version := r.c.store.Engine.PeekVersioned(); !seq.hadEngine || version != seq.engineVersion {
		// The uniforms did not reach the current engine
		r.log.Debug("engine changed during the reload", zap.Uint64("id", seq.id))
		r.finish(seq, false)
		return
	}
	r.c.ensureEngineCallbacks()
	source := r.c.store.Source.Peek()
	sent := r.c.guard.WithEngine(func(e internal.Engine) {
		r.shadersSent++
		seq.shaderIndex = r.shadersSent
		seq.awaiting = true
		e.SetShader(source)
	})
	if !sent {
		r.finish(seq, false)
		return
	}
	seq.timeout = time.AfterFunc(r.c.compileTimeout, func() {
		r.c.post(func() {
			if r.seq == seq {
				r.log.Warn("compile result not reported in time", zap.Uint64("id", seq.id),
					zap.Duration("timeout", r.c.compileTimeout))
				r.finish(seq, false)
			}
		})
	})
}

// compiled is the next compile result of the engine.
func (r *reloadCoordinator) compiled(ok bool) {
	if r.resultsSeen < r.shadersSent {
		r.resultsSeen++
	}
	seq := r.seq
	if seq == nil || !seq.awaiting {
		return // Not requested by a sequence
	}
	if r.resultsSeen < seq.shaderIndex {
		r.log.Debug("ignoring the late result of a previous compilation", zap.Uint64("id", seq.id),
			zap.Bool("success", ok))
		return
	}
	r.finish(seq, ok)
}

// engineChanged forgets the compilations sent to the previous engine handle.
func (r *reloadCoordinator) engineChanged() {
	r.shadersSent, r.resultsSeen = 0, 0
	if seq := r.seq; seq != nil && seq.awaiting {
		r.finish(seq, false) // Its result will never be delivered
	}
}

func (r *reloadCoordinator) finish(seq *reloadSequence, ok bool) {
	if seq.timeout != nil {
		seq.timeout.Stop()
	}
	r.seq = nil
	r.compiling.Unlock()
	r.log.Debug("reload finished", zap.Uint64("id", seq.id), zap.String("reason", seq.reason),
		zap.Bool("success", ok), zap.Duration("took", r.c.now().Sub(seq.started)))
	if seq.done != nil {
		seq.done(ok)
	}
	r.flushHot()
	r.flushDeferred()
}

// flushHot runs the hot reload requested while busy, if any.
func (r *reloadCoordinator) flushHot() {
	if !r.hotPending || r.busy() {
		return
	}
	r.hotPending = false
	if r.c.store.HotReload.Peek() {
		r.reload(reasonHot, nil)
	}
}

// flushDeferred steps again for a one-shot request that found the coordinator busy. While playing, the next tick
// does it.
func (r *reloadCoordinator) flushDeferred() {
	if !r.deferred || r.busy() || r.c.scheduler.playing() {
		return
	}
	r.deferred = false
	r.c.post(r.step)
}

// abort forgets the running sequence without completing it.
func (r *reloadCoordinator) abort() {
	if seq := r.seq; seq != nil {
		if seq.timeout != nil {
			seq.timeout.Stop()
		}
		r.seq = nil
		r.compiling.Unlock()
	}
	r.hotPending = false
	r.deferred = false
	r.uniformsInFlight = false
}

package ui

import (
	"sync/atomic"
	"time"

	"github.com/Yeicor/toy-ui/internal"
)

// frameScheduler runs one tick per host frame while playing: pending uniform updates, the reload state machine and
// then the actual render.
type frameScheduler struct {
	c         *Controller
	isPlaying atomic.Bool
	tick      func(now time.Time) // The scheduled frame callback (nil when paused)
	clock     elapsedClock
	starts    int
}

func newFrameScheduler(c *Controller) *frameScheduler {
	return &frameScheduler{c: c}
}

func (s *frameScheduler) playing() bool {
	return s.isPlaying.Load()
}

// reconcile is the effect that makes the scheduler follow the play intent. Calling it repeatedly with the same
// intent does nothing.
func (s *frameScheduler) reconcile(e *internal.Effect) {
	play := s.c.store.Play.Get(e)
	switch {
	case play && !s.playing():
		s.play()
	case !play && s.playing():
		s.pause()
	}
}

func (s *frameScheduler) play() {
	if s.playing() {
		return
	}
	s.isPlaying.Store(true)
	s.starts++
	s.clock.start(s.c.now())
	s.tick = s.onTick
	logger("scheduler").Debug("playing")
}

func (s *frameScheduler) pause() {
	if !s.playing() {
		return
	}
	s.isPlaying.Store(false)
	s.tick = nil
	s.clock.stop(s.c.now())
	logger("scheduler").Debug("paused")
}

func (s *frameScheduler) resetClock() {
	s.clock.reset(s.c.now())
}

// frame runs the scheduled tick, if any.
func (s *frameScheduler) frame(now time.Time) {
	if tick := s.tick; tick != nil {
		tick(now)
	}
}

func (s *frameScheduler) onTick(now time.Time) {
	r := s.c.reloader
	if s.c.store.SliderUpdate.Peek() {
		r.resyncThenStep()
	} else {
		r.step()
	}
	if !s.playing() { // May have been paused in the meantime
		return
	}
	elapsed := float32(s.clock.elapsed(now).Seconds())
	s.c.guard.WithEngineAndSurface(func(e internal.Engine, _ internal.Surface) {
		e.SetTimeElapsed(elapsed)
		e.Render()
	})
}

// elapsedClock measures the time spent playing since the last reset.
type elapsedClock struct {
	offset  time.Duration
	since   time.Time
	running bool
}

func (k *elapsedClock) start(now time.Time) {
	if k.running {
		return
	}
	k.since = now
	k.running = true
}

func (k *elapsedClock) stop(now time.Time) {
	if !k.running {
		return
	}
	k.offset = k.elapsed(now)
	k.running = false
}

func (k *elapsedClock) reset(now time.Time) {
	k.offset = 0
	k.since = now
}

func (k *elapsedClock) elapsed(now time.Time) time.Duration {
	if !k.running {
		return k.offset
	}
	d := now.Sub(k.since)
	if d < 0 {
		d = 0
	}
	return k.offset + d
}

package ui

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"sync/atomic"
	"time"

	"github.com/Yeicor/toy-ui/internal"
	"github.com/pkg/errors"
	"github.com/subchen/go-trylock/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Controller keeps a shader/compute engine synchronized with the user's intents: it owns the frame loop, sequences
// shader reloads, keeps the engine resolution in sync with the layout, streams textures and forwards input.
//
// All state lives in reactive cells: setters may be called from any goroutine, while every reaction runs on the
// goroutine that calls Frame (the host's frame callback), so that no engine operation ever runs concurrently.
type Controller struct {
	loop  *internal.Loop
	store *internal.Store
	guard *internal.Guard

	scheduler *frameScheduler
	reloader  *reloadCoordinator
	resizer   *resizeCoordinator
	textures  *textureLoader
	input     *inputForwarder

	// Lifetime (loop goroutine only)
	mounted     bool
	ctx         context.Context
	cancel      context.CancelFunc
	workers     *errgroup.Group
	effects     []*internal.Effect
	callbackGen uint64 // Compile callbacks of older engine handles are ignored
	callbacksOn uint64 // Engine handle version the callbacks are bound to
	callbacksOK bool
	pulseGen    uint64
	ownedEngine io.Closer

	// Host
	frameCache   *frameCache
	hostInput    *ebitenInput
	overlay      bool
	onFullscreen func(bool)

	// Configuration
	now              func() time.Time
	compileTimeout   time.Duration
	savePulse        time.Duration
	fps              int
	dimensions       DimensionsFunc
	fetcher          Fetcher
	watchPath        string
	remoteNetwork    string
	remoteAddr       string
	sliderSource     interface{}
	initialEngine    Engine
	initialPlay      bool
	initialHotReload bool
	initialHalfRes   bool
	initialTextures  [NumTextureSlots]string
}

// NewController creates a controller with the given options. Nothing happens until it is mounted (see Mount, Run
// and RunHeadless).
func NewController(opts ...Option) *Controller {
	loop := internal.NewLoop()
	store := internal.NewStore(loop)
	c := &Controller{
		loop:           loop,
		store:          store,
		guard:          internal.NewGuard(store),
		now:            time.Now,
		compileTimeout: 10 * time.Second,
		savePulse:      time.Second,
		fps:            60,
		dimensions:     DefaultDimensions,
		overlay:        true,
		initialPlay:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = NewFetcher(nil, 3)
	}
	c.scheduler = newFrameScheduler(c)
	c.reloader = newReloadCoordinator(c, trylock.New())
	c.resizer = newResizeCoordinator(c)
	c.textures = newTextureLoader(c)
	c.input = newInputForwarder(c.guard)
	c.applyInitialState()
	return c
}

//-----------------------------------------------------------------------------
// CONFIGURATION
//-----------------------------------------------------------------------------

// Option configures a Controller
type Option func(c *Controller)

// OptEngine uses an already initialized engine.
func OptEngine(e Engine) Option {
	return func(c *Controller) {
		c.initialEngine = e
	}
}

// OptRemoteEngine connects (in the background, retrying) to an engine served by NewEngineServer.
func OptRemoteEngine(network, addr string) Option {
	return func(c *Controller) {
		c.remoteNetwork = network
		c.remoteAddr = addr
	}
}

// OptWatchShader loads the shader source from the given file when mounted and updates it on every change.
func OptWatchShader(path string) Option {
	return func(c *Controller) {
		c.watchPath = path
	}
}

// OptSlidersFrom creates one slider for each field tagged `uniform:"name"` of the given struct (pointer).
// See SyncSliders to update them.
func OptSlidersFrom(v interface{}) Option {
	return func(c *Controller) {
		c.sliderSource = v
	}
}

// OptPlay sets the initial playback intent (playing by default).
func OptPlay(play bool) Option {
	return func(c *Controller) {
		c.initialPlay = play
	}
}

// OptHotReload sets the initial hot reload intent (disabled by default).
func OptHotReload(enabled bool) Option {
	return func(c *Controller) {
		c.initialHotReload = enabled
	}
}

// OptHalfResolution makes the engine render at half scale.
func OptHalfResolution(enabled bool) Option {
	return func(c *Controller) {
		c.initialHalfRes = enabled
	}
}

// OptTextures sets the initial texture URIs (local paths, file:// or http(s) URLs). Empty means no texture.
func OptTextures(uris ...string) Option {
	return func(c *Controller) {
		for i := 0; i < len(uris) && i < NumTextureSlots; i++ {
			c.initialTextures[i] = uris[i]
		}
	}
}

// OptFetcher replaces how texture data is downloaded.
func OptFetcher(f Fetcher) Option {
	return func(c *Controller) {
		c.fetcher = f
	}
}

// OptDimensions replaces how the engine resolution is derived from the (device pixel) container width.
func OptDimensions(fn DimensionsFunc) Option {
	return func(c *Controller) {
		c.dimensions = fn
	}
}

// OptCompileTimeout bounds how long a reload waits for the compile result before giving up.
func OptCompileTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.compileTimeout = d
	}
}

// OptSavePulse sets how long the save indicator shows the error color after a failed compilation.
func OptSavePulse(d time.Duration) Option {
	return func(c *Controller) {
		c.savePulse = d
	}
}

// OptFPS sets the frame rate of RunHeadless and the window's ticks per second of Run.
func OptFPS(fps int) Option {
	return func(c *Controller) {
		if fps > 0 {
			c.fps = fps
		}
	}
}

// OptClock replaces the source of time of the frame clock.
func OptClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// OptFullscreenHook is called with every change of the fullscreen request. Run installs ebiten.SetFullscreen if
// none is configured.
func OptFullscreenHook(fn func(fullscreen bool)) Option {
	return func(c *Controller) {
		c.onFullscreen = fn
	}
}

// OptOverlay shows or hides the status overlay of the window.
func OptOverlay(enabled bool) Option {
	return func(c *Controller) {
		c.overlay = enabled
	}
}

//-----------------------------------------------------------------------------
// LIFECYCLE
//-----------------------------------------------------------------------------

// Mount registers every reaction and starts the background initializers.
// It must be called from the goroutine that will call Frame. Mounting twice does nothing.
func (c *Controller) Mount() {
	if c.mounted {
		return
	}
	c.mounted = true
	ctx, cancel := context.WithCancel(context.Background())
	c.workers, c.ctx = errgroup.WithContext(ctx)
	c.cancel = cancel
	log := logger("controller")

	s := c.store
	c.effect("engine-callbacks", c.bindEngineCallbacks)
	c.effect("playback", c.scheduler.reconcile)
	c.effect("reset", func(e *internal.Effect) {
		if !s.Reset.Get(e) {
			return
		}
		c.resetEngine()
		s.Reset.Set(false)
	})
	firstFullscreen := true
	c.effect("fullscreen", func(e *internal.Effect) {
		want := s.FullscreenRequest.Get(e)
		if firstFullscreen {
			firstFullscreen = false
			return
		}
		if c.onFullscreen != nil {
			c.onFullscreen(want)
		}
	})
	c.effect("hot-reload", c.reloader.hotReloadEffect())
	c.effect("paused-reload", c.reloader.pausedEffect)
	c.effect("resize", c.resizer.effect)
	for slot := 0; slot < NumTextureSlots; slot++ {
		c.effect(fmt.Sprintf("texture%d", slot), c.textures.effect(slot))
	}

	if c.sliderSource != nil {
		if err := c.SyncSliders(c.sliderSource); err != nil {
			log.Warn("could not read sliders", zap.Error(err))
		}
	}
	if c.watchPath != "" {
		c.spawn(func(ctx context.Context) { c.watchShader(ctx, c.watchPath) })
	}
	if c.remoteAddr != "" {
		c.spawn(func(ctx context.Context) { c.dialRemote(ctx, c.remoteNetwork, c.remoteAddr) })
	}
	log.Debug("mounted")
}

// Unmount stops every reaction and background task. Pending continuations are dropped.
// It must be called from the goroutine that calls Frame.
func (c *Controller) Unmount() {
	if !c.mounted {
		return
	}
	c.mounted = false
	c.scheduler.pause()
	c.reloader.abort()
	for _, e := range c.effects {
		e.Dispose()
	}
	c.effects = nil
	c.callbacksOK = false
	c.cancel()
	if err := c.workers.Wait(); err != nil {
		logger("controller").Warn("background task failed", zap.Error(err))
	}
	if c.ownedEngine != nil {
		if err := c.ownedEngine.Close(); err != nil {
			logger("controller").Warn("could not close engine", zap.Error(err))
		}
		c.ownedEngine = nil
	}
	logger("controller").Debug("unmounted")
}

// Frame is the host's frame callback: it runs every pending reaction and continuation, then the scheduled tick (if
// playing).
func (c *Controller) Frame(now time.Time) {
	if !c.mounted {
		return
	}
	c.loop.Drain()
	c.scheduler.frame(now)
}

func (c *Controller) effect(name string, fn func(e *internal.Effect)) {
	c.effects = append(c.effects, c.store.Effect(name, fn))
}

// post schedules fn on the loop, unless the controller has been unmounted by then.
func (c *Controller) post(fn func()) {
	c.loop.Post(func() {
		if c.mounted {
			fn()
		}
	})
}

// spawn runs fn in the background until the controller is unmounted.
func (c *Controller) spawn(fn func(ctx context.Context)) {
	ctx := c.ctx
	c.workers.Go(func() error {
		fn(ctx)
		return nil
	})
}

//-----------------------------------------------------------------------------
// ENGINE CALLBACKS
//-----------------------------------------------------------------------------

func (c *Controller) bindEngineCallbacks(e *internal.Effect) {
	c.store.Engine.Get(e)
	c.ensureEngineCallbacks()
}

// ensureEngineCallbacks registers the compile callbacks on the current engine handle, once per handle. It runs
// before any shader is sent to a handle.
func (c *Controller) ensureEngineCallbacks() {
	h, version := c.store.Engine.PeekVersioned()
	if c.callbacksOK && c.callbacksOn == version {
		return
	}
	c.callbacksOK, c.callbacksOn = true, version
	c.callbackGen++
	c.reloader.engineChanged()
	eng, ok := h.Engine()
	if !ok {
		return
	}
	gen := c.callbackGen
	eng.OnSuccess(func(entryPoints []string) {
		c.post(func() {
			if gen == c.callbackGen {
				c.compileSucceeded(entryPoints)
			}
		})
	})
	eng.OnError(func(summary string, row, col int) {
		c.post(func() {
			if gen == c.callbackGen {
				c.compileFailed(summary, row, col)
			}
		})
	})
}

func (c *Controller) compileSucceeded(entryPoints []string) {
	c.store.Error.Set(internal.ErrorDescriptor{Success: true})
	c.store.EntryPoints.Set(entryPoints)
	c.reloader.compiled(true)
}

func (c *Controller) compileFailed(summary string, row, col int) {
	c.store.Error.Set(internal.ErrorDescriptor{Summary: summary, Position: internal.Position{Row: row, Col: col}})
	if !c.store.HotReload.Peek() {
		c.pulseSaveColor()
	}
	c.reloader.compiled(false)
}

// pulseSaveColor shows the error color on the save indicator for a while.
func (c *Controller) pulseSaveColor() {
	c.pulseGen++
	gen := c.pulseGen
	c.store.SaveColor.Set(internal.ErrorSaveColor)
	time.AfterFunc(c.savePulse, func() {
		c.post(func() {
			if gen == c.pulseGen {
				c.store.SaveColor.Set(internal.DefaultSaveColor)
			}
		})
	})
}

// resetEngine resets the engine and the frame clock (if the engine is ready).
func (c *Controller) resetEngine() bool {
	ran := c.guard.WithEngine(func(e internal.Engine) {
		e.Reset()
	})
	if ran {
		c.scheduler.resetClock()
	}
	return ran
}

//-----------------------------------------------------------------------------
// INTENTS (any goroutine)
//-----------------------------------------------------------------------------

// SetPlay plays or pauses the frame loop.
func (c *Controller) SetPlay(play bool) {
	c.store.Play.Set(play)
}

// TogglePlay flips the playback intent.
func (c *Controller) TogglePlay() {
	c.store.Play.Update(func(old bool) bool { return !old })
}

// RequestReset asks for a one-shot engine reset (which also zeroes the frame clock).
func (c *Controller) RequestReset() {
	c.store.Reset.Set(true)
}

// SetHotReload arms or disarms hot reload: while armed, every change of the source triggers a reload.
func (c *Controller) SetHotReload(enabled bool) {
	c.store.HotReload.Set(enabled)
}

// RequestReload asks for a one-shot reload of the current source.
func (c *Controller) RequestReload() {
	c.store.ManualReload.Set(true)
}

// SetShaderSource replaces the shader source.
func (c *Controller) SetShaderSource(source string) {
	c.store.Source.Set(source)
}

// SetDocumentLoaded reports whether the shader document (and its configuration) finished loading.
func (c *Controller) SetDocumentLoaded(loaded bool) {
	c.store.DocumentLoaded.Set(loaded)
}

// ErrSlotOutOfRange is returned when addressing a texture slot that does not exist.
var ErrSlotOutOfRange = errors.New("texture slot out of range")

// SetTexture sets the URI of a texture slot (empty clears it).
func (c *Controller) SetTexture(slot int, uri string) error {
	if slot < 0 || slot >= NumTextureSlots {
		return errors.Wrapf(ErrSlotOutOfRange, "slot %d", slot)
	}
	c.store.Textures[slot].Set(uri)
	return nil
}

// SetSlider adds or updates the control id, bound to the given uniform.
func (c *Controller) SetSlider(id, uniform string, value float32) {
	c.store.SetSlider(id, internal.Slider{Uniform: uniform, Value: value})
}

// RemoveSlider removes the control id.
func (c *Controller) RemoveSlider(id string) {
	c.store.RemoveSlider(id)
}

// SyncSliders reads every `uniform:"name"` tagged field of v and updates the matching sliders.
func (c *Controller) SyncSliders(v interface{}) error {
	sliders, err := internal.SlidersFromStruct(v)
	if err != nil {
		return err
	}
	for id, slider := range sliders {
		c.store.SetSlider(id, slider)
	}
	return nil
}

// SetHalfResolution makes the engine render at half scale.
func (c *Controller) SetHalfResolution(enabled bool) {
	c.store.HalfResolution.Set(enabled)
}

// RequestFullscreen asks the host to enter or leave fullscreen.
func (c *Controller) RequestFullscreen(fullscreen bool) {
	c.store.FullscreenRequest.Set(fullscreen)
}

// NotifyGeometry reports the current layout of the surface.
func (c *Controller) NotifyGeometry(g Geometry) {
	c.store.Geometry.Set(g)
}

// SetEngine reports that the engine finished initializing (nil goes back to uninitialized).
func (c *Controller) SetEngine(e Engine) {
	c.store.Engine.Set(internal.Ready(e))
}

// BindSurface reports the surface the engine renders to (nil unbinds it).
func (c *Controller) BindSurface(s Surface) {
	c.store.Surface.Set(s)
}

// HandleInput forwards a keyboard or pointer event to the engine.
func (c *Controller) HandleInput(ev InputEvent) {
	c.post(func() {
		c.input.handle(ev)
	})
}

//-----------------------------------------------------------------------------
// OUTPUTS (any goroutine)
//-----------------------------------------------------------------------------

// Error returns the latest compile result.
func (c *Controller) Error() ErrorDescriptor {
	return c.store.Error.Peek()
}

// EntryPoints returns the entry points reported by the latest successful compilation.
func (c *Controller) EntryPoints() []string {
	return c.store.EntryPoints.Peek()
}

// SaveColor returns the current color of the save indicator (it pulses after failed manual compilations).
func (c *Controller) SaveColor() color.RGBA {
	return c.store.SaveColor.Peek()
}

// IsPlaying reports whether the frame loop is actually running (which may lag behind SetPlay until the next frame).
func (c *Controller) IsPlaying() bool {
	return c.scheduler.playing()
}

// ReloadState returns the current state of the reload state machine.
func (c *Controller) ReloadState() ReloadState {
	return c.reloader.state()
}

// WatchError calls fn (on the frame goroutine) with the current compile result and after every change, until the
// returned function is called.
func (c *Controller) WatchError(fn func(ErrorDescriptor)) (stop func()) {
	return watch(c, "watch-error", c.store.Error, fn)
}

// WatchEntryPoints see WatchError
func (c *Controller) WatchEntryPoints(fn func([]string)) (stop func()) {
	return watch(c, "watch-entry-points", c.store.EntryPoints, fn)
}

// WatchSaveColor see WatchError
func (c *Controller) WatchSaveColor(fn func(color.RGBA)) (stop func()) {
	return watch(c, "watch-save-color", c.store.SaveColor, fn)
}

func watch[T any](c *Controller, name string, cell *internal.Cell[T], fn func(T)) (stop func()) {
	var eff *internal.Effect
	var stopped atomic.Bool
	c.loop.Post(func() {
		if stopped.Load() {
			return
		}
		eff = c.store.Effect(name, func(e *internal.Effect) {
			fn(cell.Get(e))
		})
	})
	return func() {
		stopped.Store(true)
		c.loop.Post(func() {
			if eff != nil {
				eff.Dispose()
			}
		})
	}
}

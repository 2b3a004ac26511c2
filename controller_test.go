package ui

import (
	"context"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Yeicor/toy-ui/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records every call. Sources containing "error" fail to compile.
type fakeEngine struct {
	mu         sync.Mutex
	calls      []string
	shaders    []string
	floatNames [][]string
	floats     [][]float32
	times      []float32
	resizes    []resolution
	channels   map[int][]byte
	hdr        map[int]bool
	uploads    map[int]int
	keys       [][2]int
	positions  [][2]float32
	clicks     []bool
	silent     bool // Do not report compile results
	onSuccess  func([]string)
	onError    func(string, int, int)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{channels: map[int][]byte{}, hdr: map[int]bool{}, uploads: map[int]int{}}
}

func (f *fakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) SetShader(source string) {
	f.mu.Lock()
	f.record("SetShader")
	f.shaders = append(f.shaders, source)
	silent := f.silent
	f.mu.Unlock()
	if !silent {
		f.complete(!strings.Contains(source, "error"))
	}
}

// complete reports a compile result, as the engine would do asynchronously.
func (f *fakeEngine) complete(ok bool) {
	f.mu.Lock()
	onSuccess, onError := f.onSuccess, f.onError
	f.mu.Unlock()
	if ok && onSuccess != nil {
		onSuccess([]string{"main_image"})
	} else if !ok && onError != nil {
		onError("syntax error", 3, 7)
	}
}

func (f *fakeEngine) SetCustomFloats(_ context.Context, names []string, values []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetCustomFloats")
	f.floatNames = append(f.floatNames, names)
	f.floats = append(f.floats, values)
	return nil
}

func (f *fakeEngine) Render() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Render")
}

func (f *fakeEngine) SetTimeElapsed(seconds float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetTimeElapsed")
	f.times = append(f.times, seconds)
}

func (f *fakeEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Reset")
}

func (f *fakeEngine) Resize(width, height int, scale float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Resize")
	f.resizes = append(f.resizes, resolution{width: width, height: height, scale: scale})
}

func (f *fakeEngine) LoadChannel(index int, data []byte) {
	f.loadChannel(index, data, false)
}

func (f *fakeEngine) LoadChannelHDR(index int, data []byte) {
	f.loadChannel(index, data, true)
}

func (f *fakeEngine) loadChannel(index int, data []byte, hdr bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LoadChannel")
	f.channels[index] = data
	f.hdr[index] = hdr
	f.uploads[index]++
}

func (f *fakeEngine) SetMousePos(x, y float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetMousePos")
	f.positions = append(f.positions, [2]float32{x, y})
}

func (f *fakeEngine) SetMouseClick(pressed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetMouseClick")
	f.clicks = append(f.clicks, pressed)
}

func (f *fakeEngine) SetKeydown(code int, pressed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetKeydown")
	p := 0
	if pressed {
		p = 1
	}
	f.keys = append(f.keys, [2]int{code, p})
}

func (f *fakeEngine) OnSuccess(cb func(entryPoints []string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSuccess = cb
}

func (f *fakeEngine) OnError(cb func(summary string, row, col int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = cb
}

func (f *fakeEngine) Frame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

func (f *fakeEngine) setSilent(silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = silent
}

func (f *fakeEngine) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// firstIndex returns the position of the first call, or -1.
func (f *fakeEngine) firstIndex(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (f *fakeEngine) lastShader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.shaders) == 0 {
		return ""
	}
	return f.shaders[len(f.shaders)-1]
}

func (f *fakeEngine) lastTime() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.times) == 0 {
		return -1
	}
	return f.times[len(f.times)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (k *fakeClock) Now() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

func (k *fakeClock) Advance(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = k.now.Add(d)
}

// harness drives a mounted controller frame by frame, with a fake clock.
type harness struct {
	t     *testing.T
	c     *Controller
	eng   *fakeEngine
	clock *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	h := newHarnessNoEngine(t, opts...)
	h.c.SetEngine(h.eng)
	return h
}

func newHarnessNoEngine(t *testing.T, opts ...Option) *harness {
	h := &harness{t: t, eng: newFakeEngine(), clock: &fakeClock{now: time.Unix(1000, 0)}}
	h.c = NewController(append([]Option{OptClock(h.clock.Now)}, opts...)...)
	h.c.Mount()
	t.Cleanup(h.c.Unmount)
	h.c.BindSurface(OffscreenSurface(640, 360))
	return h
}

func (h *harness) frame() {
	h.clock.Advance(16 * time.Millisecond)
	h.c.Frame(h.clock.Now())
}

func (h *harness) frames(n int) {
	for i := 0; i < n; i++ {
		h.frame()
	}
}

// until runs frames until cond holds.
func (h *harness) until(cond func() bool, msgAndArgs ...interface{}) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.frame()
		return cond()
	}, 2*time.Second, time.Millisecond, msgAndArgs...)
}

// loaded loads a document and waits for the initial reset.
func (h *harness) loaded(source string) {
	h.t.Helper()
	h.c.SetShaderSource(source)
	h.c.SetDocumentLoaded(true)
	h.until(func() bool { return h.c.ReloadState() != ReloadAwaitingInitialReset }, "initial reset")
}

func TestInitialResetHappensOnceAfterFirstSuccess(t *testing.T) {
	h := newHarness(t)
	h.frames(3)
	assert.Equal(t, 0, h.eng.count("SetShader"), "nothing compiles before the document is loaded")
	assert.Equal(t, ReloadAwaitingInitialReset, h.c.ReloadState())

	h.c.SetShaderSource("fn main_image() {}")
	h.c.SetDocumentLoaded(true)
	h.frames(2)
	assert.Equal(t, 1, h.eng.count("SetShader"))
	assert.Equal(t, 1, h.eng.count("Reset"))
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
	assert.Equal(t, []string{"main_image"}, h.c.EntryPoints())
	assert.True(t, h.c.Error().Success)

	h.frames(20)
	assert.Equal(t, 1, h.eng.count("SetShader"))
	assert.Equal(t, 1, h.eng.count("Reset"))
}

func TestInitialResetRetriedUntilSuccess(t *testing.T) {
	h := newHarness(t)
	h.c.SetShaderSource("error: missing semicolon")
	h.c.SetDocumentLoaded(true)
	h.frames(6)
	assert.GreaterOrEqual(t, h.eng.count("SetShader"), 2, "failed compilations are retried")
	assert.Equal(t, 0, h.eng.count("Reset"))
	assert.Equal(t, ReloadAwaitingInitialReset, h.c.ReloadState())
	assert.False(t, h.c.Error().Success)

	h.c.SetShaderSource("fixed")
	h.until(func() bool { return h.eng.count("Reset") == 1 })
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
	assert.True(t, h.c.Error().Success)
}

func TestWaitsForEngine(t *testing.T) {
	h := newHarnessNoEngine(t)
	h.c.SetShaderSource("ok")
	h.c.SetDocumentLoaded(true)
	h.frames(5)
	assert.Equal(t, ReloadAwaitingInitialReset, h.c.ReloadState())
	assert.Empty(t, h.eng.calls)

	h.c.SetEngine(h.eng)
	h.frames(3)
	assert.Equal(t, 1, h.eng.count("SetShader"))
	assert.Equal(t, 1, h.eng.count("Reset"))
}

func TestEngineReadyDuringReload(t *testing.T) {
	h := newHarnessNoEngine(t)
	h.c.SetSlider("speed", "iSpeed", 2)
	h.c.SetShaderSource("ok")
	h.c.SetDocumentLoaded(true)
	h.frames(3) // Reloads keep starting without an engine

	h.c.SetEngine(h.eng)
	h.until(func() bool { return h.eng.count("Reset") == 1 }, "initial reset well before the compile timeout")
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
	upload, compile := h.eng.firstIndex("SetCustomFloats"), h.eng.firstIndex("SetShader")
	require.NotEqual(t, -1, upload)
	assert.Less(t, upload, compile, "the new engine gets the uniforms before the shader")
	assert.Equal(t, 1, h.eng.count("SetShader"))
}

func TestRendersOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t, OptPlay(false))
	h.loaded("ok")
	assert.Equal(t, 1, h.eng.count("Reset"), "the initial reset also happens while paused")
	h.frames(5)
	assert.Equal(t, 0, h.eng.count("Render"))
	assert.False(t, h.c.IsPlaying())

	h.c.SetPlay(true)
	h.frames(3)
	assert.True(t, h.c.IsPlaying())
	renders := h.eng.count("Render")
	assert.Equal(t, 3, renders)
	assert.Equal(t, renders, h.eng.count("SetTimeElapsed"))

	h.c.SetPlay(false)
	h.frames(5)
	assert.False(t, h.c.IsPlaying())
	assert.Equal(t, renders, h.eng.count("Render"))
}

func TestRendersNeedSurface(t *testing.T) {
	h := newHarness(t)
	h.c.BindSurface(nil)
	h.loaded("ok")
	h.frames(3)
	assert.Equal(t, 0, h.eng.count("Render"))
	h.c.BindSurface(OffscreenSurface(64, 36))
	h.frames(2)
	assert.Equal(t, 2, h.eng.count("Render"))
}

func TestClockOnlyAdvancesWhilePlaying(t *testing.T) {
	h := newHarness(t)
	h.loaded("ok")
	h.c.RequestReset()
	h.frame()
	assert.Equal(t, float32(0), h.eng.lastTime(), "reset zeroes the clock")
	h.frames(10)
	assert.InDelta(t, 0.160, h.eng.lastTime(), 0.001)

	h.c.SetPlay(false)
	h.frame()
	h.clock.Advance(10 * time.Second)
	h.c.SetPlay(true)
	h.frame()
	assert.InDelta(t, 0.176, h.eng.lastTime(), 0.001, "paused time is not counted")
}

func TestResetIntentIsOneShot(t *testing.T) {
	h := newHarness(t)
	h.loaded("ok")
	h.c.RequestReset()
	h.frames(3)
	assert.Equal(t, 2, h.eng.count("Reset"))
	assert.False(t, h.c.store.Reset.Peek())
}

func TestPlaybackReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.frames(2)
	assert.Equal(t, 1, h.c.scheduler.starts)
	h.c.SetPlay(true)
	h.frames(2)
	h.c.SetPlay(false)
	h.c.SetPlay(true) // Both before the reaction runs
	h.frames(2)
	assert.Equal(t, 1, h.c.scheduler.starts)

	h.c.TogglePlay()
	h.frame()
	h.c.TogglePlay()
	h.frame()
	assert.Equal(t, 2, h.c.scheduler.starts)
	assert.True(t, h.c.IsPlaying())
}

func TestManualReloadClearedOnFailureAndSuccess(t *testing.T) {
	h := newHarness(t, OptSavePulse(20*time.Millisecond))
	h.loaded("ok")

	h.c.SetShaderSource("error here")
	h.frames(2)
	assert.Equal(t, 1, h.eng.count("SetShader"), "source changes alone do nothing without hot reload")

	h.c.RequestReload()
	assert.Equal(t, ReloadManualPending, h.c.ReloadState())
	h.frames(2)
	assert.Equal(t, 2, h.eng.count("SetShader"))
	assert.Equal(t, "error here", h.eng.lastShader())
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
	desc := h.c.Error()
	assert.False(t, desc.Success)
	assert.Equal(t, "syntax error", desc.Summary)
	assert.Equal(t, Position{Row: 3, Col: 7}, desc.Position)
	assert.Equal(t, internal.ErrorSaveColor, h.c.SaveColor())
	h.until(func() bool { return h.c.SaveColor() == internal.DefaultSaveColor }, "pulse ends")

	h.c.SetShaderSource("ok again")
	h.c.RequestReload()
	h.frames(2)
	assert.Equal(t, 3, h.eng.count("SetShader"))
	assert.True(t, h.c.Error().Success)
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
	assert.Equal(t, 1, h.eng.count("Reset"), "manual reloads do not reset")
}

func TestManualReloadWhilePaused(t *testing.T) {
	h := newHarness(t, OptPlay(false))
	h.loaded("ok")
	h.c.SetShaderSource("v2")
	h.c.RequestReload()
	h.frame()
	assert.Equal(t, 2, h.eng.count("SetShader"))
	assert.Equal(t, "v2", h.eng.lastShader())
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
}

func TestHotReloadWhilePausedReloadsOncePerChange(t *testing.T) {
	h := newHarness(t)
	h.loaded("ok")
	h.c.SetPlay(false)
	h.frame()

	h.c.SetHotReload(true)
	h.frame()
	assert.Equal(t, 2, h.eng.count("SetShader"), "arming hot reload reloads")
	assert.Equal(t, ReloadHotArmed, h.c.ReloadState())

	h.c.SetShaderSource("v2")
	h.frames(5)
	assert.Equal(t, 3, h.eng.count("SetShader"))
	assert.Equal(t, "v2", h.eng.lastShader())

	h.c.SetShaderSource("error v3")
	h.frames(2)
	assert.Equal(t, 4, h.eng.count("SetShader"))
	assert.False(t, h.c.Error().Success)
	assert.Equal(t, internal.DefaultSaveColor, h.c.store.SaveColor.Peek(), "no pulse while hot reloading")

	h.c.SetHotReload(false)
	h.c.SetShaderSource("v4")
	h.frames(3)
	assert.Equal(t, 4, h.eng.count("SetShader"))
}

func TestManualReloadWhilePausedAndCompiling(t *testing.T) {
	h := newHarness(t, OptPlay(false), OptHotReload(true))
	h.loaded("ok")
	h.frames(2)
	h.eng.setSilent(true)
	base := h.eng.count("SetShader")

	h.c.SetShaderSource("v2")
	h.frame()
	require.Equal(t, base+1, h.eng.count("SetShader"))
	h.c.RequestReload()
	h.frames(2)
	assert.Equal(t, base+1, h.eng.count("SetShader"), "waits for the running compilation")
	assert.Equal(t, ReloadManualPending, h.c.ReloadState())

	h.eng.setSilent(false)
	h.eng.complete(true)
	h.frames(3)
	assert.Equal(t, base+2, h.eng.count("SetShader"))
	assert.False(t, h.c.store.ManualReload.Peek())
	assert.Equal(t, ReloadHotArmed, h.c.ReloadState())
}

func TestHotReloadCoalescesWhileCompiling(t *testing.T) {
	h := newHarness(t, OptHotReload(true))
	h.loaded("ok")
	h.eng.setSilent(true)
	base := h.eng.count("SetShader")

	h.c.SetShaderSource("a")
	h.frame()
	assert.Equal(t, base+1, h.eng.count("SetShader"))
	h.c.SetShaderSource("b")
	h.frame()
	h.c.SetShaderSource("c")
	h.frame()
	assert.Equal(t, base+1, h.eng.count("SetShader"), "one compilation in flight at a time")

	h.eng.setSilent(false)
	h.eng.complete(true)
	h.frames(2)
	assert.Equal(t, base+2, h.eng.count("SetShader"), "later changes collapse into one reload")
	assert.Equal(t, "c", h.eng.lastShader())
}

func TestCompileTimeoutFinishesReload(t *testing.T) {
	h := newHarness(t, OptCompileTimeout(20*time.Millisecond))
	h.loaded("ok")
	h.eng.setSilent(true)
	h.c.RequestReload()
	h.frame()
	assert.Equal(t, ReloadManualPending, h.c.ReloadState())
	h.until(func() bool { return h.c.ReloadState() == ReloadIdle }, "timeout")
	assert.Equal(t, 2, h.eng.count("SetShader"))
}

func TestLateCompileResultIsNotCredited(t *testing.T) {
	h := newHarness(t, OptCompileTimeout(20*time.Millisecond))
	h.loaded("ok")
	h.eng.setSilent(true)
	h.c.RequestReload()
	h.frames(2)
	h.until(func() bool { return h.c.ReloadState() == ReloadIdle }, "timeout")
	require.Equal(t, 2, h.eng.count("SetShader"))

	h.c.compileTimeout = time.Hour
	h.c.RequestReload()
	h.frames(2)
	require.Equal(t, 3, h.eng.count("SetShader"))

	h.eng.complete(true) // Result of the compilation that timed out
	h.frames(2)
	assert.Equal(t, ReloadManualPending, h.c.ReloadState())

	h.eng.complete(false)
	h.frames(2)
	assert.Equal(t, ReloadIdle, h.c.ReloadState())
	assert.False(t, h.c.Error().Success)
}

func TestUniformsUploadedBeforeShader(t *testing.T) {
	h := newHarness(t)
	h.c.SetSlider("speed", "iSpeed", 2)
	h.c.SetSlider("color.r", "iRed", 0.5)
	h.loaded("ok")
	upload, compile := h.eng.firstIndex("SetCustomFloats"), h.eng.firstIndex("SetShader")
	require.NotEqual(t, -1, upload)
	assert.Less(t, upload, compile)
	h.eng.mu.Lock()
	assert.Equal(t, []string{"iRed", "iSpeed"}, h.eng.floatNames[0])
	assert.Equal(t, []float32{0.5, 2}, h.eng.floats[0])
	h.eng.mu.Unlock()
	h.until(func() bool { return !h.c.store.SliderUpdate.Peek() })
}

func TestSliderChangesAreUploadedWithoutRecompiling(t *testing.T) {
	h := newHarness(t)
	h.loaded("ok")
	h.frames(2)
	uploads := h.eng.count("SetCustomFloats")

	h.c.SetSlider("speed", "iSpeed", 3)
	h.until(func() bool { return h.eng.count("SetCustomFloats") > uploads && !h.c.store.SliderUpdate.Peek() })
	assert.Equal(t, 1, h.eng.count("SetShader"))

	h.c.RemoveSlider("speed")
	h.until(func() bool { return !h.c.store.SliderUpdate.Peek() })
	assert.Empty(t, h.c.store.Sliders.Peek())
}

type uniforms struct {
	Speed  float64 `uniform:"iSpeed"`
	Bounce struct {
		Height int `uniform:"iHeight"`
	}
	Label string
}

func TestSlidersFromStruct(t *testing.T) {
	h := newHarness(t, OptSlidersFrom(&uniforms{Speed: 1.5}))
	sliders := h.c.store.Sliders.Peek()
	assert.Equal(t, Slider{Uniform: "iSpeed", Value: 1.5}, sliders["Speed"])
	assert.Equal(t, Slider{Uniform: "iHeight", Value: 0}, sliders["Bounce.Height"])

	h.loaded("ok")
	h.until(func() bool { return h.eng.count("SetCustomFloats") > 0 })
	require.NoError(t, h.c.SyncSliders(&uniforms{Speed: 4}))
	assert.Equal(t, float32(4), h.c.store.Sliders.Peek()["Speed"].Value)
}

func TestSetTextureRejectsUnknownSlots(t *testing.T) {
	c := NewController()
	assert.ErrorIs(t, c.SetTexture(NumTextureSlots, "a.png"), ErrSlotOutOfRange)
	assert.ErrorIs(t, c.SetTexture(-1, "a.png"), ErrSlotOutOfRange)
	assert.NoError(t, c.SetTexture(0, "a.png"))
}

func TestFullscreenRequestCallsHook(t *testing.T) {
	var calls []bool
	h := newHarness(t, OptFullscreenHook(func(fs bool) { calls = append(calls, fs) }))
	h.frame()
	assert.Empty(t, calls)
	h.c.RequestFullscreen(true)
	h.frame()
	h.c.RequestFullscreen(false)
	h.frame()
	assert.Equal(t, []bool{true, false}, calls)
}

func TestWatchError(t *testing.T) {
	h := newHarness(t)
	var seen []bool
	stop := h.c.WatchError(func(desc ErrorDescriptor) { seen = append(seen, desc.Success) })
	h.c.SetShaderSource("error")
	h.c.SetDocumentLoaded(true)
	h.frames(4)
	stop()
	h.c.SetShaderSource("ok")
	h.frames(3)
	assert.Equal(t, []bool{true, false}, seen)
}

func TestUnmountDropsPendingWork(t *testing.T) {
	h := newHarness(t)
	h.eng.setSilent(true)
	h.c.SetShaderSource("ok")
	h.c.SetDocumentLoaded(true)
	h.frames(2)
	require.Equal(t, 1, h.eng.count("SetShader"))
	h.c.Unmount()
	h.eng.complete(true)
	h.frames(3)
	assert.Equal(t, 0, h.eng.count("Reset"))
	assert.False(t, h.c.IsPlaying())
	assert.Equal(t, ReloadAwaitingInitialReset, h.c.ReloadState())
}

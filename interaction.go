package ui

import (
	"github.com/Yeicor/toy-ui/internal"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// InputKind is the kind of an InputEvent.
type InputKind int

// Input kinds
const (
	KeyDown InputKind = iota
	KeyUp
	PointerDown
	PointerMove
	PointerUp
	PointerLeave
)

// InputEvent is a keyboard or pointer event of the surface.
type InputEvent struct {
	Kind InputKind
	// Code is the numeric key code of key events (browser-compatible, e.g. 65 for A, 32 for space)
	Code int
	// X, Y is the pointer position of pointer events, normalized to [0, 1] over the surface
	X, Y float32
}

type pointerState int

const (
	pointerIdle pointerState = iota
	pointerDragging
)

// inputForwarder forwards events to the engine. Positions are only tracked while a button is held.
type inputForwarder struct {
	guard *internal.Guard
	state pointerState
}

func newInputForwarder(guard *internal.Guard) *inputForwarder {
	return &inputForwarder{guard: guard}
}

func (f *inputForwarder) handle(ev InputEvent) {
	switch ev.Kind {
	case KeyDown, KeyUp:
		if ev.Code <= 0 {
			return // Keys without a numeric code are not forwarded
		}
		f.guard.WithEngine(func(e internal.Engine) {
			e.SetKeydown(ev.Code, ev.Kind == KeyDown)
		})
	case PointerDown:
		f.state = pointerDragging
		f.guard.WithEngine(func(e internal.Engine) {
			e.SetMousePos(ev.X, ev.Y)
			e.SetMouseClick(true)
		})
	case PointerMove:
		if f.state != pointerDragging {
			return
		}
		f.guard.WithEngine(func(e internal.Engine) {
			e.SetMousePos(ev.X, ev.Y)
		})
	case PointerUp, PointerLeave:
		if f.state != pointerDragging {
			return
		}
		f.state = pointerIdle
		f.guard.WithEngine(func(e internal.Engine) {
			e.SetMouseClick(false)
		})
	}
}

//-----------------------------------------------------------------------------
// EBITEN
//-----------------------------------------------------------------------------

// ebitenInput translates the polled ebiten input state into events.
type ebitenInput struct {
	keys         []ebiten.Key
	touches      []ebiten.TouchID
	down         bool
	lastX, lastY int
}

// poll returns the events since the previous call, for a screen of the given size.
func (in *ebitenInput) poll(width, height int) []InputEvent {
	var events []InputEvent
	in.keys = inpututil.AppendJustPressedKeys(in.keys[:0])
	for _, k := range in.keys {
		if code, ok := keyCodes[k]; ok {
			events = append(events, InputEvent{Kind: KeyDown, Code: code})
		}
	}
	in.keys = inpututil.AppendJustReleasedKeys(in.keys[:0])
	for _, k := range in.keys {
		if code, ok := keyCodes[k]; ok {
			events = append(events, InputEvent{Kind: KeyUp, Code: code})
		}
	}
	if width <= 0 || height <= 0 {
		return events
	}

	cx, cy, touched := in.cursor()
	norm := func(kind InputKind) InputEvent {
		return InputEvent{Kind: kind, X: float32(cx) / float32(width), Y: float32(cy) / float32(height)}
	}
	inside := cx >= 0 && cy >= 0 && cx < width && cy < height
	in.touches = inpututil.AppendJustPressedTouchIDs(in.touches[:0])
	pressed := inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) || len(in.touches) > 0
	released := inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft)
	in.touches = inpututil.AppendJustReleasedTouchIDs(in.touches[:0])
	released = released || (len(in.touches) > 0 && !touched)

	switch {
	case !in.down && pressed && inside:
		in.down = true
		events = append(events, norm(PointerDown))
	case in.down && released:
		in.down = false
		events = append(events, norm(PointerUp))
	case in.down && !inside:
		in.down = false
		events = append(events, norm(PointerLeave))
	case in.down && (cx != in.lastX || cy != in.lastY):
		events = append(events, norm(PointerMove))
	}
	in.lastX, in.lastY = cx, cy
	return events
}

// cursor returns the mouse position, overridden by the first touch (if any).
func (in *ebitenInput) cursor() (x, y int, touched bool) {
	x, y = ebiten.CursorPosition()
	in.touches = ebiten.AppendTouchIDs(in.touches[:0])
	if len(in.touches) > 0 {
		x, y = ebiten.TouchPosition(in.touches[0])
		touched = true
	}
	return x, y, touched
}

// onUpdateHotkeys handles the window shortcuts. None of these keys is forwarded to the engine.
func (c *Controller) onUpdateHotkeys() {
	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		c.overlay = !c.overlay
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		c.RequestReload()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF6) {
		c.store.HotReload.Update(func(old bool) bool { return !old })
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF7) {
		c.TogglePlay()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF8) {
		c.RequestReset()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		c.store.HalfResolution.Update(func(old bool) bool { return !old })
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		c.store.FullscreenRequest.Update(func(old bool) bool { return !old })
	}
}

// keyCodes maps ebiten keys to the numeric (browser-compatible) codes understood by engines.
var keyCodes = func() map[ebiten.Key]int {
	m := map[ebiten.Key]int{
		ebiten.KeyBackspace:    8,
		ebiten.KeyTab:          9,
		ebiten.KeyEnter:        13,
		ebiten.KeyShiftLeft:    16,
		ebiten.KeyShiftRight:   16,
		ebiten.KeyControlLeft:  17,
		ebiten.KeyControlRight: 17,
		ebiten.KeyAltLeft:      18,
		ebiten.KeyAltRight:     18,
		ebiten.KeyEscape:       27,
		ebiten.KeySpace:        32,
		ebiten.KeyPageUp:       33,
		ebiten.KeyPageDown:     34,
		ebiten.KeyEnd:          35,
		ebiten.KeyHome:         36,
		ebiten.KeyArrowLeft:    37,
		ebiten.KeyArrowUp:      38,
		ebiten.KeyArrowRight:   39,
		ebiten.KeyArrowDown:    40,
		ebiten.KeyInsert:       45,
		ebiten.KeyDelete:       46,
	}
	digits := []ebiten.Key{ebiten.KeyDigit0, ebiten.KeyDigit1, ebiten.KeyDigit2, ebiten.KeyDigit3, ebiten.KeyDigit4,
		ebiten.KeyDigit5, ebiten.KeyDigit6, ebiten.KeyDigit7, ebiten.KeyDigit8, ebiten.KeyDigit9}
	for i, k := range digits {
		m[k] = 48 + i
	}
	letters := []ebiten.Key{ebiten.KeyA, ebiten.KeyB, ebiten.KeyC, ebiten.KeyD, ebiten.KeyE, ebiten.KeyF, ebiten.KeyG,
		ebiten.KeyH, ebiten.KeyI, ebiten.KeyJ, ebiten.KeyK, ebiten.KeyL, ebiten.KeyM, ebiten.KeyN, ebiten.KeyO,
		ebiten.KeyP, ebiten.KeyQ, ebiten.KeyR, ebiten.KeyS, ebiten.KeyT, ebiten.KeyU, ebiten.KeyV, ebiten.KeyW,
		ebiten.KeyX, ebiten.KeyY, ebiten.KeyZ}
	for i, k := range letters {
		m[k] = 65 + i
	}
	return m
}()

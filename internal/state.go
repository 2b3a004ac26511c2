package internal

import (
	"context"
	"image"
	"image/color"
	"slices"
	"sort"
	"sync"

	"github.com/barkimedes/go-deepcopy"
)

// Engine is the narrow contract of the external rendering/compute engine.
// Everything is fire-and-forget except SetCustomFloats, which may need a round-trip and can be awaited.
// Compile results of SetShader are only reported through the OnSuccess/OnError callbacks, possibly from any goroutine.
type Engine interface {
	// SetShader triggers a recompilation of the given source
	SetShader(source string)
	// SetCustomFloats uploads named uniform values (names and values are positionally paired)
	SetCustomFloats(ctx context.Context, names []string, values []float32) error
	// Render issues one frame's compute/draw work
	Render()
	// SetTimeElapsed updates the engine clock before Render
	SetTimeElapsed(seconds float32)
	// Reset clears accumulation buffers and other engine-internal state
	Reset()
	// Resize reconfigures the output surface
	Resize(width, height int, scale float32)
	// LoadChannel uploads standard (LDR) texture data to a channel slot
	LoadChannel(index int, data []byte)
	// LoadChannelHDR uploads high dynamic range (RGBE) texture data to a channel slot
	LoadChannelHDR(index int, data []byte)
	SetMousePos(x, y float32)
	SetMouseClick(pressed bool)
	SetKeydown(code int, pressed bool)
	// OnSuccess registers the callback for successful compilations (with the entry points found)
	OnSuccess(cb func(entryPoints []string))
	// OnError registers the callback for failed compilations
	OnError(cb func(summary string, row, col int))
}

// Framer is optionally implemented by engines that can hand back their latest rendered frame (for drawing it on a
// host window).
type Framer interface {
	Frame() *image.RGBA
}

// Surface is the drawing area the engine renders to, once bound.
type Surface interface {
	Bounds() image.Rectangle
}

// Slider is a control bound to a shader uniform.
type Slider struct {
	Uniform string
	Value   float32
}

// Position is a location in the shader source (1-based row and column, 0 when unknown).
type Position struct {
	Row, Col int
}

// ErrorDescriptor is the latest compile result, as shown by the editor.
type ErrorDescriptor struct {
	Summary  string
	Position Position
	Success  bool
}

// Geometry is everything the host knows about where the surface is displayed.
type Geometry struct {
	ContainerWidth            float64 // CSS-like (device independent) pixels
	DevicePixelRatio          float64
	Fullscreen                bool
	ScreenWidth, ScreenHeight float64 // CSS-like (device independent) pixels
	Zoom                      float64 // Browser/OS zoom factor (1 when unknown)
}

// Store is the state shared between the controller and its collaborators.
// Collaborators write intents from any goroutine; effects only run on the loop.
type Store struct {
	loop *Loop
	mu   sync.Mutex

	// Intents
	Play              *Cell[bool]
	Reset             *Cell[bool] // One-shot
	HotReload         *Cell[bool] // Level-triggered
	ManualReload      *Cell[bool] // One-shot
	SliderUpdate      *Cell[bool]
	DocumentLoaded    *Cell[bool]
	HalfResolution    *Cell[bool]
	FullscreenRequest *Cell[bool]
	Source            *Cell[string]
	Textures          [2]*Cell[string]
	Sliders           *Cell[map[string]Slider] // Never mutated in place, see SetSlider
	Geometry          *Cell[Geometry]

	// Controller-owned
	NeedsInitialReset *Cell[bool]
	Engine            *Cell[Handle]
	Surface           *Cell[Surface]

	// Produced for collaborators
	Error       *Cell[ErrorDescriptor]
	EntryPoints *Cell[[]string]
	SaveColor   *Cell[color.RGBA]
}

// DefaultSaveColor is the resting color of the save indicator.
var DefaultSaveColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

// ErrorSaveColor is the pulse color of the save indicator after a failed compilation.
var ErrorSaveColor = color.RGBA{R: 0xe0, G: 0x30, B: 0x30, A: 0xff}

// NewStore creates the store with its initial state. Effects will be scheduled on loop.
func NewStore(loop *Loop) *Store {
	s := &Store{loop: loop}
	s.Play = NewCell(s, "play", false)
	s.Reset = NewCell(s, "reset", false)
	s.HotReload = NewCell(s, "hotReload", false)
	s.ManualReload = NewCell(s, "manualReload", false)
	s.SliderUpdate = NewCell(s, "sliderUpdateSignal", false)
	s.DocumentLoaded = NewCell(s, "dbLoaded", false)
	s.HalfResolution = NewCell(s, "halfResolution", false)
	s.FullscreenRequest = NewCell(s, "requestFullscreen", false)
	s.Source = NewCell(s, "shader", "")
	s.Textures[0] = NewCell(s, "texture0", "")
	s.Textures[1] = NewCell(s, "texture1", "")
	s.Sliders = NewCellFunc[map[string]Slider](s, "sliders", map[string]Slider{}, nil)
	s.Geometry = NewCell(s, "geometry", Geometry{})
	s.NeedsInitialReset = NewCell(s, "needsInitialReset", true)
	s.Engine = NewCellFunc[Handle](s, "engine", Handle{}, nil)
	s.Surface = NewCellFunc[Surface](s, "surface", nil, nil)
	s.Error = NewCell(s, "parseError", ErrorDescriptor{Success: true})
	s.EntryPoints = NewCellFunc(s, "entryPoints", []string(nil), func(a, b []string) bool { return slices.Equal(a, b) })
	s.SaveColor = NewCell(s, "saveColor", DefaultSaveColor)
	return s
}

// Loop returns the loop effects of this store run on.
func (s *Store) Loop() *Loop {
	return s.loop
}

// SetSlider adds or replaces a control and raises the slider update signal.
func (s *Store) SetSlider(id string, slider Slider) {
	s.Sliders.Update(func(old map[string]Slider) map[string]Slider {
		next := cloneSliders(old)
		next[id] = slider
		return next
	})
	s.SliderUpdate.Set(true)
}

// RemoveSlider removes a control (if present) and raises the slider update signal.
func (s *Store) RemoveSlider(id string) {
	s.Sliders.Update(func(old map[string]Slider) map[string]Slider {
		next := cloneSliders(old)
		delete(next, id)
		return next
	})
	s.SliderUpdate.Set(true)
}

// UniformSnapshot returns the uniform names and values of all controls, positionally paired and read from a single
// version of the slider map (sorted by control ID for a stable upload order).
func (s *Store) UniformSnapshot() (names []string, values []float32, version uint64) {
	sliders, version := s.Sliders.PeekVersioned()
	ids := make([]string, 0, len(sliders))
	for id := range sliders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	names = make([]string, 0, len(ids))
	values = make([]float32, 0, len(ids))
	for _, id := range ids {
		names = append(names, sliders[id].Uniform)
		values = append(values, sliders[id].Value)
	}
	return names, values, version
}

func cloneSliders(m map[string]Slider) map[string]Slider {
	if len(m) == 0 {
		return map[string]Slider{}
	}
	return deepcopy.MustAnything(m).(map[string]Slider)
}

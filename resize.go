package ui

import (
	"math"

	"github.com/Yeicor/toy-ui/internal"
	"go.uber.org/zap"
)

// DimensionsFunc derives the engine resolution from the container width (in device pixels).
type DimensionsFunc func(width float64) (w, h int)

// DefaultDimensions keeps a 16:9 aspect ratio, in steps of 32x18 pixels.
func DefaultDimensions(width float64) (int, int) {
	inc := int(math.Floor(width / 32))
	if inc < 1 {
		inc = 1
	}
	return inc * 32, inc * 18
}

const (
	fullscreenGridX = 80
	fullscreenGridY = 60
)

// resolution is what is sent to Engine.Resize.
type resolution struct {
	width, height int
	scale         float32
}

// resizeCoordinator keeps the engine resolution in sync with the layout, the fullscreen state and the
// half-resolution preference.
type resizeCoordinator struct {
	c             *Controller
	last          resolution // Last dispatched, zero if none
	engineVersion uint64
}

func newResizeCoordinator(c *Controller) *resizeCoordinator {
	return &resizeCoordinator{c: c}
}

func (r *resizeCoordinator) effect(e *internal.Effect) {
	s := r.c.store
	g := s.Geometry.Get(e)
	half := s.HalfResolution.Get(e)
	s.Engine.Get(e)
	s.Surface.Get(e)
	if _, version := s.Engine.PeekVersioned(); version != r.engineVersion {
		r.engineVersion = version
		r.last = resolution{} // A new engine knows nothing about the previous size
	}
	r.update(g, half)
}

func (r *resizeCoordinator) update(g internal.Geometry, half bool) {
	if !g.Fullscreen && g.ContainerWidth <= 0 {
		return // Not laid out yet
	}
	want := r.target(g, half)
	if want == r.last {
		return
	}
	r.c.guard.WithEngineAndSurface(func(e internal.Engine, _ internal.Surface) {
		logger("resize").Debug("resizing", zap.Int("width", want.width), zap.Int("height", want.height),
			zap.Float32("scale", want.scale))
		e.Resize(want.width, want.height, want.scale)
		r.last = want
	})
}

func (r *resizeCoordinator) target(g internal.Geometry, half bool) resolution {
	dpr := g.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	scale := float32(1)
	if half {
		scale = 0.5
	}
	if g.Fullscreen {
		zoom := g.Zoom
		if zoom <= 0 {
			zoom = 1
		}
		return resolution{
			width:  roundToGrid(g.ScreenWidth*dpr*zoom, fullscreenGridX),
			height: roundToGrid(g.ScreenHeight*dpr*zoom, fullscreenGridY),
			scale:  scale,
		}
	}
	w, h := r.c.dimensions(g.ContainerWidth * dpr)
	return resolution{width: w, height: h, scale: scale}
}

// roundToGrid rounds v to the nearest (non-zero) multiple of grid.
func roundToGrid(v float64, grid int) int {
	n := int(math.Round(v / float64(grid)))
	if n < 1 {
		n = 1
	}
	return n * grid
}

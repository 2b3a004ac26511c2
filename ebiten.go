package ui

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/Yeicor/toy-ui/internal"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// Run opens a window that shows the engine's frames (if it implements Framer) and forwards its input.
// It mounts the controller on the first update and blocks until the window is closed.
func (c *Controller) Run() error {
	if c.onFullscreen == nil {
		c.onFullscreen = ebiten.SetFullscreen
	}
	ebiten.SetWindowTitle("toy-ui")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(c.fps)
	c.frameCache = &frameCache{}
	c.hostInput = &ebitenInput{}
	defer c.Unmount()
	return ebiten.RunGame(controllerEbitenGame{c})
}

// controllerEbitenGame hides the private ebiten implementation while behaving like a *Controller internally
type controllerEbitenGame struct {
	*Controller
}

func (c controllerEbitenGame) Update() error {
	if !c.mounted { // This always runs before the first frame
		c.Mount()
	}
	c.onUpdateHotkeys()
	w, h := c.surfaceSize()
	for _, ev := range c.hostInput.poll(w, h) {
		c.input.handle(ev)
	}
	c.Frame(c.now())
	return nil
}

func (c controllerEbitenGame) Draw(screen *ebiten.Image) {
	c.drawFrame(screen)
	if c.overlay {
		c.drawUI(screen)
	}
}

func (c controllerEbitenGame) Layout(outsideWidth, outsideHeight int) (screenWidth, screenHeight int) {
	if w, h := c.surfaceSize(); w != outsideWidth || h != outsideHeight {
		c.BindSurface(windowSurface{image.Rect(0, 0, outsideWidth, outsideHeight)})
	}
	m := ebiten.Monitor()
	sw, sh := m.Size()
	c.NotifyGeometry(Geometry{
		ContainerWidth:   float64(outsideWidth),
		DevicePixelRatio: m.DeviceScaleFactor(),
		Fullscreen:       ebiten.IsFullscreen(),
		ScreenWidth:      float64(sw),
		ScreenHeight:     float64(sh),
		Zoom:             1,
	})
	return outsideWidth, outsideHeight // Use all available pixels, the engine frame is scaled to fit
}

// windowSurface is the window as seen by the engine.
type windowSurface struct {
	rect image.Rectangle
}

func (s windowSurface) Bounds() image.Rectangle {
	return s.rect
}

func (c *Controller) surfaceSize() (int, int) {
	s := c.store.Surface.Peek()
	if s == nil {
		return 0, 0
	}
	b := s.Bounds()
	return b.Dx(), b.Dy()
}

// frameCache keeps the GPU image the engine frames are copied to.
type frameCache struct {
	img *ebiten.Image
}

func (f *frameCache) update(frame *image.RGBA) *ebiten.Image {
	b := frame.Bounds()
	if f.img == nil || f.img.Bounds().Dx() != b.Dx() || f.img.Bounds().Dy() != b.Dy() {
		if f.img != nil {
			f.img.Deallocate()
		}
		f.img = ebiten.NewImage(b.Dx(), b.Dy())
	}
	if frame.Stride == 4*b.Dx() && len(frame.Pix) == 4*b.Dx()*b.Dy() {
		f.img.WritePixels(frame.Pix)
	} else { // Sub-image: copy row by row
		pix := make([]byte, 0, 4*b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			start := frame.PixOffset(b.Min.X, y)
			pix = append(pix, frame.Pix[start:start+4*b.Dx()]...)
		}
		f.img.WritePixels(pix)
	}
	return f.img
}

func (c *Controller) drawFrame(screen *ebiten.Image) {
	var frame *image.RGBA
	c.guard.WithEngine(func(e internal.Engine) {
		if framer, ok := e.(internal.Framer); ok {
			frame = framer.Frame()
		}
	})
	if frame == nil || frame.Bounds().Empty() || c.frameCache == nil {
		return
	}
	img := c.frameCache.update(frame)
	op := &ebiten.DrawImageOptions{}
	sb, fb := screen.Bounds(), img.Bounds()
	op.GeoM.Scale(float64(sb.Dx())/float64(fb.Dx()), float64(sb.Dy())/float64(fb.Dy()))
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(img, op)
}

var defaultFont font.Face = basicfont.Face7x13

// drawUI draws the status overlay
func (c *Controller) drawUI(screen *ebiten.Image) {
	// Notify when compiling
	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelFunc()
	if c.reloader.compiling.RTryLock(ctx) {
		c.reloader.compiling.RUnlock()
	} else {
		drawDefaultTextWithShadow(screen, "Compiling...", 5, 5+12, color.RGBA{R: 255, A: 255})
	}

	s := c.store
	if desc := s.Error.Peek(); !desc.Success {
		msg := fmt.Sprintf("Error at %d:%d: %s", desc.Position.Row, desc.Position.Col, desc.Summary)
		drawDefaultTextWithShadow(screen, msg, 5, 5+2*12, color.RGBA{R: 255, G: 64, B: 64, A: 255})
	}

	msg := fmt.Sprintf("TPS: %0.2f/%d\nPlaying: %t [F7]\nHot reload: %t [F6]\nReload [F5]\nReset [F8]\n"+
		"Half resolution: %t [F9]\nFullscreen [F11]\nHide [F1]",
		ebiten.ActualTPS(), ebiten.TPS(), c.IsPlaying(), s.HotReload.Peek(), s.HalfResolution.Peek())
	bounds := text.BoundString(defaultFont, msg)
	drawDefaultTextWithShadow(screen, msg, 5, screen.Bounds().Dy()-bounds.Dy()+10, color.RGBA{G: 255, A: 255})
}

func drawDefaultTextWithShadow(screen *ebiten.Image, msg string, x, y int, c color.Color) {
	text.Draw(screen, msg, defaultFont, x+1, y+1, color.RGBA{A: 255})
	text.Draw(screen, msg, defaultFont, x, y, c)
}

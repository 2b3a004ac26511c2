package ui

import (
	"context"
	"image"
	"os/signal"
	"time"

	"github.com/pkg/errors"
)

// RunHeadless drives the controller without a window: one frame per tick of the configured FPS, plus any reaction as
// soon as it is pending. It blocks until ctx is done or the process is interrupted.
func (c *Controller) RunHeadless(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, signals()...)
	defer stop()
	c.Mount()
	defer c.Unmount()
	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()
	logger("controller").Info("running headless")
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case now := <-ticker.C:
			c.Frame(now)
		case <-c.loop.Wake():
			c.loop.Drain()
		}
	}
}

// OffscreenSurface returns a surface of a fixed size, for hosts without a window.
func OffscreenSurface(width, height int) Surface {
	return windowSurface{image.Rect(0, 0, width, height)}
}

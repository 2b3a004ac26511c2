package ui

import (
	"github.com/Yeicor/toy-ui/internal"
	"go.uber.org/zap"
)

// Engine is the contract of the external rendering/compute engine (see internal.Engine).
type Engine = internal.Engine

// Framer is optionally implemented by engines that can hand back their latest frame for the host window.
type Framer = internal.Framer

// Surface is the drawing area the engine renders to.
type Surface = internal.Surface

// Geometry describes where the surface is displayed (container, screen, pixel ratio, zoom).
type Geometry = internal.Geometry

// ErrorDescriptor is the latest compile result.
type ErrorDescriptor = internal.ErrorDescriptor

// Position is a row/column location in the shader source.
type Position = internal.Position

// Slider is a control bound to a shader uniform.
type Slider = internal.Slider

// NumTextureSlots is the fixed number of texture channels.
const NumTextureSlots = 2

// SetLogger enables logging for this module (silent by default). Pass nil to disable it again.
func SetLogger(l *zap.Logger) {
	internal.SetLogger(l)
}

func logger(name string) *zap.Logger {
	return internal.Logger().Named(name)
}

// applyInitialState writes the configured initial intents, before any effect is registered.
func (c *Controller) applyInitialState() {
	c.store.Play.Set(c.initialPlay)
	c.store.HotReload.Set(c.initialHotReload)
	c.store.HalfResolution.Set(c.initialHalfRes)
	for slot, uri := range c.initialTextures {
		if uri != "" {
			c.store.Textures[slot].Set(uri)
		}
	}
	if c.initialEngine != nil {
		c.store.Engine.Set(internal.Ready(c.initialEngine))
	}
}

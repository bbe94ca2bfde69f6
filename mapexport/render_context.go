package mapexport

import (
	"github.com/llgcode/draw2d"
)

// RenderContext carries the painter and the per-render drawing hints through
// decoration and annotation render calls.
type RenderContext struct {
	GC draw2d.GraphicContext
	// Antialiasing is a hint for render implementations that rasterise
	// their own content (e.g. text drawn through freetype).
	Antialiasing bool
}

func NewRenderContextFromSettings(settings *MapSettings, gc draw2d.GraphicContext) *RenderContext {
	return &RenderContext{
		GC:           gc,
		Antialiasing: settings.Flags&RenderFlagAntialiasing != 0,
	}
}

package mapexport

import (
	"image/color"

	"github.com/jamesrr39/goutil/errorsx"
)

// Point is a coordinate pair. Depending on context it is either a map-space
// coordinate (geographic units) or an output-space coordinate (pixels, or a
// fraction of the output size for relative placements).
type Point struct {
	X float64
	Y float64
}

type Size struct {
	Width  int
	Height int
}

// Extent is a geographic rectangle in map units.
type Extent struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

func (e Extent) Width() float64 {
	return e.XMax - e.XMin
}

func (e Extent) Height() float64 {
	return e.YMax - e.YMin
}

func (e Extent) Center() Point {
	return Point{
		X: (e.XMin + e.XMax) / 2,
		Y: (e.YMin + e.YMax) / 2,
	}
}

type RenderFlags uint

const (
	RenderFlagAntialiasing RenderFlags = 1 << iota
)

// MapSettings describes one map rendering: what to draw (extent, layers) and
// what to draw it onto (output size in pixels, resolution in dots per inch).
// It is treated as read-only for the duration of a render.
type MapSettings struct {
	Extent          Extent
	OutputSize      Size
	OutputDPI       float64
	DestinationCRS  string // projection identity, e.g. a WKT string or "EPSG:4326"
	Rotation        float64 // degrees, 0 for an axis-aligned map
	LayerIDs        []string
	BackgroundColor color.Color
	Flags           RenderFlags
}

func (ms *MapSettings) Validate() errorsx.Error {
	if ms.Extent.Width() <= 0 || ms.Extent.Height() <= 0 {
		return errorsx.Errorf("map extent must have a positive width and height (got %f x %f)", ms.Extent.Width(), ms.Extent.Height())
	}

	if ms.OutputSize.Width <= 0 || ms.OutputSize.Height <= 0 {
		return errorsx.Errorf("output size must be positive in both dimensions (got %d x %d)", ms.OutputSize.Width, ms.OutputSize.Height)
	}

	return nil
}

func (ms *MapSettings) HasLayer(layerID string) bool {
	for _, id := range ms.LayerIDs {
		if id == layerID {
			return true
		}
	}
	return false
}

// Copy returns a copy of the settings that does not share the layer ID list
// with the original.
func (ms *MapSettings) Copy() MapSettings {
	copied := *ms
	copied.LayerIDs = append([]string(nil), ms.LayerIDs...)
	return copied
}

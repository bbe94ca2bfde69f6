// Package mapexportrenderer contains a simple vector layer renderer used as
// the default layer-drawing engine for export jobs.
package mapexportrenderer

import (
	"image/color"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/llgcode/draw2d"
)

// Feature is a polyline (or polygon, when Closed) in map-space coordinates.
type Feature struct {
	Points    []mapexport.Point
	Closed    bool
	LineColor color.Color
	FillColor color.Color
	LineWidth float64
}

// BasicLayerRenderer draws per-layer vector features. Features are projected
// from the map extent onto the output pixel space, with the y axis flipped
// (raster rows grow downwards, map y grows upwards).
type BasicLayerRenderer struct {
	layers map[string][]*Feature
}

func NewBasicLayerRenderer() *BasicLayerRenderer {
	return &BasicLayerRenderer{
		layers: make(map[string][]*Feature),
	}
}

func (r *BasicLayerRenderer) AddFeature(layerID string, feature *Feature) {
	r.layers[layerID] = append(r.layers[layerID], feature)
}

func (r *BasicLayerRenderer) DrawLayer(settings *mapexport.MapSettings, layerID string, gc draw2d.GraphicContext) errorsx.Error {
	for _, feature := range r.layers[layerID] {
		err := drawFeature(settings, feature, gc)
		if err != nil {
			return errorsx.Wrap(err, "layerID", layerID)
		}
	}

	return nil
}

func drawFeature(settings *mapexport.MapSettings, feature *Feature, gc draw2d.GraphicContext) errorsx.Error {
	if len(feature.Points) == 0 {
		return nil
	}

	extent := settings.Extent
	outputWidth := float64(settings.OutputSize.Width)
	outputHeight := float64(settings.OutputSize.Height)

	gc.Save()
	defer gc.Restore()

	if feature.LineColor != nil {
		gc.SetStrokeColor(feature.LineColor)
	}
	if feature.FillColor != nil {
		gc.SetFillColor(feature.FillColor)
	}
	if feature.LineWidth != 0 {
		gc.SetLineWidth(feature.LineWidth)
	}

	gc.BeginPath()
	for i, point := range feature.Points {
		x := outputWidth * (point.X - extent.XMin) / extent.Width()
		y := outputHeight * (1 - (point.Y-extent.YMin)/extent.Height())

		if i == 0 {
			gc.MoveTo(x, y)
		} else {
			gc.LineTo(x, y)
		}
	}

	if feature.Closed {
		gc.Close()
	}

	if feature.FillColor != nil {
		gc.FillStroke()
	} else {
		gc.Stroke()
	}

	return nil
}

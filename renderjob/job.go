// Package renderjob runs the layer-drawing phase of a map render: a blocking
// job bound to one painter, with a non-blocking cooperative cancel.
package renderjob

import (
	"log"
	"sync/atomic"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/llgcode/draw2d"
	"github.com/llgcode/draw2d/draw2dkit"
)

// Job is one synchronous rendering of the map layers.
type Job interface {
	// RenderSynchronously blocks until the layers are drawn or the job has
	// observed a cancel request.
	RenderSynchronously()
	// CancelWithoutBlocking asks the job to stop and returns immediately.
	// The job stops at its own granularity (between layers).
	CancelWithoutBlocking()
}

// Factory builds a job bound to a painter. The render task calls it once per
// run, after it has resolved which surface to draw onto.
type Factory func(settings *mapexport.MapSettings, gc draw2d.GraphicContext) Job

// LayerRenderer draws the content of a single map layer.
type LayerRenderer interface {
	DrawLayer(settings *mapexport.MapSettings, layerID string, gc draw2d.GraphicContext) errorsx.Error
}

// CustomPainterJob draws the background and then each layer in settings
// order through a LayerRenderer. A failing layer is logged and skipped; the
// remaining layers are still drawn.
type CustomPainterJob struct {
	settings      *mapexport.MapSettings
	gc            draw2d.GraphicContext
	layerRenderer LayerRenderer
	canceled      int32
}

func NewCustomPainterJob(settings *mapexport.MapSettings, gc draw2d.GraphicContext, layerRenderer LayerRenderer) *CustomPainterJob {
	return &CustomPainterJob{
		settings:      settings,
		gc:            gc,
		layerRenderer: layerRenderer,
	}
}

// NewFactory returns a Factory producing CustomPainterJobs backed by the
// given layer renderer.
func NewFactory(layerRenderer LayerRenderer) Factory {
	return func(settings *mapexport.MapSettings, gc draw2d.GraphicContext) Job {
		return NewCustomPainterJob(settings, gc, layerRenderer)
	}
}

func (j *CustomPainterJob) RenderSynchronously() {
	j.drawBackground()

	for _, layerID := range j.settings.LayerIDs {
		if atomic.LoadInt32(&j.canceled) != 0 {
			return
		}

		err := j.layerRenderer.DrawLayer(j.settings, layerID, j.gc)
		if err != nil {
			log.Printf("error drawing layer %q. Error: %q\n", layerID, err)
		}
	}
}

func (j *CustomPainterJob) CancelWithoutBlocking() {
	atomic.StoreInt32(&j.canceled, 1)
}

func (j *CustomPainterJob) drawBackground() {
	if j.settings.BackgroundColor == nil {
		return
	}

	j.gc.Save()
	j.gc.SetFillColor(j.settings.BackgroundColor)
	j.gc.BeginPath()
	draw2dkit.Rectangle(j.gc, 0, 0, float64(j.settings.OutputSize.Width), float64(j.settings.OutputSize.Height))
	j.gc.Fill()
	j.gc.Restore()
}

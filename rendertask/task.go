// Package rendertask renders a map to a file or an externally supplied
// painter as a cancellable background task: it resolves the output surface,
// runs the blocking layer-render job, composites decorations and annotations
// on top, and finalizes the output file with optional georeferencing.
package rendertask

import (
	"context"
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	tracing "github.com/jamesrr39/go-tracing"
	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/georef"
	// registers the GeoTIFF metadata updater for .tif/.tiff outputs
	_ "github.com/jamesrr39/mapexport-app/georef/geotifftag"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/jamesrr39/mapexport-app/renderjob"
	"github.com/llgcode/draw2d"
)

// RenderTask renders one map exactly once. Output mode is fixed at
// construction: either a file destination or an external painter. The task
// owns clones of its annotations; decorations stay owned by the caller and
// must outlive Run.
type RenderTask struct {
	settings mapexport.MapSettings
	dest     *fileDestination
	painter  draw2d.GraphicContext
	newJob   renderjob.Factory

	annotations []mapexport.Annotation
	decorations []mapexport.Decoration

	// jobMu guards the job handle against a concurrent Cancel while the
	// handle is being created or cleared. It is never held across the
	// blocking render call.
	jobMu    sync.Mutex
	job      renderjob.Job
	canceled int32

	// exactly one of these is invoked by Finished
	OnRenderingComplete func()
	OnErrorOccurred     func(err errorsx.Error)
}

// NewFileRenderTask creates a task that renders to a file. fileFormat is the
// encoder name ("png", "jpg", "tif", "PDF"). With forceRaster, a PDF output
// is produced by rendering to a raster buffer first and merging it into the
// page at finalize time.
func NewFileRenderTask(settings mapexport.MapSettings, filePath, fileFormat string, forceRaster bool, newJob renderjob.Factory) *RenderTask {
	return &RenderTask{
		settings: settings.Copy(),
		dest: &fileDestination{
			FilePath:    filePath,
			FileFormat:  fileFormat,
			ForceRaster: forceRaster,
		},
		newJob: newJob,
	}
}

// NewPainterRenderTask creates a task that renders onto a painter supplied by
// the caller. There is no file-writing phase in this mode.
func NewPainterRenderTask(settings mapexport.MapSettings, painter draw2d.GraphicContext, newJob renderjob.Factory) *RenderTask {
	return &RenderTask{
		settings: settings.Copy(),
		painter:  painter,
		newJob:   newJob,
	}
}

// SetSaveWorldFile enables writing georeferencing for file outputs: embedded
// in the output where the format supports it, otherwise as a sidecar world
// file. Ignored in painter mode.
func (t *RenderTask) SetSaveWorldFile(saveWorldFile bool) {
	if t.dest == nil {
		return
	}
	t.dest.SaveWorldFile = saveWorldFile
}

// SetAnnotations replaces the task's annotations with clones of the given
// ones. The task owns the clones; callers keep their originals.
func (t *RenderTask) SetAnnotations(annotations []mapexport.Annotation) {
	t.annotations = nil
	for _, annotation := range annotations {
		if annotation == nil {
			continue
		}
		t.annotations = append(t.annotations, annotation.Clone())
	}
}

// SetDecorations sets the decorations to composite. The task does not take
// ownership.
func (t *RenderTask) SetDecorations(decorations []mapexport.Decoration) {
	t.decorations = decorations
}

// Cancel requests the task to stop and returns immediately. It is safe to
// call from any goroutine, before the run starts or while the layer render
// is in flight; the in-flight job is asked (once per Cancel call) to stop at
// its own granularity.
func (t *RenderTask) Cancel() {
	t.jobMu.Lock()
	if t.job != nil {
		t.job.CancelWithoutBlocking()
	}
	t.jobMu.Unlock()

	atomic.StoreInt32(&t.canceled, 1)
}

func (t *RenderTask) isCanceled() bool {
	return atomic.LoadInt32(&t.canceled) != 0
}

// Run executes the render sequence. It is expected to be called exactly once,
// usually from a queue worker; a failure or an observed cancellation
// short-circuits the remaining steps. The context is used for tracing spans
// only.
func (t *RenderTask) Run(ctx context.Context) errorsx.Error {
	if t.isCanceled() {
		return errorsx.Wrap(ErrCanceled)
	}

	err := t.settings.Validate()
	if err != nil {
		return err
	}

	surface, err := t.resolveSurface()
	if err != nil {
		return err
	}

	renderSpan := startSpan(ctx, "render layers")

	t.jobMu.Lock()
	t.job = t.newJob(&t.settings, surface.gc)
	job := t.job
	t.jobMu.Unlock()

	job.RenderSynchronously()

	t.jobMu.Lock()
	t.job = nil
	t.jobMu.Unlock()

	endSpan(ctx, renderSpan)

	if t.isCanceled() {
		return errorsx.Wrap(ErrCanceled)
	}

	compositeSpan := startSpan(ctx, "composite overlays")

	renderContext := mapexport.NewRenderContextFromSettings(&t.settings, surface.gc)
	err = t.compositeOverlays(renderContext)
	if err != nil {
		return err
	}

	endSpan(ctx, compositeSpan)

	finalizeSpan := startSpan(ctx, "finalize output")
	defer endSpan(ctx, finalizeSpan)

	return t.finalizeOutput(surface)
}

// Finished reports the terminal outcome to the registered listeners and
// releases the task's annotation clones. The queue calls it exactly once,
// after Run returns.
func (t *RenderTask) Finished(err errorsx.Error) {
	t.annotations = nil

	if err == nil {
		if t.OnRenderingComplete != nil {
			t.OnRenderingComplete()
		}
		return
	}

	if t.OnErrorOccurred != nil {
		t.OnErrorOccurred(err)
	}
}

func (t *RenderTask) compositeOverlays(renderContext *mapexport.RenderContext) errorsx.Error {
	for _, decoration := range t.decorations {
		err := decoration.Render(&t.settings, renderContext)
		if err != nil {
			return errorsx.Wrap(err)
		}
	}

	for _, annotation := range t.annotations {
		if t.isCanceled() {
			return errorsx.Wrap(ErrCanceled)
		}

		if annotation == nil || !annotation.IsVisible() {
			continue
		}
		if layerID := annotation.MapLayerID(); layerID != "" && !t.settings.HasLayer(layerID) {
			continue
		}

		anchor := annotationAnchor(&t.settings, annotation)

		gc := renderContext.GC
		gc.Save()
		gc.Translate(anchor.X, anchor.Y)
		err := annotation.Render(renderContext)
		gc.Restore()
		if err != nil {
			return errorsx.Wrap(err)
		}
	}

	return nil
}

// annotationAnchor computes the output-space pixel position an annotation is
// drawn at. Fixed map positions are projected through the extent with the y
// axis flipped; relative positions are fractions of the output size.
func annotationAnchor(settings *mapexport.MapSettings, annotation mapexport.Annotation) mapexport.Point {
	extent := settings.Extent
	outputWidth := float64(settings.OutputSize.Width)
	outputHeight := float64(settings.OutputSize.Height)

	if annotation.HasFixedMapPosition() {
		position := annotation.MapPosition()
		return mapexport.Point{
			X: outputWidth * (position.X - extent.XMin) / extent.Width(),
			Y: outputHeight * (1 - (position.Y-extent.YMin)/extent.Height()),
		}
	}

	relative := annotation.RelativePosition()
	return mapexport.Point{
		X: relative.X * outputWidth,
		Y: relative.Y * outputHeight,
	}
}

func (t *RenderTask) finalizeOutput(surface *resolvedSurface) errorsx.Error {
	if t.dest == nil {
		// externally supplied painter: the caller owns the surface
		return nil
	}

	if t.dest.isPDF() {
		if t.dest.ForceRaster {
			if !pageDeviceSupported {
				return errorsx.Wrap(ErrImageUnsupportedFormat, "format", t.dest.FileFormat)
			}

			err := surface.page.MergeImage(surface.img)
			if err != nil {
				log.Printf("error merging the raster buffer into the page. Error: %q\n", err)
				return errorsx.Wrap(ErrImageSaveFail, "filePath", t.dest.FilePath)
			}
		}

		err := surface.page.Close()
		if err != nil {
			log.Printf("error writing page output to %q. Error: %q\n", t.dest.FilePath, err)
			return errorsx.Wrap(ErrImageSaveFail, "filePath", t.dest.FilePath)
		}

		if t.dest.ForceRaster && t.dest.SaveWorldFile {
			// embedded metadata only in this branch; no sidecar fallback
			return t.writeGeoreferencing(false)
		}

		return nil
	}

	err := saveImage(surface.img, t.dest.FilePath, t.dest.FileFormat)
	if err != nil {
		log.Printf("error saving image to %q. Error: %q\n", t.dest.FilePath, err)
		return errorsx.Wrap(ErrImageSaveFail, "filePath", t.dest.FilePath)
	}

	if t.dest.SaveWorldFile {
		return t.writeGeoreferencing(true)
	}

	return nil
}

// writeGeoreferencing stamps the already-written output file. Formats with a
// registered dataset updater get the transform and projection embedded; for
// the rest, and when the file cannot be opened for embedding, a sidecar
// world file is written, unless allowSidecar is false.
func (t *RenderTask) writeGeoreferencing(allowSidecar bool) errorsx.Error {
	geoTransform := georef.CalculateGeoTransform(&t.settings)

	extension := strings.TrimPrefix(filepath.Ext(t.dest.FilePath), ".")

	updater := georef.UpdaterForExtension(extension)
	if updater != nil {
		dataset, err := updater.OpenForUpdate(t.dest.FilePath, georef.UpdateOptions{OutputDPI: t.settings.OutputDPI})
		if err == nil {
			err = dataset.SetGeoTransform(geoTransform)
			if err != nil {
				return errorsx.Wrap(err)
			}

			err = dataset.SetProjection(t.settings.DestinationCRS)
			if err != nil {
				return errorsx.Wrap(err)
			}

			return dataset.Close()
		}

		// not fatal for the export: the image was written fine, so fall back
		// to the sidecar world file
		log.Printf("couldn't open %q to embed georeferencing. Error: %q\n", t.dest.FilePath, err)
	}

	if !allowSidecar {
		return nil
	}

	sidecarPath, err := georef.WorldFilePath(t.dest.FilePath)
	if err != nil {
		return errorsx.Wrap(err)
	}

	writeErr := ioutil.WriteFile(sidecarPath, []byte(georef.WorldFileContent(geoTransform)), 0644)
	if writeErr != nil {
		return errorsx.Wrap(writeErr)
	}

	return nil
}

// tracing spans are recorded only when a tracer was installed on the context
// (e.g. by the HTTP tracing middleware); everywhere else they are skipped.
func startSpan(ctx context.Context, name string) *tracing.Span {
	if ctx.Value(tracing.TracerCtxKey) == nil || ctx.Value(tracing.TraceCtxKey) == nil {
		return nil
	}
	return tracing.StartSpan(ctx, name)
}

func endSpan(ctx context.Context, span *tracing.Span) {
	if span != nil {
		span.End(ctx)
	}
}

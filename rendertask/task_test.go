package rendertask

import (
	"context"
	"image"
	"image/color"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/georef/geotifftag"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/jamesrr39/mapexport-app/renderjob"
	"github.com/jamesrr39/mapexport-app/renderjob/testmocks"
	"github.com/llgcode/draw2d"
	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() mapexport.MapSettings {
	return mapexport.MapSettings{
		Extent:          mapexport.Extent{XMin: 0, YMin: 0, XMax: 100, YMax: 100},
		OutputSize:      mapexport.Size{Width: 20, Height: 10},
		OutputDPI:       96,
		DestinationCRS:  "EPSG:4326",
		BackgroundColor: color.White,
	}
}

func noopJobFactory() renderjob.Factory {
	return func(settings *mapexport.MapSettings, gc draw2d.GraphicContext) renderjob.Job {
		return &testmocks.MockJob{}
	}
}

// countingAnnotation records how many times it was rendered. Clones share the
// counter with the original.
type countingAnnotation struct {
	mapexport.AnnotationBase
	renderCount *int32
}

func (ca *countingAnnotation) Render(ctx *mapexport.RenderContext) errorsx.Error {
	atomic.AddInt32(ca.renderCount, 1)
	return nil
}

func (ca *countingAnnotation) Clone() mapexport.Annotation {
	copied := *ca
	return &copied
}

type countingDecoration struct {
	renderCount *int32
}

func (cd *countingDecoration) Render(settings *mapexport.MapSettings, ctx *mapexport.RenderContext) errorsx.Error {
	atomic.AddInt32(cd.renderCount, 1)
	return nil
}

func Test_RenderTask_cancelBeforeRun(t *testing.T) {
	var jobsCreated, decorationsRendered int32

	newJob := func(settings *mapexport.MapSettings, gc draw2d.GraphicContext) renderjob.Job {
		atomic.AddInt32(&jobsCreated, 1)
		return &testmocks.MockJob{}
	}

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(testSettings(), draw2dimg.NewGraphicContext(img), newJob)
	task.SetDecorations([]mapexport.Decoration{&countingDecoration{renderCount: &decorationsRendered}})

	task.Cancel()
	err := task.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, ErrCanceled, errorsx.Cause(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&jobsCreated))
	assert.Equal(t, int32(0), atomic.LoadInt32(&decorationsRendered))
}

func Test_RenderTask_cancelWhileRenderInFlight(t *testing.T) {
	renderStarted := make(chan struct{})
	release := make(chan struct{})

	var cancelCalls int32
	newJob := func(settings *mapexport.MapSettings, gc draw2d.GraphicContext) renderjob.Job {
		return &testmocks.MockJob{
			RenderSynchronouslyFunc: func() {
				close(renderStarted)
				<-release
			},
			CancelWithoutBlockingFunc: func() {
				if atomic.AddInt32(&cancelCalls, 1) == 1 {
					close(release)
				}
			},
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(testSettings(), draw2dimg.NewGraphicContext(img), newJob)

	resultChan := make(chan errorsx.Error)
	go func() {
		resultChan <- task.Run(context.Background())
	}()

	<-renderStarted
	task.Cancel()

	err := <-resultChan
	require.Error(t, err)
	assert.Equal(t, ErrCanceled, errorsx.Cause(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelCalls))
}

func Test_RenderTask_cancelAfterRunIsSafe(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(testSettings(), draw2dimg.NewGraphicContext(img), noopJobFactory())

	err := task.Run(context.Background())
	require.NoError(t, err)

	// no job in flight anymore; must not panic or block
	task.Cancel()
}

func Test_RenderTask_invalidSettings(t *testing.T) {
	settings := testSettings()
	settings.OutputSize = mapexport.Size{}

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(settings, draw2dimg.NewGraphicContext(img), noopJobFactory())

	err := task.Run(context.Background())
	require.Error(t, err)
}

func Test_RenderTask_compositesOverlays(t *testing.T) {
	var decorationsRendered int32
	var visibleRendered, layerBoundRendered, missingLayerRendered, invisibleRendered int32

	settings := testSettings()
	settings.LayerIDs = []string{"roads"}

	annotations := []mapexport.Annotation{
		&countingAnnotation{
			AnnotationBase: mapexport.AnnotationBase{Visible: true, RelPosition: mapexport.Point{X: 0.5, Y: 0.5}},
			renderCount:    &visibleRendered,
		},
		&countingAnnotation{
			AnnotationBase: mapexport.AnnotationBase{Visible: true, LayerID: "roads"},
			renderCount:    &layerBoundRendered,
		},
		&countingAnnotation{
			AnnotationBase: mapexport.AnnotationBase{Visible: true, LayerID: "buildings"},
			renderCount:    &missingLayerRendered,
		},
		&countingAnnotation{
			AnnotationBase: mapexport.AnnotationBase{Visible: false},
			renderCount:    &invisibleRendered,
		},
		nil,
	}

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(settings, draw2dimg.NewGraphicContext(img), noopJobFactory())
	task.SetAnnotations(annotations)
	task.SetDecorations([]mapexport.Decoration{&countingDecoration{renderCount: &decorationsRendered}})

	err := task.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&decorationsRendered))
	assert.Equal(t, int32(1), atomic.LoadInt32(&visibleRendered))
	assert.Equal(t, int32(1), atomic.LoadInt32(&layerBoundRendered))
	assert.Equal(t, int32(0), atomic.LoadInt32(&missingLayerRendered))
	assert.Equal(t, int32(0), atomic.LoadInt32(&invisibleRendered))
}

func Test_RenderTask_annotationsAreCloned(t *testing.T) {
	var renders int32
	original := &countingAnnotation{
		AnnotationBase: mapexport.AnnotationBase{Visible: true},
		renderCount:    &renders,
	}

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(testSettings(), draw2dimg.NewGraphicContext(img), noopJobFactory())
	task.SetAnnotations([]mapexport.Annotation{original})

	// hiding the original after SetAnnotations must not affect the task
	original.Visible = false

	err := task.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&renders))
}

func Test_annotationAnchor(t *testing.T) {
	settings := &mapexport.MapSettings{
		Extent:     mapexport.Extent{XMin: 0, YMin: 0, XMax: 100, YMax: 100},
		OutputSize: mapexport.Size{Width: 200, Height: 100},
	}

	fixedCenter := &countingAnnotation{
		AnnotationBase: mapexport.AnnotationBase{
			Visible:          true,
			FixedMapPosition: &mapexport.Point{X: 50, Y: 50},
		},
	}
	assert.Equal(t, mapexport.Point{X: 100, Y: 50}, annotationAnchor(settings, fixedCenter))

	fixedTopLeft := &countingAnnotation{
		AnnotationBase: mapexport.AnnotationBase{
			Visible:          true,
			FixedMapPosition: &mapexport.Point{X: 0, Y: 100},
		},
	}
	assert.Equal(t, mapexport.Point{X: 0, Y: 0}, annotationAnchor(settings, fixedTopLeft))

	relativeOrigin := &countingAnnotation{
		AnnotationBase: mapexport.AnnotationBase{Visible: true},
	}
	assert.Equal(t, mapexport.Point{X: 0, Y: 0}, annotationAnchor(settings, relativeOrigin))

	relativeBottomRight := &countingAnnotation{
		AnnotationBase: mapexport.AnnotationBase{Visible: true, RelPosition: mapexport.Point{X: 1, Y: 1}},
	}
	assert.Equal(t, mapexport.Point{X: 200, Y: 100}, annotationAnchor(settings, relativeBottomRight))
}

func Test_RenderTask_savesPNGWithWorldFile(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	filePath := filepath.Join(dirPath, "map.png")

	task := NewFileRenderTask(testSettings(), filePath, "png", false, noopJobFactory())
	task.SetSaveWorldFile(true)

	errx := task.Run(context.Background())
	require.NoError(t, errx)

	img, err := draw2dimg.LoadFromPngFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())

	sidecar, err := ioutil.ReadFile(filepath.Join(dirPath, "map.pgw"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(sidecar), "\n"), "\n")
	assert.Equal(t, []string{"5", "0", "0", "-10", "-2.5", "105"}, lines)
}

func Test_RenderTask_noWorldFileByDefault(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	filePath := filepath.Join(dirPath, "map.png")

	task := NewFileRenderTask(testSettings(), filePath, "png", false, noopJobFactory())

	errx := task.Run(context.Background())
	require.NoError(t, errx)

	_, err = os.Stat(filepath.Join(dirPath, "map.pgw"))
	assert.True(t, os.IsNotExist(err))
}

func Test_RenderTask_embedsGeoreferencingInTIFF(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	filePath := filepath.Join(dirPath, "map.tif")

	task := NewFileRenderTask(testSettings(), filePath, "tif", false, noopJobFactory())
	task.SetSaveWorldFile(true)

	errx := task.Run(context.Background())
	require.NoError(t, errx)

	// embedded metadata replaces the sidecar for TIFF outputs
	_, err = os.Stat(filepath.Join(dirPath, "map.tfw"))
	assert.True(t, os.IsNotExist(err))

	gt, errx := geotifftag.ReadGeoTransform(filePath)
	require.NoError(t, errx)
	assert.Equal(t, 5.0, gt.PixelWidth)
	assert.Equal(t, -10.0, gt.PixelHeight)
	assert.Equal(t, -2.5, gt.OriginX)
	assert.Equal(t, 105.0, gt.OriginY)
	assert.Equal(t, "EPSG:4326", gt.DestinationCRS)
}

func Test_RenderTask_worldFileFallbackWhenEmbeddingFails(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	// a .tif destination the GeoTIFF updater cannot parse
	filePath := filepath.Join(dirPath, "map.tif")
	require.NoError(t, ioutil.WriteFile(filePath, []byte("not a tiff file"), 0644))

	task := NewFileRenderTask(testSettings(), filePath, "tif", false, noopJobFactory())
	task.SetSaveWorldFile(true)

	errx := task.writeGeoreferencing(true)
	require.NoError(t, errx)

	sidecar, err := ioutil.ReadFile(filepath.Join(dirPath, "map.tfw"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(sidecar), "\n"), "\n")
	assert.Equal(t, []string{"5", "0", "0", "-10", "-2.5", "105"}, lines)
}

func Test_RenderTask_noSidecarFallbackForPageOutputs(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	// same failed-embed path, but page outputs never get a sidecar
	filePath := filepath.Join(dirPath, "map.tif")
	require.NoError(t, ioutil.WriteFile(filePath, []byte("not a tiff file"), 0644))

	task := NewFileRenderTask(testSettings(), filePath, "tif", false, noopJobFactory())
	task.SetSaveWorldFile(true)

	errx := task.writeGeoreferencing(false)
	require.NoError(t, errx)

	_, err = os.Stat(filepath.Join(dirPath, "map.tfw"))
	assert.True(t, os.IsNotExist(err))
}

func Test_RenderTask_deterministicOutput(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	renderOnce := func(fileName string) []byte {
		filePath := filepath.Join(dirPath, fileName)
		task := NewFileRenderTask(testSettings(), filePath, "png", false, noopJobFactory())

		errx := task.Run(context.Background())
		require.NoError(t, errx)

		data, err := ioutil.ReadFile(filePath)
		require.NoError(t, err)
		return data
	}

	first := renderOnce("first.png")
	second := renderOnce("second.png")

	assert.Equal(t, first, second)
}

func Test_RenderTask_unsupportedImageFormat(t *testing.T) {
	dirPath, err := ioutil.TempDir("", "rendertask_test")
	require.NoError(t, err)
	defer os.RemoveAll(dirPath)

	filePath := filepath.Join(dirPath, "map.bmp")

	task := NewFileRenderTask(testSettings(), filePath, "bmp", false, noopJobFactory())

	errx := task.Run(context.Background())
	require.Error(t, errx)
	assert.Equal(t, ErrImageSaveFail, errorsx.Cause(errx))
}

func Test_RenderTask_Finished(t *testing.T) {
	var completeCalls, errorCalls int32

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	task := NewPainterRenderTask(testSettings(), draw2dimg.NewGraphicContext(img), noopJobFactory())
	task.OnRenderingComplete = func() {
		atomic.AddInt32(&completeCalls, 1)
	}
	task.OnErrorOccurred = func(err errorsx.Error) {
		atomic.AddInt32(&errorCalls, 1)
	}

	task.Finished(nil)
	assert.Equal(t, int32(1), atomic.LoadInt32(&completeCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&errorCalls))

	task.Finished(errorsx.Wrap(ErrCanceled))
	assert.Equal(t, int32(1), atomic.LoadInt32(&completeCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&errorCalls))
}

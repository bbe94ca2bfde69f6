package main

import (
	"context"
	"fmt"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	tracing "github.com/jamesrr39/go-tracing"
	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/httpextra"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/jamesrr39/goutil/userextra"
	"github.com/jamesrr39/mapexport-app/fonts"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/jamesrr39/mapexport-app/mapexportrenderer"
	"github.com/jamesrr39/mapexport-app/renderjob"
	"github.com/jamesrr39/mapexport-app/rendertask"
	"github.com/jamesrr39/mapexport-app/webservices"
	"github.com/pkg/profile"
	"gopkg.in/alecthomas/kingpin.v2"
)

const (
	DEFAULT_PORT                   = 9000
	DEFAULT_DPI                    = 96
	DEFAULT_MAX_CONCURRENT_RENDERS = 2
)

var logger *logpkg.Logger

func main() {
	verbose := kingpin.Flag("v", "verbose logging").Bool()

	logLevel := logpkg.LogLevelInfo
	if *verbose {
		logLevel = logpkg.LogLevelDebug
	}
	logger = logpkg.NewLogger(os.Stderr, logLevel)

	setupExport()
	setupServe()

	kingpin.Parse()
}

func ensureDefaultPathsConfig() (*webservices.PathsConfig, errorsx.Error) {
	rootDir, err := userextra.ExpandUser("~/.local/share/github.com/jamesrr39/mapexport/")
	if err != nil {
		return nil, errorsx.Wrap(err)
	}

	pathsConfig := &webservices.PathsConfig{
		ExportsDir: filepath.Join(rootDir, "exports"),
		TraceDir:   filepath.Join(rootDir, "trace"),
	}

	err = pathsConfig.EnsurePaths()
	if err != nil {
		return nil, errorsx.Wrap(err)
	}

	return pathsConfig, nil
}

func setupExport() {
	cmd := kingpin.Command("export", "render a map to a file")
	outputPath := cmd.Arg("output-file", "file to write the map to. The format is derived from the extension unless --format is given").Required().String()
	boundsStr := cmd.Flag("bounds", "map extent as xmin,ymin,xmax,ymax").Required().String()
	width := cmd.Flag("width", "output width in pixels").Default("1024").Int()
	height := cmd.Flag("height", "output height in pixels").Default("768").Int()
	dpi := cmd.Flag("dpi", "output resolution in dots per inch").Default(fmt.Sprintf("%d", DEFAULT_DPI)).Float64()
	format := cmd.Flag("format", "output format (png, jpg, tif, PDF)").String()
	crs := cmd.Flag("crs", "coordinate reference system identity written into georeferencing").Default("EPSG:4326").String()
	rotation := cmd.Flag("rotation", "map rotation in degrees").Default("0").Float64()
	layersStr := cmd.Flag("layers", "comma separated list of layer IDs to draw, in draw order").String()
	forceRaster := cmd.Flag("force-raster", "render PDF output through an intermediate raster image").Bool()
	worldFile := cmd.Flag("world-file", "write georeferencing (embedded where the format supports it, otherwise a sidecar world file)").Bool()
	graticuleInterval := cmd.Flag("graticule-interval", "draw a coordinate grid with this spacing in map units").Default("0").Float64()
	title := cmd.Flag("title", "title annotation drawn near the top-left corner").String()
	copyright := cmd.Flag("copyright", "attribution label drawn in the bottom-left corner").String()
	shouldProfile := cmd.Flag("profile", "profile the export performance").Bool()
	cmd.Action(func(ctx *kingpin.ParseContext) error {
		run := func() errorsx.Error {
			if *shouldProfile {
				defer profile.Start().Stop()
			}

			expandedOutputPath, err := userextra.ExpandUser(*outputPath)
			if err != nil {
				return errorsx.Wrap(err)
			}

			extent, err := mapexport.ParseExtent(*boundsStr)
			if err != nil {
				return errorsx.Wrap(err)
			}

			var layerIDs []string
			for _, layerID := range strings.Split(*layersStr, ",") {
				if layerID == "" {
					continue
				}
				layerIDs = append(layerIDs, layerID)
			}

			settings := mapexport.MapSettings{
				Extent:          extent,
				OutputSize:      mapexport.Size{Width: *width, Height: *height},
				OutputDPI:       *dpi,
				DestinationCRS:  *crs,
				Rotation:        *rotation,
				LayerIDs:        layerIDs,
				BackgroundColor: color.White,
				Flags:           mapexport.RenderFlagAntialiasing,
			}

			layerRenderer := mapexportrenderer.NewBasicLayerRenderer()
			if *graticuleInterval > 0 {
				settings.LayerIDs = append(settings.LayerIDs, "graticule")
				addGraticuleFeatures(layerRenderer, extent, *graticuleInterval)
			}

			fileFormat := *format
			if fileFormat == "" {
				fileFormat = strings.TrimPrefix(filepath.Ext(expandedOutputPath), ".")
			}
			if strings.EqualFold(fileFormat, "pdf") {
				fileFormat = "PDF"
			}

			task := rendertask.NewFileRenderTask(settings, expandedOutputPath, fileFormat, *forceRaster, renderjob.NewFactory(layerRenderer))
			task.SetSaveWorldFile(*worldFile)

			var annotations []mapexport.Annotation
			if *title != "" {
				annotations = append(annotations, &mapexport.TextAnnotation{
					AnnotationBase: mapexport.AnnotationBase{
						Visible:     true,
						RelPosition: mapexport.Point{X: 0.02, Y: 0.02},
					},
					Text:      *title,
					TextSize:  18,
					TextColor: color.Black,
					Font:      fonts.DefaultFont(),
				})
			}
			task.SetAnnotations(annotations)

			decorations := []mapexport.Decoration{
				&mapexport.BorderDecoration{LineWidth: 1, LineColor: color.Black},
			}
			if *copyright != "" {
				decorations = append(decorations, &mapexport.CopyrightDecoration{
					Label:     *copyright,
					TextSize:  10,
					TextColor: color.Black,
					Font:      fonts.DefaultFont(),
				})
			}
			task.SetDecorations(decorations)

			task.OnRenderingComplete = func() {
				logger.Info("saved map to %q", expandedOutputPath)
			}
			task.OnErrorOccurred = func(err errorsx.Error) {
				logger.Error("export failed. Error: %q", err.Error())
			}

			queue := rendertask.NewRenderQueue(1)
			item := queue.AddTaskToQueue(context.Background(), task)
			queue.Wait()

			if item.Err != nil {
				return item.Err
			}
			return nil
		}

		err := run()
		if err != nil {
			return fmt.Errorf("error: %q\nStack trace:\n%s", err.Error(), err.Stack())
		}
		return nil
	})
}

func addGraticuleFeatures(layerRenderer *mapexportrenderer.BasicLayerRenderer, extent mapexport.Extent, interval float64) {
	gridColor := color.RGBA{A: 255, R: 180, G: 180, B: 180}

	for x := extent.XMin + interval; x < extent.XMax; x += interval {
		layerRenderer.AddFeature("graticule", &mapexportrenderer.Feature{
			Points: []mapexport.Point{
				{X: x, Y: extent.YMin},
				{X: x, Y: extent.YMax},
			},
			LineColor: gridColor,
			LineWidth: 0.5,
		})
	}

	for y := extent.YMin + interval; y < extent.YMax; y += interval {
		layerRenderer.AddFeature("graticule", &mapexportrenderer.Feature{
			Points: []mapexport.Point{
				{X: extent.XMin, Y: y},
				{X: extent.XMax, Y: y},
			},
			LineColor: gridColor,
			LineWidth: 0.5,
		})
	}
}

var addrHelp = fmt.Sprintf(
	`address to serve on. Ex: ':%d' listen on port %d to traffic from anywhere. 'localhost:%d' listen on port %d to traffic from localhost`,
	DEFAULT_PORT, DEFAULT_PORT, DEFAULT_PORT, DEFAULT_PORT,
)

func setupServe() {
	cmd := kingpin.Command("serve", "serve the map export webservice")
	addr := cmd.Flag("addr", addrHelp).Default(fmt.Sprintf(":%d", DEFAULT_PORT)).String()
	maxConcurrentRenders := cmd.Flag("max-concurrent-renders", "maximum amount of renders running at the same time").Default(fmt.Sprintf("%d", DEFAULT_MAX_CONCURRENT_RENDERS)).Uint()
	shouldProfile := cmd.Flag("profile", "profile the export performance").Bool()
	cmd.Action(func(ctx *kingpin.ParseContext) error {
		run := func() errorsx.Error {
			pathsConfig, err := ensureDefaultPathsConfig()
			if err != nil {
				return errorsx.Wrap(err)
			}

			router, err := createServer(pathsConfig, *maxConcurrentRenders, *shouldProfile)
			if err != nil {
				return errorsx.Wrap(err)
			}

			server := httpextra.NewServerWithTimeouts()
			server.Addr = *addr
			server.Handler = router

			logger.Info("about to start serving on %q", *addr)

			listenErr := server.ListenAndServe()
			if listenErr != nil {
				return errorsx.Wrap(listenErr)
			}
			return nil
		}

		err := run()
		if err != nil {
			return fmt.Errorf("error: %q\nStack trace:\n%s", err.Error(), err.Stack())
		}
		return nil
	})
}

func createServer(pathsConfig *webservices.PathsConfig, maxConcurrentRenders uint, shouldProfile bool) (chi.Router, errorsx.Error) {
	traceFilePath := filepath.Join(pathsConfig.TraceDir, fmt.Sprintf("trace_%s.pbf", time.Now().Format("2006-01-02__03_04_05")))
	logger.Info("tracing at %q", traceFilePath)

	traceFile, err := os.Create(traceFilePath)
	if err != nil {
		return nil, errorsx.Wrap(err)
	}

	tracer := tracing.NewTracer(traceFile)

	queue := rendertask.NewRenderQueue(maxConcurrentRenders)
	jobFactory := renderjob.NewFactory(mapexportrenderer.NewBasicLayerRenderer())

	exportService := webservices.NewExportService(logger, pathsConfig, queue, jobFactory, shouldProfile)

	router := chi.NewRouter()
	router.Use(middleware.DefaultLogger)
	router.Use(tracing.Middleware(tracer))
	router.Route("/api/", func(r chi.Router) {
		r.Mount("/exports", exportService)
	})

	router.Mount("/exports/", http.StripPrefix("/exports/", http.FileServer(http.Dir(pathsConfig.ExportsDir))))

	return router, nil
}

package webservices

import (
	"context"
	"fmt"
	"image/color"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/jamesrr39/mapexport-app/fonts"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/jamesrr39/mapexport-app/renderjob"
	"github.com/jamesrr39/mapexport-app/rendertask"
	"github.com/pkg/profile"
)

// ExportService accepts map export requests, runs them through a render
// queue and reports per-export progress.
type ExportService struct {
	logger        *logpkg.Logger
	pathsConfig   *PathsConfig
	queue         *rendertask.RenderQueue
	jobFactory    renderjob.Factory
	shouldProfile bool

	filePathsMu *sync.RWMutex
	filePaths   map[int]string

	chi.Router
}

func NewExportService(logger *logpkg.Logger, pathsConfig *PathsConfig, queue *rendertask.RenderQueue, jobFactory renderjob.Factory, shouldProfile bool) *ExportService {
	es := &ExportService{logger, pathsConfig, queue, jobFactory, shouldProfile, new(sync.RWMutex), make(map[int]string), chi.NewRouter()}

	es.Get("/", es.handleGetItems)
	es.Post("/", es.handlePostExport)
	es.Post("/{id}/cancel", es.handleCancel)

	return es
}

type exportRequestType struct {
	Extent        [4]float64 `json:"extent"` // xmin, ymin, xmax, ymax
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	DPI           float64    `json:"dpi"`
	CRS           string     `json:"crs"`
	Rotation      float64    `json:"rotation"`
	LayerIDs      []string   `json:"layerIds"`
	FileName      string     `json:"fileName"`
	Format        string     `json:"format"`
	ForceRaster   bool       `json:"forceRaster"`
	SaveWorldFile bool       `json:"saveWorldFile"`
	Copyright     string     `json:"copyright,omitempty"`
}

type exportItemType struct {
	ID             int     `json:"id"`
	Status         string  `json:"status"`
	FilePath       string  `json:"filePath"`
	Error          string  `json:"error,omitempty"`
	TimeInProgress float64 `json:"timeInProgressSeconds"`
}

func (es *ExportService) handleGetItems(w http.ResponseWriter, r *http.Request) {
	var items []*exportItemType
	for _, item := range es.queue.GetItems() {
		itemJSON := &exportItemType{
			ID:             item.ID,
			Status:         item.Status.String(),
			FilePath:       es.filePathForItem(item.ID),
			TimeInProgress: item.TimeInProgress.Seconds(),
		}
		if item.Err != nil {
			itemJSON.Error = item.Err.Error()
		}

		items = append(items, itemJSON)
	}

	render.JSON(w, r, items)
}

func (es *ExportService) handlePostExport(w http.ResponseWriter, r *http.Request) {
	if es.shouldProfile {
		defer profile.Start().Stop()
	}

	var req exportRequestType
	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		errorsx.HTTPError(w, es.logger, errorsx.Wrap(err), http.StatusBadRequest)
		return
	}

	settings := mapexport.MapSettings{
		Extent: mapexport.Extent{
			XMin: req.Extent[0],
			YMin: req.Extent[1],
			XMax: req.Extent[2],
			YMax: req.Extent[3],
		},
		OutputSize:      mapexport.Size{Width: req.Width, Height: req.Height},
		OutputDPI:       req.DPI,
		DestinationCRS:  req.CRS,
		Rotation:        req.Rotation,
		LayerIDs:        req.LayerIDs,
		BackgroundColor: color.White,
		Flags:           mapexport.RenderFlagAntialiasing,
	}

	validationErr := settings.Validate()
	if validationErr != nil {
		errorsx.HTTPError(w, es.logger, validationErr, http.StatusBadRequest)
		return
	}

	if req.DPI <= 0 {
		settings.OutputDPI = 96
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = fmt.Sprintf("export_%s.%s", time.Now().Format("2006-01-02_15_04_05"), req.Format)
	}
	filePath := filepath.Join(es.pathsConfig.ExportsDir, filepath.Base(fileName))

	task := rendertask.NewFileRenderTask(settings, filePath, req.Format, req.ForceRaster, es.jobFactory)
	task.SetSaveWorldFile(req.SaveWorldFile)

	if req.Copyright != "" {
		task.SetDecorations([]mapexport.Decoration{
			&mapexport.CopyrightDecoration{
				Label:     req.Copyright,
				TextSize:  10,
				TextColor: color.Black,
				Font:      fonts.DefaultFont(),
			},
		})
	}

	logger := es.logger
	task.OnErrorOccurred = func(err errorsx.Error) {
		logger.Error("export to %q failed. Error: %q\nStack: %s", filePath, err.Error(), err.Stack())
	}
	task.OnRenderingComplete = func() {
		logger.Info("export to %q complete", filePath)
	}

	// the render outlives this request, so don't hand it the request context
	item := es.queue.AddTaskToQueue(context.Background(), task)

	es.filePathsMu.Lock()
	es.filePaths[item.ID] = filePath
	es.filePathsMu.Unlock()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, &exportItemType{
		ID:       item.ID,
		Status:   rendertask.TaskStatusQueued.String(),
		FilePath: filePath,
	})
}

func (es *ExportService) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		errorsx.HTTPError(w, es.logger, errorsx.Wrap(err), http.StatusBadRequest)
		return
	}

	cancelErr := es.queue.CancelItem(id)
	if cancelErr != nil {
		errorsx.HTTPError(w, es.logger, cancelErr, http.StatusNotFound)
		return
	}

	render.NoContent(w, r)
}

func (es *ExportService) filePathForItem(id int) string {
	es.filePathsMu.RLock()
	defer es.filePathsMu.RUnlock()
	return es.filePaths[id]
}

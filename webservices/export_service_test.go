package webservices

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesrr39/goutil/logpkg"
	"github.com/jamesrr39/mapexport-app/mapexportrenderer"
	"github.com/jamesrr39/mapexport-app/renderjob"
	"github.com/jamesrr39/mapexport-app/rendertask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exportServiceFixture struct {
	service *ExportService
	queue   *rendertask.RenderQueue
	dirPath string
}

func setupExportService(t *testing.T) *exportServiceFixture {
	t.Helper()

	dirPath, err := ioutil.TempDir("", "export_service_test")
	require.NoError(t, err)
	t.Cleanup(func() {
		os.RemoveAll(dirPath)
	})

	pathsConfig := &PathsConfig{
		ExportsDir: filepath.Join(dirPath, "exports"),
		TraceDir:   filepath.Join(dirPath, "traces"),
	}
	require.NoError(t, pathsConfig.EnsurePaths())

	logger := logpkg.NewLogger(ioutil.Discard, logpkg.LogLevelError)
	queue := rendertask.NewRenderQueue(1)
	jobFactory := renderjob.NewFactory(mapexportrenderer.NewBasicLayerRenderer())

	return &exportServiceFixture{
		service: NewExportService(logger, pathsConfig, queue, jobFactory, false),
		queue:   queue,
		dirPath: dirPath,
	}
}

func postExport(t *testing.T, fixture *exportServiceFixture, reqBody map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()

	bodyBytes, err := json.Marshal(reqBody)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(bodyBytes))
	fixture.service.ServeHTTP(w, r)

	return w
}

func Test_ExportService_postExport(t *testing.T) {
	fixture := setupExportService(t)

	w := postExport(t, fixture, map[string]interface{}{
		"extent":        []float64{0, 0, 100, 100},
		"width":         20,
		"height":        10,
		"crs":           "EPSG:4326",
		"fileName":      "city.png",
		"format":        "png",
		"saveWorldFile": true,
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	var item exportItemType
	require.NoError(t, json.NewDecoder(w.Body).Decode(&item))
	assert.Equal(t, 1, item.ID)
	assert.Equal(t, "Queued", item.Status)

	fixture.queue.Wait()

	_, err := os.Stat(filepath.Join(fixture.dirPath, "exports", "city.png"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(fixture.dirPath, "exports", "city.pgw"))
	require.NoError(t, err)

	w = httptest.NewRecorder()
	fixture.service.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var items []exportItemType
	require.NoError(t, json.NewDecoder(w.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "Done", items[0].Status)
	assert.Equal(t, filepath.Join(fixture.dirPath, "exports", "city.png"), items[0].FilePath)
	assert.Empty(t, items[0].Error)
}

func Test_ExportService_postExport_sanitisesFileName(t *testing.T) {
	fixture := setupExportService(t)

	w := postExport(t, fixture, map[string]interface{}{
		"extent":   []float64{0, 0, 100, 100},
		"width":    20,
		"height":   10,
		"fileName": "../../escape.png",
		"format":   "png",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	fixture.queue.Wait()

	// path-traversing names are flattened into the exports dir
	_, err := os.Stat(filepath.Join(fixture.dirPath, "exports", "escape.png"))
	require.NoError(t, err)
}

func Test_ExportService_postExport_invalidSettings(t *testing.T) {
	fixture := setupExportService(t)

	w := postExport(t, fixture, map[string]interface{}{
		"extent": []float64{0, 0, 100, 100},
		"width":  0,
		"height": 10,
		"format": "png",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fixture.queue.GetItems())
}

func Test_ExportService_postExport_badJSON(t *testing.T) {
	fixture := setupExportService(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	fixture.service.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func Test_ExportService_cancelUnknownItem(t *testing.T) {
	fixture := setupExportService(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/99/cancel", nil)
	fixture.service.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func Test_ExportService_cancelBadID(t *testing.T) {
	fixture := setupExportService(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/abc/cancel", nil)
	fixture.service.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

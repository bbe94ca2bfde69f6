package georef

import (
	"strings"
	"sync"

	"github.com/jamesrr39/goutil/errorsx"
)

// UpdateOptions scope one update call. They stand in for the thread-local
// configuration options of the underlying metadata libraries.
type UpdateOptions struct {
	// OutputDPI, when > 0, is written as the raster resolution of the
	// dataset where the format records one.
	OutputDPI float64
}

// Dataset is a georeferencable file opened for update.
type Dataset interface {
	SetGeoTransform(gt GeoTransform) errorsx.Error
	SetProjection(crs string) errorsx.Error
	// Close writes the pending metadata and releases the file.
	Close() errorsx.Error
}

// DatasetUpdater opens an already-written output file so georeferencing
// metadata can be embedded into it.
type DatasetUpdater interface {
	OpenForUpdate(filePath string, opts UpdateOptions) (Dataset, errorsx.Error)
}

var (
	updatersMu sync.RWMutex
	updaters   = make(map[string]DatasetUpdater)
)

// RegisterUpdater makes an updater available for an output file extension
// (without the leading dot, case-insensitive). Formats with a registered
// updater get embedded georeferencing instead of a sidecar world file.
func RegisterUpdater(extension string, updater DatasetUpdater) {
	updatersMu.Lock()
	defer updatersMu.Unlock()
	updaters[strings.ToLower(extension)] = updater
}

func UpdaterForExtension(extension string) DatasetUpdater {
	updatersMu.RLock()
	defer updatersMu.RUnlock()
	return updaters[strings.ToLower(extension)]
}

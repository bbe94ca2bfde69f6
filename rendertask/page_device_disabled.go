//go:build nopagedevice
// +build nopagedevice

package rendertask

import (
	"image"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/llgcode/draw2d"
)

// Built with the nopagedevice tag there is no PDF backend; requesting paged
// output fails with ErrImageUnsupportedFormat before any drawing happens.
const pageDeviceSupported = false

type pageDevice struct{}

func newPageDevice(settings *mapexport.MapSettings, filePath string) *pageDevice {
	return nil
}

func (p *pageDevice) GraphicContext() draw2d.GraphicContext {
	return nil
}

func (p *pageDevice) MergeImage(img image.Image) errorsx.Error {
	return errorsx.Wrap(ErrImageUnsupportedFormat)
}

func (p *pageDevice) Close() errorsx.Error {
	return errorsx.Wrap(ErrImageUnsupportedFormat)
}

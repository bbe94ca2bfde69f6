//go:build !nopagedevice
// +build !nopagedevice

package rendertask

import (
	"bytes"
	"image"
	"image/png"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/mapexport"
	"github.com/jung-kurt/gofpdf"
	"github.com/llgcode/draw2d"
	"github.com/llgcode/draw2d/draw2dpdf"
)

const pageDeviceSupported = true

// pageDevice is a single fixed-size PDF page sized so that the map's output
// pixel grid maps onto it at the configured resolution, with zero margins.
type pageDevice struct {
	pdf        *gofpdf.Fpdf
	gc         *draw2dpdf.GraphicContext
	filePath   string
	mmPerPixel float64
}

func newPageDevice(settings *mapexport.MapSettings, filePath string) *pageDevice {
	mmPerPixel := MillimetersPerInch / settings.OutputDPI
	pageWidth := float64(settings.OutputSize.Width) * mmPerPixel
	pageHeight := float64(settings.OutputSize.Height) * mmPerPixel

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	return &pageDevice{
		pdf:        pdf,
		filePath:   filePath,
		mmPerPixel: mmPerPixel,
	}
}

// GraphicContext returns a painter on the page, scaled so that drawing
// coordinates are output pixels rather than millimeters. Scaling on the pdf
// backend requires an open transformation context (a Save), so the device
// opens one here and keeps it until Close; gofpdf transform contexts nest, so
// per-annotation Save/Restore pairs inside it are fine.
func (p *pageDevice) GraphicContext() draw2d.GraphicContext {
	if p.gc == nil {
		gc := draw2dpdf.NewGraphicContext(p.pdf)
		gc.Save()
		gc.Scale(p.mmPerPixel, p.mmPerPixel)
		p.gc = gc
	}
	return p.gc
}

// MergeImage draws the full raster buffer onto the page, covering it.
func (p *pageDevice) MergeImage(img image.Image) errorsx.Error {
	buf := new(bytes.Buffer)
	err := png.Encode(buf, img)
	if err != nil {
		return errorsx.Wrap(err)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	p.pdf.RegisterImageOptionsReader("mapimage", opts, buf)

	bounds := img.Bounds()
	p.pdf.ImageOptions("mapimage", 0, 0, float64(bounds.Dx())*p.mmPerPixel, float64(bounds.Dy())*p.mmPerPixel, false, opts, 0, "")

	if p.pdf.Err() {
		return errorsx.Wrap(p.pdf.Error())
	}

	return nil
}

// Close ends the drawing-phase transformation context, if one was opened,
// and writes the page out to the destination file.
func (p *pageDevice) Close() errorsx.Error {
	if p.gc != nil {
		p.gc.Restore()
		p.gc = nil
	}

	err := p.pdf.OutputFileAndClose(p.filePath)
	if err != nil {
		return errorsx.Wrap(err)
	}

	return nil
}

package rendertask

import (
	"image"
	"image/jpeg"
	"os"
	"strings"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/llgcode/draw2d"
	"github.com/llgcode/draw2d/draw2dimg"
	"golang.org/x/image/tiff"
)

const formatPDF = "PDF"

// fileDestination describes file-output mode: where the result goes and how
// it is produced. It is nil for tasks rendering onto an external painter.
type fileDestination struct {
	FilePath      string
	FileFormat    string
	ForceRaster   bool
	SaveWorldFile bool
}

func (fd *fileDestination) isPDF() bool {
	return strings.EqualFold(fd.FileFormat, formatPDF)
}

// resolvedSurface is the outcome of surface resolution: the painter the
// render job draws onto, plus whichever backing surfaces are in play (raster
// buffer, page device) and need finalizing afterwards.
type resolvedSurface struct {
	gc   draw2d.GraphicContext
	img  *image.RGBA
	page *pageDevice
}

func (t *RenderTask) resolveSurface() (*resolvedSurface, errorsx.Error) {
	if t.painter != nil {
		return &resolvedSurface{gc: t.painter}, nil
	}

	resolved := new(resolvedSurface)

	if t.dest.isPDF() {
		if !pageDeviceSupported {
			return nil, errorsx.Wrap(ErrImageUnsupportedFormat, "format", t.dest.FileFormat)
		}

		resolved.page = newPageDevice(&t.settings, t.dest.FilePath)
		if !t.dest.ForceRaster {
			resolved.gc = resolved.page.GraphicContext()
		}
	}

	if resolved.gc == nil {
		// raster buffer needed: either a direct raster output, or the
		// intermediate image for a force-raster page output
		outputSize := t.settings.OutputSize
		img := image.NewRGBA(image.Rect(0, 0, outputSize.Width, outputSize.Height))
		if len(img.Pix) == 0 {
			return nil, errorsx.Wrap(ErrImageAllocationFail, "outputSize", outputSize)
		}

		gc := draw2dimg.NewGraphicContext(img)
		gc.SetDPI(int(t.settings.OutputDPI))

		resolved.img = img
		resolved.gc = gc
	}

	return resolved, nil
}

func saveImage(img image.Image, filePath, fileFormat string) errorsx.Error {
	switch strings.ToLower(fileFormat) {
	case "png":
		err := draw2dimg.SaveToPngFile(filePath, img)
		if err != nil {
			return errorsx.Wrap(err)
		}
	case "jpg", "jpeg":
		err := encodeToFile(filePath, func(f *os.File) error {
			return jpeg.Encode(f, img, nil)
		})
		if err != nil {
			return errorsx.Wrap(err)
		}
	case "tif", "tiff":
		err := encodeToFile(filePath, func(f *os.File) error {
			return tiff.Encode(f, img, nil)
		})
		if err != nil {
			return errorsx.Wrap(err)
		}
	default:
		return errorsx.Errorf("no encoder for image format %q", fileFormat)
	}

	return nil
}

func encodeToFile(filePath string, encode func(f *os.File) error) error {
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}

	err = encode(f)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

package georef

import (
	"math"

	"github.com/jamesrr39/mapexport-app/mapexport"
)

// GeoTransform is the affine mapping from raster space to map space, in the
// usual 6-coefficient form. The origin terms are shifted by half a pixel so
// the transform refers to pixel centres rather than the top-left corner.
// It is derived from map settings and never mutated afterwards.
type GeoTransform struct {
	OriginX     float64 // c
	PixelWidth  float64 // a
	RowRotation float64 // b
	OriginY     float64 // f
	ColRotation float64 // d
	PixelHeight float64 // e, negative: raster rows grow downwards

	// DestinationCRS is the coordinate reference identity of the map settings
	// the transform was derived from.
	DestinationCRS string
}

// Coefficients returns the transform in GDAL order:
// originX, pixelWidth, rowRotation, originY, colRotation, pixelHeight.
func (gt GeoTransform) Coefficients() [6]float64 {
	return [6]float64{gt.OriginX, gt.PixelWidth, gt.RowRotation, gt.OriginY, gt.ColRotation, gt.PixelHeight}
}

// CalculateGeoTransform derives the transform for the given settings. The
// settings are expected to be valid (positive extent and output size).
func CalculateGeoTransform(settings *mapexport.MapSettings) GeoTransform {
	extent := settings.Extent
	outputWidth := float64(settings.OutputSize.Width)
	outputHeight := float64(settings.OutputSize.Height)

	mapUnitsPerPixelX := extent.Width() / outputWidth
	mapUnitsPerPixelY := extent.Height() / outputHeight

	alpha := settings.Rotation * math.Pi / 180
	cosAlpha := math.Cos(alpha)
	sinAlpha := math.Sin(alpha)

	a := cosAlpha * mapUnitsPerPixelX
	b := sinAlpha * mapUnitsPerPixelY
	d := sinAlpha * mapUnitsPerPixelX
	e := -cosAlpha * mapUnitsPerPixelY

	// origin at the centre, moved back to the top-left pixel corner. For an
	// axis-aligned map this is exactly (xMin, yMax).
	center := extent.Center()
	c := center.X - a*outputWidth/2 - b*outputHeight/2
	f := center.Y - d*outputWidth/2 - e*outputHeight/2

	// shift to the pixel-centre convention
	c -= 0.5 * (a + b)
	f -= 0.5 * (d + e)

	return GeoTransform{
		OriginX:        c,
		PixelWidth:     a,
		RowRotation:    b,
		OriginY:        f,
		ColRotation:    d,
		PixelHeight:    e,
		DestinationCRS: settings.DestinationCRS,
	}
}

package geotifftag

import (
	"encoding/binary"
	"io/ioutil"
	"math"
	"strings"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/georef"
)

// ReadGeoTransform reads back the embedded transform and citation from a
// GeoTIFF written by this package (or any writer using the pixel scale +
// tiepoint or transformation matrix tags).
func ReadGeoTransform(filePath string) (georef.GeoTransform, errorsx.Error) {
	raw, err := ioutil.ReadFile(filePath)
	if err != nil {
		return georef.GeoTransform{}, errorsx.Wrap(err)
	}

	byteOrder, firstIFDOffset, err2 := parseHeader(raw)
	if err2 != nil {
		return georef.GeoTransform{}, err2
	}

	entries, _, err2 := parseIFD(raw, byteOrder, firstIFDOffset)
	if err2 != nil {
		return georef.GeoTransform{}, err2
	}

	var gt georef.GeoTransform
	foundTransform := false

	for _, entry := range entries {
		switch entry.tag {
		case tagModelPixelScale:
			scale, err2 := entryDoubles(raw, byteOrder, entry)
			if err2 != nil {
				return georef.GeoTransform{}, err2
			}
			if len(scale) < 2 {
				return georef.GeoTransform{}, errorsx.Errorf("pixel scale tag has %d values, expected at least 2", len(scale))
			}
			gt.PixelWidth = scale[0]
			gt.PixelHeight = -scale[1]
			foundTransform = true
		case tagModelTiepoint:
			tiepoint, err2 := entryDoubles(raw, byteOrder, entry)
			if err2 != nil {
				return georef.GeoTransform{}, err2
			}
			if len(tiepoint) < 6 {
				return georef.GeoTransform{}, errorsx.Errorf("tiepoint tag has %d values, expected 6", len(tiepoint))
			}
			gt.OriginX = tiepoint[3]
			gt.OriginY = tiepoint[4]
		case tagModelTransformation:
			matrix, err2 := entryDoubles(raw, byteOrder, entry)
			if err2 != nil {
				return georef.GeoTransform{}, err2
			}
			if len(matrix) < 16 {
				return georef.GeoTransform{}, errorsx.Errorf("transformation tag has %d values, expected 16", len(matrix))
			}
			gt.PixelWidth = matrix[0]
			gt.RowRotation = matrix[1]
			gt.OriginX = matrix[3]
			gt.ColRotation = matrix[4]
			gt.PixelHeight = matrix[5]
			gt.OriginY = matrix[7]
			foundTransform = true
		case tagGeoAsciiParams:
			data, err2 := entryData(raw, byteOrder, entry)
			if err2 != nil {
				return georef.GeoTransform{}, err2
			}
			citation := strings.TrimRight(string(data), "\x00")
			gt.DestinationCRS = strings.TrimSuffix(citation, "|")
		}
	}

	if !foundTransform {
		return georef.GeoTransform{}, errorsx.Errorf("no georeferencing tags found in %q", filePath)
	}

	return gt, nil
}

func entryData(raw []byte, byteOrder binary.ByteOrder, entry rawEntry) ([]byte, errorsx.Error) {
	dataType := byteOrder.Uint16(entry.raw[2:4])
	count := byteOrder.Uint32(entry.raw[4:8])

	typeSize, ok := dataTypeSizes[dataType]
	if !ok {
		return nil, errorsx.Errorf("unknown TIFF data type %d for tag %d", dataType, entry.tag)
	}

	byteLen := typeSize * count
	if byteLen <= 4 {
		return entry.raw[8 : 8+byteLen], nil
	}

	offset := byteOrder.Uint32(entry.raw[8:12])
	if int(offset)+int(byteLen) > len(raw) {
		return nil, errorsx.Errorf("tag %d data (offset %d, length %d) is outside the file", entry.tag, offset, byteLen)
	}

	return raw[offset : offset+byteLen], nil
}

func entryDoubles(raw []byte, byteOrder binary.ByteOrder, entry rawEntry) ([]float64, errorsx.Error) {
	data, err := entryData(raw, byteOrder, entry)
	if err != nil {
		return nil, err
	}

	if len(data)%8 != 0 {
		return nil, errorsx.Errorf("tag %d: expected 8-byte values, got %d bytes", entry.tag, len(data))
	}

	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(byteOrder.Uint64(data[i*8:]))
	}
	return values, nil
}

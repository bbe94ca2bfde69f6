// Package geotifftag embeds georeferencing metadata into classic TIFF files.
// It rewrites the first image file directory, adding the GeoTIFF transform
// and citation tags, so a file written by any TIFF encoder can be stamped
// after the fact. Register it once (blank import) and the georef updater
// registry routes .tif/.tiff outputs here.
package geotifftag

import (
	"encoding/binary"
	"io/ioutil"
	"math"
	"sort"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/mapexport-app/georef"
)

const (
	tagXResolution    = 282
	tagYResolution    = 283
	tagResolutionUnit = 296

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoAsciiParams      = 34737

	dataTypeShort    = 3
	dataTypeLong     = 4
	dataTypeRational = 5
	dataTypeASCII    = 2
	dataTypeDouble   = 12

	resolutionUnitInch = 2

	geoKeyGTRasterType    = 1025
	geoKeyGTCitation      = 1026
	rasterTypePixelIsArea = 1

	classicTIFFMagic = 42
)

var dataTypeSizes = map[uint16]uint32{
	1:                1, // byte
	dataTypeASCII:    1,
	dataTypeShort:    2,
	dataTypeLong:     4,
	dataTypeRational: 8,
	6:                1, // sbyte
	7:                1, // undefined
	8:                2, // sshort
	9:                4, // slong
	10:               8, // srational
	11:               4, // float
	dataTypeDouble:   8,
}

type Updater struct{}

func init() {
	georef.RegisterUpdater("tif", Updater{})
	georef.RegisterUpdater("tiff", Updater{})
}

func (Updater) OpenForUpdate(filePath string, opts georef.UpdateOptions) (georef.Dataset, errorsx.Error) {
	raw, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, errorsx.Wrap(err)
	}

	byteOrder, firstIFDOffset, err2 := parseHeader(raw)
	if err2 != nil {
		return nil, err2
	}

	entries, nextIFDOffset, err2 := parseIFD(raw, byteOrder, firstIFDOffset)
	if err2 != nil {
		return nil, err2
	}

	return &dataset{
		filePath:      filePath,
		opts:          opts,
		raw:           raw,
		byteOrder:     byteOrder,
		entries:       entries,
		nextIFDOffset: nextIFDOffset,
	}, nil
}

type rawEntry struct {
	tag uint16
	raw [12]byte
}

type dataset struct {
	filePath      string
	opts          georef.UpdateOptions
	raw           []byte
	byteOrder     binary.ByteOrder
	entries       []rawEntry
	nextIFDOffset uint32

	geoTransform *georef.GeoTransform
	projection   *string
}

func (d *dataset) SetGeoTransform(gt georef.GeoTransform) errorsx.Error {
	d.geoTransform = &gt
	return nil
}

func (d *dataset) SetProjection(crs string) errorsx.Error {
	d.projection = &crs
	return nil
}

// Close appends a rewritten IFD to the end of the file and repoints the
// header at it. Existing tag data referenced by offset stays where it is, so
// strip offsets and pixel data remain valid.
func (d *dataset) Close() errorsx.Error {
	if d.geoTransform == nil && d.projection == nil && d.opts.OutputDPI <= 0 {
		return nil
	}

	replacedTags := map[uint16]bool{
		tagModelPixelScale:     true,
		tagModelTiepoint:       true,
		tagModelTransformation: true,
		tagGeoKeyDirectory:     true,
		tagGeoDoubleParams:     true,
		tagGeoAsciiParams:      true,
	}
	if d.opts.OutputDPI > 0 {
		replacedTags[tagXResolution] = true
		replacedTags[tagYResolution] = true
		replacedTags[tagResolutionUnit] = true
	}

	var kept []rawEntry
	for _, entry := range d.entries {
		if replacedTags[entry.tag] {
			continue
		}
		kept = append(kept, entry)
	}

	newEntries := d.buildNewEntries()

	out := append([]byte(nil), d.raw...)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	ifdOffset := uint32(len(out))

	entryCount := len(kept) + len(newEntries)
	dataAreaOffset := ifdOffset + 2 + uint32(entryCount)*12 + 4

	// assign offsets for entry values too big to store inline
	dataOffset := dataAreaOffset
	for i := range newEntries {
		if len(newEntries[i].data) > 4 {
			newEntries[i].offset = dataOffset
			dataOffset += uint32(len(newEntries[i].data))
			if dataOffset%2 == 1 {
				dataOffset++
			}
		}
	}

	serialized := d.serializeIFD(kept, newEntries)
	out = append(out, serialized...)

	d.byteOrder.PutUint32(out[4:8], ifdOffset)

	err := ioutil.WriteFile(d.filePath, out, 0644)
	if err != nil {
		return errorsx.Wrap(err)
	}

	d.raw = nil

	return nil
}

type newEntry struct {
	tag      uint16
	dataType uint16
	count    uint32
	data     []byte
	offset   uint32
}

func (d *dataset) buildNewEntries() []newEntry {
	var entries []newEntry

	if d.geoTransform != nil {
		gt := *d.geoTransform

		if gt.RowRotation == 0 && gt.ColRotation == 0 {
			entries = append(entries,
				d.doubleEntry(tagModelPixelScale, []float64{gt.PixelWidth, -gt.PixelHeight, 0}),
				d.doubleEntry(tagModelTiepoint, []float64{0, 0, 0, gt.OriginX, gt.OriginY, 0}),
			)
		} else {
			entries = append(entries, d.doubleEntry(tagModelTransformation, []float64{
				gt.PixelWidth, gt.RowRotation, 0, gt.OriginX,
				gt.ColRotation, gt.PixelHeight, 0, gt.OriginY,
				0, 0, 0, 0,
				0, 0, 0, 1,
			}))
		}
	}

	if d.projection != nil {
		// ascii params entries are '|'-separated, NUL-terminated
		citation := *d.projection + "|"
		asciiParams := append([]byte(citation), 0)

		keyDirectory := []uint16{
			1, 1, 0, 2, // version, revision, minor, key count
			geoKeyGTRasterType, 0, 1, rasterTypePixelIsArea,
			geoKeyGTCitation, tagGeoAsciiParams, uint16(len(citation)), 0,
		}

		entries = append(entries,
			d.shortEntry(tagGeoKeyDirectory, keyDirectory),
			newEntry{tag: tagGeoAsciiParams, dataType: dataTypeASCII, count: uint32(len(asciiParams)), data: asciiParams},
		)
	}

	if d.opts.OutputDPI > 0 {
		numerator := uint32(math.Round(d.opts.OutputDPI * 100))
		entries = append(entries,
			d.rationalEntry(tagXResolution, numerator, 100),
			d.rationalEntry(tagYResolution, numerator, 100),
			d.shortEntry(tagResolutionUnit, []uint16{resolutionUnitInch}),
		)
	}

	return entries
}

func (d *dataset) doubleEntry(tag uint16, values []float64) newEntry {
	data := make([]byte, 8*len(values))
	for i, value := range values {
		d.byteOrder.PutUint64(data[i*8:], math.Float64bits(value))
	}
	return newEntry{tag: tag, dataType: dataTypeDouble, count: uint32(len(values)), data: data}
}

func (d *dataset) shortEntry(tag uint16, values []uint16) newEntry {
	data := make([]byte, 2*len(values))
	for i, value := range values {
		d.byteOrder.PutUint16(data[i*2:], value)
	}
	return newEntry{tag: tag, dataType: dataTypeShort, count: uint32(len(values)), data: data}
}

func (d *dataset) rationalEntry(tag uint16, numerator, denominator uint32) newEntry {
	data := make([]byte, 8)
	d.byteOrder.PutUint32(data[0:4], numerator)
	d.byteOrder.PutUint32(data[4:8], denominator)
	return newEntry{tag: tag, dataType: dataTypeRational, count: 1, data: data}
}

func (d *dataset) serializeIFD(kept []rawEntry, newEntries []newEntry) []byte {
	type anyEntry struct {
		tag        uint16
		serialized [12]byte
	}

	var all []anyEntry
	for _, entry := range kept {
		all = append(all, anyEntry{entry.tag, entry.raw})
	}
	for _, entry := range newEntries {
		var buf [12]byte
		d.byteOrder.PutUint16(buf[0:2], entry.tag)
		d.byteOrder.PutUint16(buf[2:4], entry.dataType)
		d.byteOrder.PutUint32(buf[4:8], entry.count)
		if len(entry.data) <= 4 {
			copy(buf[8:12], entry.data)
		} else {
			d.byteOrder.PutUint32(buf[8:12], entry.offset)
		}
		all = append(all, anyEntry{entry.tag, buf})
	}

	// TIFF requires IFD entries in ascending tag order
	sort.Slice(all, func(a, b int) bool {
		return all[a].tag < all[b].tag
	})

	out := make([]byte, 2, 2+12*len(all)+4)
	d.byteOrder.PutUint16(out[0:2], uint16(len(all)))
	for _, entry := range all {
		out = append(out, entry.serialized[:]...)
	}

	var next [4]byte
	d.byteOrder.PutUint32(next[:], d.nextIFDOffset)
	out = append(out, next[:]...)

	for _, entry := range newEntries {
		if len(entry.data) <= 4 {
			continue
		}
		out = append(out, entry.data...)
		if len(entry.data)%2 == 1 {
			out = append(out, 0)
		}
	}

	return out
}

func parseHeader(raw []byte) (binary.ByteOrder, uint32, errorsx.Error) {
	if len(raw) < 8 {
		return nil, 0, errorsx.Errorf("file too short to be a TIFF (%d bytes)", len(raw))
	}

	var byteOrder binary.ByteOrder
	switch string(raw[0:2]) {
	case "II":
		byteOrder = binary.LittleEndian
	case "MM":
		byteOrder = binary.BigEndian
	default:
		return nil, 0, errorsx.Errorf("not a TIFF file: unknown byte order marker %q", string(raw[0:2]))
	}

	magic := byteOrder.Uint16(raw[2:4])
	if magic != classicTIFFMagic {
		return nil, 0, errorsx.Errorf("unsupported TIFF variant (magic number %d)", magic)
	}

	return byteOrder, byteOrder.Uint32(raw[4:8]), nil
}

func parseIFD(raw []byte, byteOrder binary.ByteOrder, offset uint32) ([]rawEntry, uint32, errorsx.Error) {
	if int(offset)+2 > len(raw) {
		return nil, 0, errorsx.Errorf("IFD offset %d is outside the file", offset)
	}

	count := byteOrder.Uint16(raw[offset : offset+2])
	entriesEnd := int(offset) + 2 + int(count)*12 + 4
	if entriesEnd > len(raw) {
		return nil, 0, errorsx.Errorf("IFD at offset %d is truncated", offset)
	}

	var entries []rawEntry
	for i := 0; i < int(count); i++ {
		entryOffset := int(offset) + 2 + i*12

		var entry rawEntry
		copy(entry.raw[:], raw[entryOffset:entryOffset+12])
		entry.tag = byteOrder.Uint16(entry.raw[0:2])

		entries = append(entries, entry)
	}

	nextIFDOffset := byteOrder.Uint32(raw[entriesEnd-4 : entriesEnd])

	return entries, nextIFDOffset, nil
}

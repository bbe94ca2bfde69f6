package mapexport

import (
	"strconv"
	"strings"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/paulmach/osm"
)

func ExtentFromOSMBounds(bounds osm.Bounds) Extent {
	return Extent{
		XMin: bounds.MinLon,
		YMin: bounds.MinLat,
		XMax: bounds.MaxLon,
		YMax: bounds.MaxLat,
	}
}

func (e Extent) ToOSMBounds() osm.Bounds {
	return osm.Bounds{
		MinLon: e.XMin,
		MinLat: e.YMin,
		MaxLon: e.XMax,
		MaxLat: e.YMax,
	}
}

// ParseExtent parses "xmin,ymin,xmax,ymax" as written on a command line.
func ParseExtent(str string) (Extent, errorsx.Error) {
	fragments := strings.Split(str, ",")
	if len(fragments) != 4 {
		return Extent{}, errorsx.Errorf("expected 4 comma-separated extent values, but found %d", len(fragments))
	}

	var values [4]float64
	for idx, fragment := range fragments {
		value, err := strconv.ParseFloat(strings.TrimSpace(fragment), 64)
		if err != nil {
			return Extent{}, errorsx.Wrap(err, "extent fragment", fragment)
		}
		values[idx] = value
	}

	return Extent{XMin: values[0], YMin: values[1], XMax: values[2], YMax: values[3]}, nil
}

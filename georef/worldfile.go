package georef

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesrr39/goutil/errorsx"
)

// WorldFileContent formats the transform as the six-line world file format:
// pixel width, row rotation, column rotation, pixel height, origin x,
// origin y. The origin terms are the pixel-centre-shifted ones.
func WorldFileContent(gt GeoTransform) string {
	values := []float64{
		gt.PixelWidth,
		gt.RowRotation,
		gt.ColRotation,
		gt.PixelHeight,
		gt.OriginX,
		gt.OriginY,
	}

	var sb strings.Builder
	for _, value := range values {
		sb.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
		sb.WriteString("\n")
	}
	return sb.String()
}

// WorldFilePath derives the sidecar file path for an output file: the
// extension is replaced by its own first and last character followed by 'w'
// ("map.png" -> "map.pgw", "map.jpeg" -> "map.jgw"). This convention is kept
// for compatibility with existing geo tools; it requires the output path to
// have an extension.
func WorldFilePath(outputPath string) (string, errorsx.Error) {
	suffix := strings.TrimPrefix(filepath.Ext(outputPath), ".")
	if suffix == "" {
		return "", errorsx.Errorf("cannot derive a world file name: output path %q has no extension", outputPath)
	}

	worldFileSuffix := fmt.Sprintf("%c%cw", suffix[0], suffix[len(suffix)-1])
	base := strings.TrimSuffix(outputPath, suffix)

	return base + worldFileSuffix, nil
}

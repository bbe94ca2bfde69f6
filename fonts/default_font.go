package fonts

import (
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var defaultFont *truetype.Font

func init() {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}

	defaultFont = font
}

func DefaultFont() *truetype.Font {
	return defaultFont
}

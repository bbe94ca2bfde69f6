package mapexport

import (
	"image"
	"image/color"
	"unicode/utf8"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/jamesrr39/goutil/errorsx"
	"github.com/llgcode/draw2d/draw2dkit"
)

// Decoration is an overlay drawn over the whole map after the layers, before
// the annotations. Decorations position themselves from the map settings; the
// caller keeps ownership of the decoration objects.
type Decoration interface {
	Render(settings *MapSettings, ctx *RenderContext) errorsx.Error
}

// CopyrightDecoration draws an attribution label in the bottom-left corner.
type CopyrightDecoration struct {
	Label     string
	TextSize  int
	TextColor color.Color
	Font      *truetype.Font
}

func (cd *CopyrightDecoration) Render(settings *MapSettings, ctx *RenderContext) errorsx.Error {
	width := utf8.RuneCountInString(cd.Label) * cd.TextSize
	height := cd.TextSize * 2
	if width == 0 {
		return nil
	}

	labelImg := image.NewRGBA(image.Rect(0, 0, width, height))

	ftCtx := freetype.NewContext()
	ftCtx.SetDPI(72)
	ftCtx.SetFont(cd.Font)
	ftCtx.SetFontSize(float64(cd.TextSize))
	ftCtx.SetClip(labelImg.Bounds())
	ftCtx.SetDst(labelImg)
	ftCtx.SetSrc(image.NewUniform(cd.TextColor))

	_, err := ftCtx.DrawString(cd.Label, freetype.Pt(0, height/2))
	if err != nil {
		return errorsx.Wrap(err)
	}

	gc := ctx.GC
	gc.Save()
	gc.Translate(float64(cd.TextSize)/2, float64(settings.OutputSize.Height-height))
	gc.DrawImage(labelImg)
	gc.Restore()

	return nil
}

// BorderDecoration strokes a frame around the edge of the output.
type BorderDecoration struct {
	LineWidth float64
	LineColor color.Color
}

func (bd *BorderDecoration) Render(settings *MapSettings, ctx *RenderContext) errorsx.Error {
	gc := ctx.GC
	gc.Save()
	gc.SetStrokeColor(bd.LineColor)
	gc.SetLineWidth(bd.LineWidth)
	gc.BeginPath()
	draw2dkit.Rectangle(gc, 0, 0, float64(settings.OutputSize.Width), float64(settings.OutputSize.Height))
	gc.Stroke()
	gc.Restore()

	return nil
}

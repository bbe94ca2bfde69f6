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

// Annotation is a floating item composited on top of the rendered map layers.
// The render task owns its annotations: it stores clones, not the caller's
// objects, so implementations must provide a deep Clone.
type Annotation interface {
	IsVisible() bool
	// MapLayerID returns the ID of the layer this annotation belongs to, or
	// "" when it is not associated with any layer. An associated annotation
	// is only drawn when its layer is part of the map settings.
	MapLayerID() string
	// HasFixedMapPosition reports whether the annotation is anchored at a
	// map-space coordinate (true) or at a fraction of the output size (false).
	HasFixedMapPosition() bool
	MapPosition() Point
	RelativePosition() Point
	// Render draws the annotation with the painter origin already translated
	// to the anchor position.
	Render(ctx *RenderContext) errorsx.Error
	Clone() Annotation
}

// AnnotationBase carries the placement and visibility state shared by all
// annotation implementations.
type AnnotationBase struct {
	Visible bool
	LayerID string
	// FixedMapPosition anchors the annotation in map space when non-nil,
	// otherwise RelPosition (fractions of the output size) is used.
	FixedMapPosition *Point
	RelPosition      Point
}

func (ab *AnnotationBase) IsVisible() bool {
	return ab.Visible
}

func (ab *AnnotationBase) MapLayerID() string {
	return ab.LayerID
}

func (ab *AnnotationBase) HasFixedMapPosition() bool {
	return ab.FixedMapPosition != nil
}

func (ab *AnnotationBase) MapPosition() Point {
	if ab.FixedMapPosition == nil {
		return Point{}
	}
	return *ab.FixedMapPosition
}

func (ab *AnnotationBase) RelativePosition() Point {
	return ab.RelPosition
}

func (ab *AnnotationBase) cloneBase() AnnotationBase {
	copied := *ab
	if ab.FixedMapPosition != nil {
		position := *ab.FixedMapPosition
		copied.FixedMapPosition = &position
	}
	return copied
}

// TextAnnotation draws a text label at its anchor. The text is rasterised
// with freetype and painted with DrawImage, so it renders the same way onto
// raster and page surfaces.
type TextAnnotation struct {
	AnnotationBase
	Text      string
	TextSize  int
	TextColor color.Color
	Font      *truetype.Font
}

func (ta *TextAnnotation) Render(ctx *RenderContext) errorsx.Error {
	width := utf8.RuneCountInString(ta.Text) * ta.TextSize
	height := ta.TextSize * 2
	if width == 0 {
		return nil
	}

	textImg := image.NewRGBA(image.Rect(0, 0, width, height))

	ftCtx := freetype.NewContext()
	ftCtx.SetDPI(72)
	ftCtx.SetFont(ta.Font)
	ftCtx.SetFontSize(float64(ta.TextSize))
	ftCtx.SetClip(textImg.Bounds())
	ftCtx.SetDst(textImg)
	ftCtx.SetSrc(image.NewUniform(ta.TextColor))

	_, err := ftCtx.DrawString(ta.Text, freetype.Pt(0, height/2))
	if err != nil {
		return errorsx.Wrap(err)
	}

	ctx.GC.DrawImage(textImg)

	return nil
}

func (ta *TextAnnotation) Clone() Annotation {
	copied := *ta
	copied.AnnotationBase = ta.AnnotationBase.cloneBase()
	return &copied
}

// MarkerAnnotation draws a filled circle centred on its anchor.
type MarkerAnnotation struct {
	AnnotationBase
	Radius float64
	Color  color.Color
}

func (ma *MarkerAnnotation) Render(ctx *RenderContext) errorsx.Error {
	gc := ctx.GC
	gc.SetFillColor(ma.Color)
	gc.BeginPath()
	draw2dkit.Circle(gc, 0, 0, ma.Radius)
	gc.Fill()

	return nil
}

func (ma *MarkerAnnotation) Clone() Annotation {
	copied := *ma
	copied.AnnotationBase = ma.AnnotationBase.cloneBase()
	return &copied
}

package label

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Renderer rasterizes a Schema into an RGB image of a target size, using
// fonts for text content and the boombuler/barcode symbologies for
// matrix/pdf417/code39 content.
type Renderer struct {
	Fonts FontSet
}

// NewRenderer builds a Renderer backed by the given FontSet. A nil
// FontSet falls back to BasicFontSet.
func NewRenderer(fonts FontSet) Renderer {
	if fonts == nil {
		fonts = BasicFontSet{}
	}
	return Renderer{Fonts: fonts}
}

// Render lays out schema, rasterizes it, and fits the result to exactly
// targetWidth x targetHeight following the two-stage scale-then-center
// "FILL" rule: the schema raster is first scaled so its height matches
// the target, then (if still too wide) rescaled so its width matches the
// target, and centered on a white background of the target size.
func (r Renderer) Render(schema Schema, targetWidth, targetHeight int) (*image.RGBA, error) {
	sized, err := schema.sizeFields(r.Fonts)
	if err != nil {
		return nil, err
	}
	colWidths, rowHeights := grid(sized, schema.Cols, schema.Rows)
	w, h := totalSize(colWidths, rowHeights, schema.Padding)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("label: empty schema raster (%dx%d)", w, h)
	}
	placements := place(sized, colWidths, rowHeights, schema.Padding)

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	fillWhite(canvas)

	for _, p := range placements {
		if err := r.drawField(canvas, p); err != nil {
			return nil, err
		}
	}

	return fitToTarget(canvas, targetWidth, targetHeight), nil
}

func fillWhite(img *image.RGBA) {
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
}

func (r Renderer) drawField(dst *image.RGBA, p placement) error {
	if p.Type == FieldText {
		face, err := r.Fonts.Face(p.FontID, p.FontSize)
		if err != nil {
			return fmt.Errorf("label: resolve font %q: %w", p.FontID, err)
		}
		m := face.Metrics()
		drawer := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.Black),
			Face: face,
			Dot:  fixed.Point26_6{X: fixed.I(p.x), Y: fixed.I(p.y) + m.Ascent},
		}
		drawer.DrawString(p.Text)
		return nil
	}
	rect := image.Rect(p.x, p.y, p.x+p.w, p.y+p.h)
	draw.Draw(dst, rect, p.raster, p.raster.Bounds().Min, draw.Over)
	return nil
}

// fitToTarget scales src uniformly to height==targetHeight, then (if still
// wider than targetWidth) rescales to width==targetWidth, and centers the
// result on a white targetWidth x targetHeight canvas.
func fitToTarget(src *image.RGBA, targetWidth, targetHeight int) *image.RGBA {
	sb := src.Bounds()
	srcW, srcH := sb.Dx(), sb.Dy()

	scaledW := int(float64(srcW) * float64(targetHeight) / float64(srcH))
	scaledH := targetHeight
	if scaledW > targetWidth {
		scaledH = int(float64(srcH) * float64(targetWidth) / float64(srcW))
		scaledW = targetWidth
	}
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	xdraw.BiLinear.Scale(scaled, scaled.Bounds(), src, sb, xdraw.Over, nil)

	out := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	fillWhite(out)
	offX := (targetWidth - scaledW) / 2
	offY := (targetHeight - scaledH) / 2
	dstRect := image.Rect(offX, offY, offX+scaledW, offY+scaledH)
	draw.Draw(out, dstRect, scaled, image.Point{}, draw.Over)
	return out
}

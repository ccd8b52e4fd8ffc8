// Package label renders a pseudonym slide label from a structured content
// schema: a grid of rows and columns of text and barcode fields, sized and
// placed following the original label renderer's column/row deficit
// distribution, then fit to the label image's original target dimensions.
package label

import "golang.org/x/image/font"

// FieldType is the kind of content a Field carries.
type FieldType int

const (
	FieldText FieldType = iota
	FieldMatrix
	FieldPDF417
	FieldCode39
)

// Align is the horizontal alignment of a Field's content within the
// column(s)/span it occupies.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Padding is a 4-tuple of pixel insets around a Field's content.
type Padding struct {
	Top, Right, Bottom, Left int
}

// Field is one grid cell of a Schema.
type Field struct {
	Col, Row         int
	ColSpan, RowSpan int
	Type             FieldType
	Text             string // barcode payload or display text, depending on Type
	Align            Align
	Padding          Padding
	FontID           string
	FontSize         float64
	CodeSize         int // barcode raster edge length in pixels
}

func (f Field) colSpan() int {
	if f.ColSpan < 1 {
		return 1
	}
	return f.ColSpan
}

func (f Field) rowSpan() int {
	if f.RowSpan < 1 {
		return 1
	}
	return f.RowSpan
}

// Schema is a grid of Fields plus an outer padding applied to the whole
// rendered raster.
type Schema struct {
	Rows, Cols int
	Fields     []Field
	Padding    Padding
}

// FontSet resolves a font identifier and point size to a rasterizing
// font.Face. Concrete font assets are an external collaborator; callers
// inject whichever FontSet fits their deployment (see BasicFontSet for a
// bundled default).
type FontSet interface {
	Face(id string, size float64) (font.Face, error)
}

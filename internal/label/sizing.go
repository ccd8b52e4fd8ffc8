package label

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
)

// minColumnWidth is the floor every column width is raised to before any
// multi-column Field's deficit is distributed.
const minColumnWidth = 140

// sizedField pairs a Field with its intrinsic (unpadded) content size and,
// for barcode fields, the eagerly rendered raster -- matching the
// original renderer's eager barcode computation at Field construction.
type sizedField struct {
	Field
	w, h   int
	raster image.Image // nil for text fields
}

func (s Schema) sizeFields(fonts FontSet) ([]sizedField, error) {
	out := make([]sizedField, len(s.Fields))
	for i, f := range s.Fields {
		sf := sizedField{Field: f}
		if f.Type == FieldText {
			face, err := fonts.Face(f.FontID, f.FontSize)
			if err != nil {
				return nil, fmt.Errorf("label: resolve font %q: %w", f.FontID, err)
			}
			sf.w = font.MeasureString(face, f.Text).Ceil()
			m := face.Metrics()
			sf.h = (m.Ascent + m.Descent).Ceil()
		} else {
			img, err := renderBarcode(f.Type, f.Text, f.CodeSize)
			if err != nil {
				return nil, err
			}
			sf.raster = img
			b := img.Bounds()
			sf.w, sf.h = b.Dx(), b.Dy()
		}
		out[i] = sf
	}
	return out, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// grid computes final column widths and row heights: single-span fields
// set each column/row's own intrinsic maximum (columns floored at
// minColumnWidth); multi-span fields then distribute any remaining
// deficit equally (by ceiling division) across every column/row they
// cover.
func grid(sized []sizedField, cols, rows int) (colWidths, rowHeights []int) {
	colWidths = make([]int, cols)
	for i := range colWidths {
		colWidths[i] = minColumnWidth
	}
	rowHeights = make([]int, rows)

	for _, f := range sized {
		if f.colSpan() == 1 && f.Col < cols {
			need := f.w + f.Padding.Left + f.Padding.Right
			if need > colWidths[f.Col] {
				colWidths[f.Col] = need
			}
		}
		if f.rowSpan() == 1 && f.Row < rows {
			need := f.h + f.Padding.Top + f.Padding.Bottom
			if need > rowHeights[f.Row] {
				rowHeights[f.Row] = need
			}
		}
	}

	for _, f := range sized {
		if span := f.colSpan(); span > 1 {
			need := f.w + f.Padding.Left + f.Padding.Right
			covered := 0
			for c := f.Col; c < f.Col+span && c < cols; c++ {
				covered += colWidths[c]
			}
			if need > covered {
				add := ceilDiv(need-covered, span)
				for c := f.Col; c < f.Col+span && c < cols; c++ {
					colWidths[c] += add
				}
			}
		}
		if span := f.rowSpan(); span > 1 {
			need := f.h + f.Padding.Top + f.Padding.Bottom
			covered := 0
			for r := f.Row; r < f.Row+span && r < rows; r++ {
				covered += rowHeights[r]
			}
			if need > covered {
				add := ceilDiv(need-covered, span)
				for r := f.Row; r < f.Row+span && r < rows; r++ {
					rowHeights[r] += add
				}
			}
		}
	}
	return colWidths, rowHeights
}

func sum(xs []int) int {
	t := 0
	for _, x := range xs {
		t += x
	}
	return t
}

// placement is the computed top-left origin and content-box size for one
// Field, in raster pixel coordinates.
type placement struct {
	sizedField
	x, y int // top-left of the content (after alignment/padding)
}

// place computes origins for every field given the final grid, applying
// alignment within the field's spanned column width (a field spanning more
// than one column is centered whatever its Align) and top-padding within
// its spanned row height.
func place(sized []sizedField, colWidths, rowHeights []int, padding Padding) []placement {
	colOffset := make([]int, len(colWidths)+1)
	for i, w := range colWidths {
		colOffset[i+1] = colOffset[i] + w
	}
	rowOffset := make([]int, len(rowHeights)+1)
	for i, h := range rowHeights {
		rowOffset[i+1] = rowOffset[i] + h
	}

	out := make([]placement, len(sized))
	for i, f := range sized {
		span := f.colSpan()
		endCol := f.Col + span
		if endCol > len(colWidths) {
			endCol = len(colWidths)
		}
		spanWidth := colOffset[endCol] - colOffset[f.Col]

		var xOff int
		switch {
		case f.Align == AlignCenter || span > 1:
			xOff = (spanWidth - f.w) / 2
		case f.Align == AlignRight:
			xOff = spanWidth - f.w - f.Padding.Right
		default:
			xOff = f.Padding.Left
		}
		if xOff < 0 {
			xOff = 0
		}

		out[i] = placement{
			sizedField: f,
			x:          padding.Left + colOffset[f.Col] + xOff,
			y:          padding.Top + rowOffset[f.Row] + f.Padding.Top,
		}
	}
	return out
}

// totalSize returns the full raster dimensions: the grid's summed column
// widths and row heights plus the schema's outer padding.
func totalSize(colWidths, rowHeights []int, padding Padding) (width, height int) {
	width = sum(colWidths) + padding.Left + padding.Right
	height = sum(rowHeights) + padding.Top + padding.Bottom
	return width, height
}

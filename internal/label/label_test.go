package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridAppliesMinColumnWidthAndDeficit(t *testing.T) {
	sized := []sizedField{
		{Field: Field{Col: 0, Row: 0, ColSpan: 1, RowSpan: 1}, w: 50, h: 10},
		{Field: Field{Col: 1, Row: 0, ColSpan: 1, RowSpan: 1}, w: 200, h: 10},
		{Field: Field{Col: 0, Row: 0, ColSpan: 2, RowSpan: 1}, w: 400, h: 10},
	}
	colWidths, rowHeights := grid(sized, 2, 1)

	// col0: floor 140 (intrinsic 50 doesn't exceed it); col1: intrinsic
	// 200 exceeds the floor. Deficit from the colspan-2 field (need 400,
	// covered 340) is 60, split evenly as +30 per column.
	assert.Equal(t, 170, colWidths[0])
	assert.Equal(t, 230, colWidths[1])
	assert.Equal(t, 10, rowHeights[0])
}

func TestPlaceCentersWithinSpan(t *testing.T) {
	sized := []sizedField{
		{Field: Field{Col: 0, Row: 0, ColSpan: 1, RowSpan: 1, Align: AlignCenter}, w: 40, h: 10},
	}
	colWidths := []int{140}
	rowHeights := []int{20}
	placements := place(sized, colWidths, rowHeights, Padding{})
	require.Len(t, placements, 1)
	assert.Equal(t, (140-40)/2, placements[0].x)
	assert.Equal(t, 0, placements[0].y)
}

func TestPlaceRightAlignsToPadding(t *testing.T) {
	sized := []sizedField{
		{Field: Field{Col: 0, Row: 0, ColSpan: 1, RowSpan: 1, Align: AlignRight, Padding: Padding{Right: 5}}, w: 40, h: 10},
	}
	colWidths := []int{140}
	rowHeights := []int{20}
	placements := place(sized, colWidths, rowHeights, Padding{})
	require.Len(t, placements, 1)
	assert.Equal(t, 140-40-5, placements[0].x)
}

func TestRenderFitsExactlyToTarget(t *testing.T) {
	schema := Schema{
		Rows: 2,
		Cols: 1,
		Fields: []Field{
			{Col: 0, Row: 0, Text: "PSEUDO-123", Type: FieldText, FontSize: 13},
			{Col: 0, Row: 1, Text: "H&E", Type: FieldText, FontSize: 13},
		},
		Padding: Padding{Top: 4, Right: 4, Bottom: 4, Left: 4},
	}

	r := NewRenderer(nil)
	img, err := r.Render(schema, 300, 150)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())
}

func TestRenderIncludesBarcodeField(t *testing.T) {
	schema := Schema{
		Rows: 1,
		Cols: 1,
		Fields: []Field{
			{Col: 0, Row: 0, Text: "2024-AB12XYZ-HE-liver", Type: FieldPDF417, CodeSize: 40},
		},
	}
	r := NewRenderer(nil)
	img, err := r.Render(schema, 400, 200)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

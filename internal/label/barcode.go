package label

import (
	"fmt"
	"image"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code39"
	"github.com/boombuler/barcode/datamatrix"
	"github.com/boombuler/barcode/pdf417"
)

// pdf417DataColumns is the fixed PDF417 data-column count the barcode
// payload convention uses for every slide label.
const pdf417DataColumns = 5

// renderBarcode generates a barcode raster for value using the symbology
// implied by ft, scaled to a codeSize x codeSize square (matrix/code39)
// or codeSize-tall strip (pdf417, which is inherently wider than tall).
func renderBarcode(ft FieldType, value string, codeSize int) (image.Image, error) {
	var bc barcode.Barcode
	var err error

	switch ft {
	case FieldMatrix:
		bc, err = datamatrix.Encode(value)
	case FieldPDF417:
		bc, err = pdf417.EncodeWithColumns(value, pdf417DataColumns)
	case FieldCode39:
		bc, err = code39.Encode(value, false, true)
	default:
		return nil, fmt.Errorf("label: %v is not a barcode field type", ft)
	}
	if err != nil {
		return nil, fmt.Errorf("label: encode barcode: %w", err)
	}

	width, height := codeSize, codeSize
	if ft == FieldPDF417 {
		// PDF417 is naturally much wider than tall; keep the configured
		// size as the height and let the aspect ratio set the width.
		b := bc.Bounds()
		aspect := float64(b.Dx()) / float64(b.Dy())
		width = int(float64(codeSize) * aspect)
		height = codeSize
	}
	scaled, err := barcode.Scale(bc, width, height)
	if err != nil {
		return nil, fmt.Errorf("label: scale barcode: %w", err)
	}
	return scaled, nil
}

package pseudonymize

import (
	"fmt"
	"strconv"

	"github.com/slidevault/wsipseudo/internal/label"
	"github.com/slidevault/wsipseudo/internal/manifest"
	"github.com/slidevault/wsipseudo/internal/registry"
)

// slideContext carries the Case or Study/Patient a slide is being
// processed under, if any, so buildLabelSchema can render the right
// context rows ahead of the slide's own. A standalone slide manifest
// entry carries neither.
type slideContext struct {
	Case    *registry.Case
	Study   *registry.Study
	Patient *registry.Patient
}

// buildLabelSchema assembles the §4.3 "Content for slide labels" row
// order for rec: context rows, then the slide's own pseudo_id (large
// font), pseudo_name, stain, tissue, a PDF417 barcode, and a formatted
// pseudo_acquired_at row, omitting any row whose real value is null.
func buildLabelSchema(rec registry.Slide, sctx slideContext) label.Schema {
	var rows []label.Field
	row := 0

	addText := func(text string, fontID string, fontSize float64) {
		rows = append(rows, label.Field{
			Col: 0, Row: row, Type: label.FieldText,
			Text: text, FontID: fontID, FontSize: fontSize,
		})
		row++
	}

	switch {
	case sctx.Case != nil:
		addText(sctx.Case.PseudoIDValue, "regular", 10)
		if sctx.Case.Name != nil {
			addText(sctx.Case.PseudoName, "regular", 10)
		}
	case sctx.Study != nil:
		addText(sctx.Study.PseudoIDValue, "regular", 10)
		if sctx.Study.Name != nil {
			addText(sctx.Study.PseudoName, "regular", 10)
		}
		if sctx.Patient != nil {
			addText(sctx.Patient.PseudoIDValue, "regular", 10)
		}
	}

	addText(rec.PseudoIDValue, "large", 18)
	if rec.Name != nil && rec.PseudoName != nil {
		addText(*rec.PseudoName, "regular", 18)
	}
	if rec.Stain != nil {
		addText(*rec.Stain, "regular", 18)
	}
	if rec.Tissue != nil {
		addText(*rec.Tissue, "regular", 18)
	}

	rows = append(rows, label.Field{
		Col: 0, Row: row, Type: label.FieldPDF417,
		Text: barcodePayload(rec), Align: label.AlignCenter, CodeSize: 250,
	})
	row++

	if rec.AcquiredAt != nil && rec.PseudoAcquiredAt != nil {
		addText(manifest.FormatDateTime(*rec.PseudoAcquiredAt), "regular", 15)
	}

	return label.Schema{
		Rows: row, Cols: 1,
		Fields:  rows,
		Padding: label.Padding{Top: 0, Right: 15, Bottom: 10, Left: 15},
	}
}

// barcodePayload builds the "[year-]pseudo_id[-stain][-tissue]" barcode
// value per §4.3's barcode payload convention, omitting each optional
// segment when its source field is absent.
func barcodePayload(rec registry.Slide) string {
	val := rec.PseudoIDValue
	if rec.AcquiredAt != nil && rec.PseudoAcquiredAt != nil {
		val = fmt.Sprintf("%s-%s", strconv.Itoa(rec.PseudoAcquiredAt.Year()), val)
	}
	if rec.Stain != nil {
		val = fmt.Sprintf("%s-%s", val, *rec.Stain)
	}
	if rec.Tissue != nil {
		val = fmt.Sprintf("%s-%s", val, *rec.Tissue)
	}
	return val
}

package pseudonymize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/slidevault/wsipseudo/internal/manifest"
	"github.com/slidevault/wsipseudo/internal/registry"
	"github.com/slidevault/wsipseudo/internal/tiffrw"
	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// DePseudonymize runs §4.6's symmetric inverse: resolve each slide by its
// pseudonymous ID, restore its escrowed label and descriptions onto a fresh
// copy of the pseudonym file, and emit a manifest with real identifiers.
func (c *Controller) DePseudonymize(ctx context.Context, in manifest.Input) (manifest.Output, error) {
	switch in.Kind {
	case manifest.KindSlide:
		tx, err := c.Store.Begin(ctx)
		if err != nil {
			return manifest.Output{}, err
		}
		out, err := c.depseudonymizeSlide(tx, *in.Slide)
		if err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}
		if err := tx.Commit(); err != nil {
			return manifest.Output{}, err
		}
		return manifest.Output{Kind: manifest.KindSlide, Slide: &out}, nil

	case manifest.KindCase:
		return c.depseudonymizeCase(ctx, *in.Case)

	case manifest.KindStudy:
		return c.depseudonymizeStudy(ctx, *in.Study)

	default:
		return manifest.Output{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.DePseudonymize", fmt.Errorf("unrecognized manifest kind"))
	}
}

func (c *Controller) depseudonymizeCase(ctx context.Context, in manifest.CaseInput) (manifest.Output, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return manifest.Output{}, err
	}

	caseRec0, err := tx.GetByPseudoID(registry.KindCase, in.ID)
	if err != nil {
		tx.Rollback()
		return manifest.Output{}, err
	}
	caseRec := caseRec0.(registry.Case)

	slideOutputs, err := c.depseudonymizeSlides(ctx, tx, in.Slides)
	if err != nil {
		tx.Rollback()
		return manifest.Output{}, err
	}

	if err := tx.Commit(); err != nil {
		return manifest.Output{}, err
	}
	out := manifest.NewCaseRealOutput(caseRec, slideOutputs)
	return manifest.Output{Kind: manifest.KindCase, Case: &out}, nil
}

func (c *Controller) depseudonymizeStudy(ctx context.Context, in manifest.StudyInput) (manifest.Output, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return manifest.Output{}, err
	}

	studyRec0, err := tx.GetByPseudoID(registry.KindStudy, in.ID)
	if err != nil {
		tx.Rollback()
		return manifest.Output{}, err
	}
	studyRec := studyRec0.(registry.Study)

	patientOutputs := make([]manifest.PatientOutput, 0, len(in.Patients))
	for _, p := range in.Patients {
		select {
		case <-ctx.Done():
			tx.Rollback()
			return manifest.Output{}, ctx.Err()
		default:
		}

		patientRec0, err := tx.GetByPseudoID(registry.KindPatient, p.ID)
		if err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}
		patientRec := patientRec0.(registry.Patient)

		slideOutputs, err := c.depseudonymizeSlides(ctx, tx, p.Slides)
		if err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}
		patientOutputs = append(patientOutputs, manifest.NewPatientRealOutput(patientRec, slideOutputs))
	}

	if err := tx.Commit(); err != nil {
		return manifest.Output{}, err
	}
	out := manifest.NewStudyRealOutput(studyRec, patientOutputs)
	return manifest.Output{Kind: manifest.KindStudy, Study: &out}, nil
}

func (c *Controller) depseudonymizeSlides(ctx context.Context, tx registry.Store, slides []manifest.SlideInput) ([]manifest.SlideOutput, error) {
	outs := make([]manifest.SlideOutput, 0, len(slides))
	for _, s := range slides {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out, err := c.depseudonymizeSlide(tx, s)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// depseudonymizeSlide restores one slide's escrowed label strips and
// descriptions onto a fresh copy of the pseudonym file, per §4.6's
// De-pseudonymize algorithm.
func (c *Controller) depseudonymizeSlide(tx registry.Store, in manifest.SlideInput) (manifest.SlideOutput, error) {
	const op = "pseudonymize.depseudonymizeSlide"

	rec0, err := tx.GetByPseudoID(registry.KindSlide, in.ID)
	if err != nil {
		return manifest.SlideOutput{}, err
	}
	rec := rec0.(registry.Slide)

	if rec.LabelBlobName == nil || rec.LabelBlobKey == nil || rec.MetadataBlobName == nil || rec.MetadataBlobKey == nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("slide %s has no escrowed label data", rec.PseudoIDValue))
	}

	labelBlobJSON, err := c.Escrow.Get(*rec.LabelBlobName, *rec.LabelBlobKey)
	if err != nil {
		return manifest.SlideOutput{}, err
	}
	var stripData tiffrw.LabelStripData
	if err := json.Unmarshal(labelBlobJSON, &stripData); err != nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.Inconsistent, op, err)
	}

	metaBlobJSON, err := c.Escrow.Get(*rec.MetadataBlobName, *rec.MetadataBlobKey)
	if err != nil {
		return manifest.SlideOutput{}, err
	}
	var descriptions []tiffrw.DescriptionRecord
	if err := json.Unmarshal(metaBlobJSON, &descriptions); err != nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.Inconsistent, op, err)
	}

	destPath, err := cloneDestination(c.Config.CloneSuffixFormat, in.Path, rec.ID)
	if err != nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := copyFile(in.Path, destPath); err != nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	rollback := func() { os.Remove(destPath) }

	df, err := tiffrw.Open(destPath)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}
	defer df.Close()

	labelIFD, err := df.FindLabelIFD()
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}

	idx := 0
	for _, ifd := range df.IFDs() {
		desc, err := df.ImageDescription(ifd)
		if err != nil || !looksLikeKeyValueDescription(desc) {
			continue
		}
		if idx >= len(descriptions) {
			rollback()
			return manifest.SlideOutput{}, wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("fewer escrowed descriptions than key=value IFDs"))
		}
		if err := df.RestoreDescription(ifd, descriptions[idx]); err != nil {
			rollback()
			return manifest.SlideOutput{}, err
		}
		idx++
	}
	if err := df.RestoreStrips(labelIFD, stripData); err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}

	return manifest.NewSlideRealOutput(rec, destPath), nil
}

package pseudonymize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sourcegraph/conc/pool"

	"github.com/slidevault/wsipseudo/internal/manifest"
	"github.com/slidevault/wsipseudo/internal/registry"
	"github.com/slidevault/wsipseudo/internal/tiffrw"
	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// Pseudonymize dispatches on the manifest's shape and runs §4.6's
// Pseudonymize algorithm, returning a manifest mirroring the input with
// identifiers, optional fields, and paths replaced by their pseudonymous
// counterparts.
func (c *Controller) Pseudonymize(ctx context.Context, in manifest.Input) (manifest.Output, error) {
	gapYear, err := drawGapYear(c.Config)
	if err != nil {
		return manifest.Output{}, fmt.Errorf("pseudonymize: draw gap year: %w", err)
	}

	switch in.Kind {
	case manifest.KindSlide:
		if err := c.Validator.ValidateSlide(*in.Slide); err != nil {
			return manifest.Output{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.Pseudonymize", err)
		}
		tx, err := c.Store.Begin(ctx)
		if err != nil {
			return manifest.Output{}, err
		}
		out, err := c.processSlide(ctx, tx, gapYear, *in.Slide, slideContext{})
		if err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}
		if err := tx.Commit(); err != nil {
			return manifest.Output{}, err
		}
		return manifest.Output{Kind: manifest.KindSlide, Slide: &out}, nil

	case manifest.KindCase:
		if err := c.Validator.ValidateCase(*in.Case); err != nil {
			return manifest.Output{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.Pseudonymize", err)
		}
		return c.pseudonymizeCase(ctx, gapYear, *in.Case)

	case manifest.KindStudy:
		if err := c.Validator.ValidateStudy(*in.Study); err != nil {
			return manifest.Output{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.Pseudonymize", err)
		}
		return c.pseudonymizeStudy(ctx, gapYear, *in.Study)

	default:
		return manifest.Output{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.Pseudonymize", fmt.Errorf("unrecognized manifest kind"))
	}
}

func (c *Controller) pseudonymizeCase(ctx context.Context, gapYear int, in manifest.CaseInput) (manifest.Output, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return manifest.Output{}, err
	}

	caseRec, err := c.resolveCaseRecord(tx, gapYear, in)
	if err != nil {
		tx.Rollback()
		return manifest.Output{}, err
	}

	slideOutputs, err := c.processSlidesSequentialOrParallel(ctx, tx, gapYear, in.Slides, slideContext{Case: &caseRec}, func(slideID string) error {
		return tx.AssociateCaseSlide(caseRec.ID, slideID)
	})
	if err != nil {
		tx.Rollback()
		return manifest.Output{}, err
	}

	if err := tx.Commit(); err != nil {
		return manifest.Output{}, err
	}
	out := manifest.NewCaseOutput(caseRec, slideOutputs)
	return manifest.Output{Kind: manifest.KindCase, Case: &out}, nil
}

func (c *Controller) pseudonymizeStudy(ctx context.Context, gapYear int, in manifest.StudyInput) (manifest.Output, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return manifest.Output{}, err
	}

	studyRec, err := c.resolveStudyRecord(tx, gapYear, in)
	if err != nil {
		tx.Rollback()
		return manifest.Output{}, err
	}

	patientOutputs := make([]manifest.PatientOutput, 0, len(in.Patients))
	for _, p := range in.Patients {
		select {
		case <-ctx.Done():
			tx.Rollback()
			return manifest.Output{}, ctx.Err()
		default:
		}

		patientRec, err := c.resolvePatientRecord(tx, gapYear, p)
		if err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}
		if err := tx.AssociateStudyPatient(studyRec.ID, patientRec.ID); err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}

		slideOutputs, err := c.processSlidesSequentialOrParallel(ctx, tx, gapYear, p.Slides, slideContext{Study: &studyRec, Patient: &patientRec}, func(slideID string) error {
			return tx.AssociatePatientSlide(patientRec.ID, slideID)
		})
		if err != nil {
			tx.Rollback()
			return manifest.Output{}, err
		}
		patientOutputs = append(patientOutputs, manifest.NewPatientOutput(patientRec, slideOutputs))
	}

	if err := tx.Commit(); err != nil {
		return manifest.Output{}, err
	}
	out := manifest.NewStudyOutput(studyRec, patientOutputs)
	return manifest.Output{Kind: manifest.KindStudy, Study: &out}, nil
}

// processSlidesSequentialOrParallel processes every slide in slides
// against the shared tx, associating each successfully processed slide
// via associate. Processing is sequential unless Config.Parallelism > 1,
// in which case a bounded conc/pool worker set runs independent slides
// concurrently; database/sql transactions are safe for concurrent use, so
// rendering/strip-encoding work overlaps while the per-slide registry
// writes still go through the one shared tx.
func (c *Controller) processSlidesSequentialOrParallel(ctx context.Context, tx registry.Store, gapYear int, slides []manifest.SlideInput, sctx slideContext, associate func(slideID string) error) ([]manifest.SlideOutput, error) {
	if c.Config.Parallelism > 1 && len(slides) > 1 {
		return c.processSlidesParallel(ctx, tx, gapYear, slides, sctx, associate)
	}
	outs := make([]manifest.SlideOutput, 0, len(slides))
	for _, s := range slides {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out, err := c.processSlide(ctx, tx, gapYear, s, sctx)
		if err == errSkipped {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := associate(s.ID); err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// processSlidesParallel runs processSlide for every slide over a
// pool.New().WithMaxGoroutines(n) worker set, mirroring
// cmd/pcogger/parallel-cogger.go's WithErrors/WithFirstError pattern.
// Registry association happens afterwards, sequentially, to keep each
// case/study's association writes in submission order.
func (c *Controller) processSlidesParallel(ctx context.Context, tx registry.Store, gapYear int, slides []manifest.SlideInput, sctx slideContext, associate func(slideID string) error) ([]manifest.SlideOutput, error) {
	type slot struct {
		out     manifest.SlideOutput
		skipped bool
	}
	slots := make([]slot, len(slides))

	p := pool.New().WithMaxGoroutines(c.Config.Parallelism).WithErrors().WithFirstError()
	for i, s := range slides {
		i, s := i, s
		p.Go(func() error {
			out, err := c.processSlide(ctx, tx, gapYear, s, sctx)
			if err == errSkipped {
				slots[i].skipped = true
				return nil
			}
			if err != nil {
				return err
			}
			slots[i].out = out
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	outs := make([]manifest.SlideOutput, 0, len(slides))
	for i, s := range slides {
		if slots[i].skipped {
			continue
		}
		if err := associate(s.ID); err != nil {
			return nil, err
		}
		outs = append(outs, slots[i].out)
	}
	return outs, nil
}

// processSlide runs §4.6 steps 2-10 for a single slide: locate the label
// IFD, resolve its registry record, clone the source file, render and
// strip-encode the pseudonym label, rewrite descriptions, escrow the
// captured originals, and record the escrow references.
func (c *Controller) processSlide(ctx context.Context, tx registry.Store, gapYear int, in manifest.SlideInput, sctx slideContext) (manifest.SlideOutput, error) {
	const op = "pseudonymize.processSlide"

	v := detectVendor(in.Path)
	switch v {
	case vendorHamamatsu, vendorMirax:
		c.logSkip(in.Path, v)
		return manifest.SlideOutput{}, errSkipped
	case vendorAperio:
	default:
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.VendorUnsupported, op, fmt.Errorf("unrecognized vendor for %s", in.Path))
	}

	tf, err := tiffrw.Open(in.Path)
	if err != nil {
		return manifest.SlideOutput{}, err
	}
	if _, err := tf.FindLabelIFD(); err != nil {
		tf.Close()
		return manifest.SlideOutput{}, err
	}
	tf.Close()

	rec, err := c.resolveSlideRecord(tx, gapYear, in)
	if err != nil {
		return manifest.SlideOutput{}, err
	}

	var cleanups []func()
	rollback := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	clonePath, err := cloneDestination(c.Config.CloneSuffixFormat, in.Path, rec.PseudoIDValue)
	if err != nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := copyFile(in.Path, clonePath); err != nil {
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	cleanups = append(cleanups, func() { os.Remove(clonePath) })

	// Operating on the clone from here on: it is byte-identical to the
	// source at this point, so its label IFD is the one just located.
	ctf, err := tiffrw.Open(clonePath)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}
	defer ctf.Close()
	cloneLabelIFD, err := ctf.FindLabelIFD()
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}

	descRec, err := ctf.CaptureDescription(cloneLabelIFD)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}
	stripData, err := ctf.CaptureStrips(cloneLabelIFD)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}

	height, width, samples := descRec.Shape[0], descRec.Shape[1], descRec.Shape[2]
	if samples == 0 {
		samples = 1
	}
	schema := buildLabelSchema(rec, sctx)
	img, err := c.Renderer.Render(schema, width, height)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, fmt.Errorf("%s: render label: %w", op, err)
	}
	raster := packSamples(img, samples)

	rowsPerStrip, err := ctf.RowsPerStrip(cloneLabelIFD)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}
	codec, resolvedComp, err := resolveCodec(int(rowsPerStrip), stripData.Compression)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.CodecUnavailable, op, err)
	}
	strips, err := codec.Encode(raster, height, width, samples)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.CodecUnavailable, op, err)
	}
	if err := ctf.ReplaceStrips(cloneLabelIFD, strips, uint16(resolvedComp)); err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}

	var descriptions []tiffrw.DescriptionRecord
	for _, ifd := range ctf.IFDs() {
		desc, err := ctf.ImageDescription(ifd)
		if err != nil || !looksLikeKeyValueDescription(desc) {
			continue
		}
		capturedDesc, err := ctf.CaptureDescription(ifd)
		if err != nil {
			rollback()
			return manifest.SlideOutput{}, err
		}
		descriptions = append(descriptions, capturedDesc)
		if err := ctf.ReplaceDescription(ifd, pseudonymDescription(rec.PseudoIDValue)); err != nil {
			rollback()
			return manifest.SlideOutput{}, err
		}
	}

	labelBlobJSON, err := json.Marshal(stripData)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.Inconsistent, op, err)
	}
	labelBlobName, labelBlobKey, err := c.Escrow.Put(labelBlobJSON)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}
	cleanups = append(cleanups, func() { c.Escrow.Delete(labelBlobName) })

	metaBlobJSON, err := json.Marshal(descriptions)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, wsierr.Wrap(wsierr.Inconsistent, op, err)
	}
	metaBlobName, metaBlobKey, err := c.Escrow.Put(metaBlobJSON)
	if err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}
	cleanups = append(cleanups, func() { c.Escrow.Delete(metaBlobName) })

	updated := rec
	updated.LabelBlobName, updated.LabelBlobKey = &labelBlobName, &labelBlobKey
	updated.MetadataBlobName, updated.MetadataBlobKey = &metaBlobName, &metaBlobKey
	if err := tx.Update(updated, []string{"LabelBlob", "MetadataBlob"}); err != nil {
		rollback()
		return manifest.SlideOutput{}, err
	}

	return manifest.NewSlideOutput(updated, clonePath), nil
}

func (c *Controller) resolveSlideRecord(tx registry.Store, gapYear int, in manifest.SlideInput) (registry.Slide, error) {
	existing, err := tx.GetByID(registry.KindSlide, in.ID)
	if err != nil && !wsierr.Is(err, wsierr.RegistryAbsent) {
		return registry.Slide{}, err
	}
	if err != nil {
		pseudoID, err := tx.AllocatePseudoID(registry.KindSlide)
		if err != nil {
			return registry.Slide{}, err
		}
		pseudoName, err := syntheticFullName()
		if err != nil {
			return registry.Slide{}, err
		}
		rec := registry.Slide{
			ID: in.ID, Name: in.Name, Stain: in.Stain, Tissue: in.Tissue, Path: in.Path,
			PseudoIDValue: pseudoID, PseudoName: &pseudoName,
		}
		if in.AcquiredAt != nil {
			parsed, perr := manifest.ParseTimestamp(*in.AcquiredAt)
			if perr != nil {
				return registry.Slide{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.resolveSlideRecord", perr)
			}
			shifted := shiftBack(parsed, gapYear)
			rec.AcquiredAt, rec.PseudoAcquiredAt = &parsed, &shifted
		}
		if err := tx.Put(rec); err != nil {
			return registry.Slide{}, err
		}
		return rec, nil
	}

	existingSlide := existing.(registry.Slide)
	updated := existingSlide
	var fields []string
	if in.Name != nil {
		updated.Name = in.Name
		fields = append(fields, "Name")
	}
	if in.Stain != nil {
		updated.Stain = in.Stain
		fields = append(fields, "Stain")
	}
	if in.Tissue != nil {
		updated.Tissue = in.Tissue
		fields = append(fields, "Tissue")
	}
	if in.Path != "" {
		updated.Path = in.Path
		fields = append(fields, "Path")
	}
	if in.AcquiredAt != nil {
		parsed, perr := manifest.ParseTimestamp(*in.AcquiredAt)
		if perr != nil {
			return registry.Slide{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.resolveSlideRecord", perr)
		}
		shifted := shiftBack(parsed, gapYear)
		updated.AcquiredAt, updated.PseudoAcquiredAt = &parsed, &shifted
		fields = append(fields, "AcquiredAt")
	}
	candidateName, err := syntheticFullName()
	if err != nil {
		return registry.Slide{}, err
	}
	updated.PseudoName = &candidateName
	if len(fields) > 0 {
		if err := tx.Update(updated, fields); err != nil {
			return registry.Slide{}, err
		}
	}
	refreshed, err := tx.GetByID(registry.KindSlide, in.ID)
	if err != nil {
		return registry.Slide{}, err
	}
	return refreshed.(registry.Slide), nil
}

func (c *Controller) resolveCaseRecord(tx registry.Store, gapYear int, in manifest.CaseInput) (registry.Case, error) {
	existing, err := tx.GetByID(registry.KindCase, in.ID)
	if err != nil && !wsierr.Is(err, wsierr.RegistryAbsent) {
		return registry.Case{}, err
	}
	if err != nil {
		pseudoID, err := tx.AllocatePseudoID(registry.KindCase)
		if err != nil {
			return registry.Case{}, err
		}
		rec := registry.Case{ID: in.ID, Name: in.Name, PseudoIDValue: pseudoID, PseudoName: "case_" + pseudoID}
		if in.CreatedAt != nil {
			parsed, perr := manifest.ParseTimestamp(*in.CreatedAt)
			if perr != nil {
				return registry.Case{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.resolveCaseRecord", perr)
			}
			shifted := shiftBack(parsed, gapYear)
			rec.CreatedAt, rec.PseudoCreatedAt = &parsed, &shifted
		}
		if err := tx.Put(rec); err != nil {
			return registry.Case{}, err
		}
		return rec, nil
	}

	existingCase := existing.(registry.Case)
	updated := existingCase
	var fields []string
	if in.Name != nil {
		updated.Name = in.Name
		fields = append(fields, "Name")
	}
	if in.CreatedAt != nil {
		parsed, perr := manifest.ParseTimestamp(*in.CreatedAt)
		if perr != nil {
			return registry.Case{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.resolveCaseRecord", perr)
		}
		shifted := shiftBack(parsed, gapYear)
		updated.CreatedAt, updated.PseudoCreatedAt = &parsed, &shifted
		fields = append(fields, "CreatedAt")
	}
	if len(fields) > 0 {
		if err := tx.Update(updated, fields); err != nil {
			return registry.Case{}, err
		}
	}
	refreshed, err := tx.GetByID(registry.KindCase, in.ID)
	if err != nil {
		return registry.Case{}, err
	}
	return refreshed.(registry.Case), nil
}

func (c *Controller) resolveStudyRecord(tx registry.Store, gapYear int, in manifest.StudyInput) (registry.Study, error) {
	existing, err := tx.GetByID(registry.KindStudy, in.ID)
	if err != nil && !wsierr.Is(err, wsierr.RegistryAbsent) {
		return registry.Study{}, err
	}
	if err != nil {
		pseudoID, err := tx.AllocatePseudoID(registry.KindStudy)
		if err != nil {
			return registry.Study{}, err
		}
		rec := registry.Study{ID: in.ID, Name: in.Name, PseudoIDValue: pseudoID, PseudoName: "study_" + pseudoID}
		if in.Date != nil {
			parsed, perr := manifest.ParseTimestamp(*in.Date)
			if perr != nil {
				return registry.Study{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.resolveStudyRecord", perr)
			}
			shifted := shiftBack(parsed, gapYear)
			rec.Date, rec.PseudoDate = &parsed, &shifted
		}
		if err := tx.Put(rec); err != nil {
			return registry.Study{}, err
		}
		return rec, nil
	}

	existingStudy := existing.(registry.Study)
	updated := existingStudy
	var fields []string
	if in.Name != nil {
		updated.Name = in.Name
		fields = append(fields, "Name")
	}
	if in.Date != nil {
		parsed, perr := manifest.ParseTimestamp(*in.Date)
		if perr != nil {
			return registry.Study{}, wsierr.Wrap(wsierr.InputInvalid, "pseudonymize.resolveStudyRecord", perr)
		}
		shifted := shiftBack(parsed, gapYear)
		updated.Date, updated.PseudoDate = &parsed, &shifted
		fields = append(fields, "Date")
	}
	if len(fields) > 0 {
		if err := tx.Update(updated, fields); err != nil {
			return registry.Study{}, err
		}
	}
	refreshed, err := tx.GetByID(registry.KindStudy, in.ID)
	if err != nil {
		return registry.Study{}, err
	}
	return refreshed.(registry.Study), nil
}

func (c *Controller) resolvePatientRecord(tx registry.Store, gapYear int, in manifest.PatientInput) (registry.Patient, error) {
	existing, err := tx.GetByID(registry.KindPatient, in.ID)
	if err != nil && !wsierr.Is(err, wsierr.RegistryAbsent) {
		return registry.Patient{}, err
	}
	if err != nil {
		pseudoID, err := tx.AllocatePseudoID(registry.KindPatient)
		if err != nil {
			return registry.Patient{}, err
		}
		pseudoName, err := syntheticFullName()
		if err != nil {
			return registry.Patient{}, err
		}
		pseudoAge, err := syntheticAge()
		if err != nil {
			return registry.Patient{}, err
		}
		rec := registry.Patient{ID: in.ID, Name: in.Name, PseudoIDValue: pseudoID, PseudoName: &pseudoName}
		if in.Sex != nil {
			rec.Sex = registry.Sex(*in.Sex)
		} else {
			rec.Sex = registry.SexUnknown
		}
		if in.Age != nil {
			rec.Age = in.Age
			rec.PseudoAge = &pseudoAge
		}
		if err := tx.Put(rec); err != nil {
			return registry.Patient{}, err
		}
		return rec, nil
	}

	existingPatient := existing.(registry.Patient)
	updated := existingPatient
	var fields []string
	if in.Name != nil {
		updated.Name = in.Name
		fields = append(fields, "Name")
	}
	if in.Age != nil {
		updated.Age = in.Age
		fields = append(fields, "Age")
	}
	if in.Sex != nil {
		updated.Sex = registry.Sex(*in.Sex)
		fields = append(fields, "Sex")
	}
	pseudoName, err := syntheticFullName()
	if err != nil {
		return registry.Patient{}, err
	}
	pseudoAge, err := syntheticAge()
	if err != nil {
		return registry.Patient{}, err
	}
	updated.PseudoName = &pseudoName
	updated.PseudoAge = &pseudoAge
	if len(fields) > 0 {
		if err := tx.Update(updated, fields); err != nil {
			return registry.Patient{}, err
		}
	}
	refreshed, err := tx.GetByID(registry.KindPatient, in.ID)
	if err != nil {
		return registry.Patient{}, err
	}
	return refreshed.(registry.Patient), nil
}

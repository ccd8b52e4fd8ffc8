package sqlitestore

import (
	"fmt"
	"time"

	"github.com/slidevault/wsipseudo/internal/registry"
	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// diffString applies the fill-null-then-regenerate / update-real-keep
// rule to a single string-valued field: filling a previously-null real
// value regenerates its pseudonym counterpart, but changing an
// already-non-null value does not.
func diffString(stored, incoming *string) (newVal *string, regen bool) {
	if incoming == nil {
		return stored, false
	}
	if stored == nil {
		return incoming, true
	}
	return incoming, false
}

func diffTime(stored, incoming *time.Time) (newVal *time.Time, regen bool) {
	if incoming == nil {
		return stored, false
	}
	if stored == nil {
		return incoming, true
	}
	return incoming, false
}

func diffInt(stored, incoming *int) (newVal *int, regen bool) {
	if incoming == nil {
		return stored, false
	}
	if stored == nil {
		return incoming, true
	}
	return incoming, false
}

func has(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func (s *txStore) Update(record registry.Record, fields []string) error {
	const op = "sqlitestore.Update"
	switch r := record.(type) {
	case registry.Study:
		return s.updateStudy(r, fields)
	case registry.Patient:
		return s.updatePatient(r, fields)
	case registry.Case:
		return s.updateCase(r, fields)
	case registry.Slide:
		return s.updateSlide(r, fields)
	default:
		return wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("unsupported record type %T", record))
	}
}

func (s *txStore) updateStudy(r registry.Study, fields []string) error {
	const op = "sqlitestore.updateStudy"
	existingRec, err := s.GetByID(registry.KindStudy, r.ID)
	if err != nil {
		return err
	}
	existing := existingRec.(registry.Study)

	name := existing.Name
	date, pseudoDate := existing.Date, existing.PseudoDate

	if has(fields, "Name") {
		name, _ = diffString(existing.Name, r.Name)
	}
	if has(fields, "Date") {
		var regen bool
		date, regen = diffTime(existing.Date, r.Date)
		if regen {
			pseudoDate = r.PseudoDate
		}
	}

	_, err = s.tx.Exec(`UPDATE study SET name = ?, date = ?, pseudo_date = ? WHERE id = ?`,
		nullStr(name), nullTime(date), nullTime(pseudoDate), r.ID)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return nil
}

func (s *txStore) updatePatient(r registry.Patient, fields []string) error {
	const op = "sqlitestore.updatePatient"
	existingRec, err := s.GetByID(registry.KindPatient, r.ID)
	if err != nil {
		return err
	}
	existing := existingRec.(registry.Patient)

	name, pseudoName := existing.Name, existing.PseudoName
	age, pseudoAge := existing.Age, existing.PseudoAge
	sex := existing.Sex

	if has(fields, "Name") {
		var regen bool
		name, regen = diffString(existing.Name, r.Name)
		if regen {
			pseudoName = r.PseudoName
		}
	}
	if has(fields, "Age") {
		var regen bool
		age, regen = diffInt(existing.Age, r.Age)
		if regen {
			pseudoAge = r.PseudoAge
		}
	}
	if has(fields, "Sex") && r.Sex != "" {
		sex = r.Sex
	}

	_, err = s.tx.Exec(`UPDATE patient SET name = ?, sex = ?, age = ?, pseudo_name = ?, pseudo_age = ? WHERE id = ?`,
		nullStr(name), string(sex), nullInt(age), nullStr(pseudoName), nullInt(pseudoAge), r.ID)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return nil
}

func (s *txStore) updateCase(r registry.Case, fields []string) error {
	const op = "sqlitestore.updateCase"
	existingRec, err := s.GetByID(registry.KindCase, r.ID)
	if err != nil {
		return err
	}
	existing := existingRec.(registry.Case)

	name := existing.Name
	createdAt, pseudoCreatedAt := existing.CreatedAt, existing.PseudoCreatedAt

	if has(fields, "Name") {
		name, _ = diffString(existing.Name, r.Name)
	}
	if has(fields, "CreatedAt") {
		var regen bool
		createdAt, regen = diffTime(existing.CreatedAt, r.CreatedAt)
		if regen {
			pseudoCreatedAt = r.PseudoCreatedAt
		}
	}

	_, err = s.tx.Exec(`UPDATE case_entity SET name = ?, created_at = ?, pseudo_created_at = ? WHERE id = ?`,
		nullStr(name), nullTime(createdAt), nullTime(pseudoCreatedAt), r.ID)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return nil
}

func (s *txStore) updateSlide(r registry.Slide, fields []string) error {
	const op = "sqlitestore.updateSlide"
	existingRec, err := s.GetByID(registry.KindSlide, r.ID)
	if err != nil {
		return err
	}
	existing := existingRec.(registry.Slide)

	name, pseudoName := existing.Name, existing.PseudoName
	acquiredAt, pseudoAcquiredAt := existing.AcquiredAt, existing.PseudoAcquiredAt
	stain, tissue, path := existing.Stain, existing.Tissue, existing.Path
	labelBlobName, labelBlobKey := existing.LabelBlobName, existing.LabelBlobKey
	metaBlobName, metaBlobKey := existing.MetadataBlobName, existing.MetadataBlobKey

	if has(fields, "Name") {
		var regen bool
		name, regen = diffString(existing.Name, r.Name)
		if regen {
			pseudoName = r.PseudoName
		}
	}
	if has(fields, "AcquiredAt") {
		var regen bool
		acquiredAt, regen = diffTime(existing.AcquiredAt, r.AcquiredAt)
		if regen {
			pseudoAcquiredAt = r.PseudoAcquiredAt
		}
	}
	if has(fields, "Stain") {
		stain, _ = diffString(existing.Stain, r.Stain)
	}
	if has(fields, "Tissue") {
		tissue, _ = diffString(existing.Tissue, r.Tissue)
	}
	if has(fields, "Path") && r.Path != "" {
		path = r.Path
	}
	if has(fields, "LabelBlob") {
		labelBlobName, labelBlobKey = r.LabelBlobName, r.LabelBlobKey
	}
	if has(fields, "MetadataBlob") {
		metaBlobName, metaBlobKey = r.MetadataBlobName, r.MetadataBlobKey
	}

	_, err = s.tx.Exec(`UPDATE slide SET name = ?, acquired_at = ?, stain = ?, tissue = ?, path = ?,
			pseudo_name = ?, pseudo_acquired_at = ?, label_blob_name = ?, label_blob_key = ?,
			metadata_blob_name = ?, metadata_blob_key = ? WHERE id = ?`,
		nullStr(name), nullTime(acquiredAt), nullStr(stain), nullStr(tissue), path,
		nullStr(pseudoName), nullTime(pseudoAcquiredAt), nullStr(labelBlobName), nullStr(labelBlobKey),
		nullStr(metaBlobName), nullStr(metaBlobKey), r.ID)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return nil
}

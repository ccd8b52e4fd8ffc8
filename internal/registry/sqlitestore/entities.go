package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/slidevault/wsipseudo/internal/registry"
	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// Put inserts a brand-new entity row. The record's pseudo ID must already
// be allocated (via AllocatePseudoID) by the caller.
func (s *txStore) Put(record registry.Record) error {
	const op = "sqlitestore.Put"
	var err error
	switch r := record.(type) {
	case registry.Study:
		_, err = s.tx.Exec(
			`INSERT INTO study (id, name, date, pseudo_id, pseudo_name, pseudo_date) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, nullStr(r.Name), nullTime(r.Date), r.PseudoIDValue, r.PseudoName, nullTime(r.PseudoDate),
		)
	case registry.Patient:
		_, err = s.tx.Exec(
			`INSERT INTO patient (id, name, sex, age, pseudo_id, pseudo_name, pseudo_age) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, nullStr(r.Name), string(r.Sex), nullInt(r.Age), r.PseudoIDValue, nullStr(r.PseudoName), nullInt(r.PseudoAge),
		)
	case registry.Case:
		_, err = s.tx.Exec(
			`INSERT INTO case_entity (id, name, created_at, pseudo_id, pseudo_name, pseudo_created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, nullStr(r.Name), nullTime(r.CreatedAt), r.PseudoIDValue, r.PseudoName, nullTime(r.PseudoCreatedAt),
		)
	case registry.Slide:
		_, err = s.tx.Exec(
			`INSERT INTO slide (id, name, acquired_at, stain, tissue, path, pseudo_id, pseudo_name, pseudo_acquired_at,
				label_blob_name, label_blob_key, metadata_blob_name, metadata_blob_key)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, nullStr(r.Name), nullTime(r.AcquiredAt), nullStr(r.Stain), nullStr(r.Tissue), r.Path,
			r.PseudoIDValue, nullStr(r.PseudoName), nullTime(r.PseudoAcquiredAt),
			nullStr(r.LabelBlobName), nullStr(r.LabelBlobKey), nullStr(r.MetadataBlobName), nullStr(r.MetadataBlobKey),
		)
	default:
		return wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("unsupported record type %T", record))
	}
	if err != nil {
		return wsierr.Wrap(wsierr.RegistryConflict, op, err)
	}
	return nil
}

func (s *txStore) GetByID(kind registry.Kind, id string) (registry.Record, error) {
	return s.get(kind, "id", id)
}

func (s *txStore) GetByPseudoID(kind registry.Kind, pseudoID string) (registry.Record, error) {
	return s.get(kind, "pseudo_id", pseudoID)
}

func (s *txStore) get(kind registry.Kind, column, value string) (registry.Record, error) {
	const op = "sqlitestore.get"
	table, err := tableFor(kind)
	if err != nil {
		return nil, wsierr.Wrap(wsierr.InputInvalid, op, err)
	}
	switch kind {
	case registry.KindStudy:
		var r registry.Study
		var name, date, pseudoDate sql.NullString
		row := s.tx.QueryRow(fmt.Sprintf("SELECT id, name, date, pseudo_id, pseudo_name, pseudo_date FROM %s WHERE %s = ?", table, column), value)
		if err := row.Scan(&r.ID, &name, &date, &r.PseudoIDValue, &r.PseudoName, &pseudoDate); err != nil {
			return nil, wrapNotFound(op, kind, value, err)
		}
		r.Name = scanStr(name)
		if r.Date, err = scanTime(date); err != nil {
			return nil, wsierr.Wrap(wsierr.Inconsistent, op, err)
		}
		if r.PseudoDate, err = scanTime(pseudoDate); err != nil {
			return nil, wsierr.Wrap(wsierr.Inconsistent, op, err)
		}
		return r, nil

	case registry.KindPatient:
		var r registry.Patient
		var name, sex, pseudoName sql.NullString
		var age, pseudoAge sql.NullInt64
		row := s.tx.QueryRow(fmt.Sprintf("SELECT id, name, sex, age, pseudo_id, pseudo_name, pseudo_age FROM %s WHERE %s = ?", table, column), value)
		if err := row.Scan(&r.ID, &name, &sex, &age, &r.PseudoIDValue, &pseudoName, &pseudoAge); err != nil {
			return nil, wrapNotFound(op, kind, value, err)
		}
		r.Name = scanStr(name)
		r.Sex = registry.Sex(sex.String)
		r.Age = scanInt(age)
		r.PseudoName = scanStr(pseudoName)
		r.PseudoAge = scanInt(pseudoAge)
		return r, nil

	case registry.KindCase:
		var r registry.Case
		var name, createdAt, pseudoCreatedAt sql.NullString
		row := s.tx.QueryRow(fmt.Sprintf("SELECT id, name, created_at, pseudo_id, pseudo_name, pseudo_created_at FROM %s WHERE %s = ?", table, column), value)
		if err := row.Scan(&r.ID, &name, &createdAt, &r.PseudoIDValue, &r.PseudoName, &pseudoCreatedAt); err != nil {
			return nil, wrapNotFound(op, kind, value, err)
		}
		r.Name = scanStr(name)
		if r.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, wsierr.Wrap(wsierr.Inconsistent, op, err)
		}
		if r.PseudoCreatedAt, err = scanTime(pseudoCreatedAt); err != nil {
			return nil, wsierr.Wrap(wsierr.Inconsistent, op, err)
		}
		return r, nil

	case registry.KindSlide:
		var r registry.Slide
		var name, acquiredAt, pseudoName, pseudoAcquiredAt sql.NullString
		var labelName, labelKey, metaName, metaKey sql.NullString
		row := s.tx.QueryRow(fmt.Sprintf(
			`SELECT id, name, acquired_at, stain, tissue, path, pseudo_id, pseudo_name, pseudo_acquired_at,
				label_blob_name, label_blob_key, metadata_blob_name, metadata_blob_key
			 FROM %s WHERE %s = ?`, table, column), value)
		var stain, tissue sql.NullString
		if err := row.Scan(&r.ID, &name, &acquiredAt, &stain, &tissue, &r.Path, &r.PseudoIDValue, &pseudoName, &pseudoAcquiredAt,
			&labelName, &labelKey, &metaName, &metaKey); err != nil {
			return nil, wrapNotFound(op, kind, value, err)
		}
		r.Name = scanStr(name)
		r.Stain = scanStr(stain)
		r.Tissue = scanStr(tissue)
		r.PseudoName = scanStr(pseudoName)
		r.LabelBlobName = scanStr(labelName)
		r.LabelBlobKey = scanStr(labelKey)
		r.MetadataBlobName = scanStr(metaName)
		r.MetadataBlobKey = scanStr(metaKey)
		if r.AcquiredAt, err = scanTime(acquiredAt); err != nil {
			return nil, wsierr.Wrap(wsierr.Inconsistent, op, err)
		}
		if r.PseudoAcquiredAt, err = scanTime(pseudoAcquiredAt); err != nil {
			return nil, wsierr.Wrap(wsierr.Inconsistent, op, err)
		}
		return r, nil

	default:
		return nil, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("unknown kind %v", kind))
	}
}

func wrapNotFound(op string, kind registry.Kind, value string, err error) error {
	if err == sql.ErrNoRows {
		return wsierr.Wrap(wsierr.RegistryAbsent, op, fmt.Errorf("%s %q not found", kind, value))
	}
	return wsierr.Wrap(wsierr.FileIO, op, err)
}

// GetWithChildren resolves a record and its associated children: a
// Study's Patients, a Patient's Slides, or a Case's Slides. Slide has no
// children of its own.
func (s *txStore) GetWithChildren(kind registry.Kind, id string) (registry.Record, []registry.Record, error) {
	const op = "sqlitestore.GetWithChildren"
	parent, err := s.GetByID(kind, id)
	if err != nil {
		return nil, nil, err
	}

	var rows *sql.Rows
	var childKind registry.Kind
	switch kind {
	case registry.KindStudy:
		childKind = registry.KindPatient
		rows, err = s.tx.Query(`SELECT patient_id FROM study_patient WHERE study_id = ?`, id)
	case registry.KindPatient:
		childKind = registry.KindSlide
		rows, err = s.tx.Query(`SELECT slide_id FROM patient_slide WHERE patient_id = ?`, id)
	case registry.KindCase:
		childKind = registry.KindSlide
		rows, err = s.tx.Query(`SELECT slide_id FROM case_slide WHERE case_id = ?`, id)
	case registry.KindSlide:
		return parent, nil, nil
	default:
		return nil, nil, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("unknown kind %v", kind))
	}
	if err != nil {
		return nil, nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	defer rows.Close()

	var childIDs []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, nil, wsierr.Wrap(wsierr.FileIO, op, err)
		}
		childIDs = append(childIDs, cid)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}

	children := make([]registry.Record, 0, len(childIDs))
	for _, cid := range childIDs {
		child, err := s.GetByID(childKind, cid)
		if err != nil {
			return nil, nil, err
		}
		children = append(children, child)
	}
	return parent, children, nil
}

func (s *txStore) associate(table, leftCol, rightCol, leftID, rightID string) error {
	const op = "sqlitestore.associate"
	_, err := s.tx.Exec(
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)`, table, leftCol, rightCol),
		leftID, rightID,
	)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return nil
}

func (s *txStore) AssociateStudyPatient(studyID, patientID string) error {
	return s.associate("study_patient", "study_id", "patient_id", studyID, patientID)
}

func (s *txStore) AssociateCaseSlide(caseID, slideID string) error {
	return s.associate("case_slide", "case_id", "slide_id", caseID, slideID)
}

func (s *txStore) AssociatePatientSlide(patientID, slideID string) error {
	return s.associate("patient_slide", "patient_id", "slide_id", patientID, slideID)
}

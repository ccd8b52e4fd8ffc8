package manifest

import "github.com/slidevault/wsipseudo/internal/registry"

// SlideOutput mirrors SlideInput with real identity replaced by
// pseudonymous values. A field stays absent if the corresponding input
// field was never supplied.
type SlideOutput struct {
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	Name       *string `json:"name,omitempty"`
	AcquiredAt *string `json:"acquired_at,omitempty"`
	Stain      *string `json:"stain,omitempty"`
	Tissue     *string `json:"tissue,omitempty"`
}

// PatientOutput mirrors PatientInput; Sex is carried through unchanged
// since it is not itself identifying.
type PatientOutput struct {
	ID     string         `json:"id"`
	Name   *string        `json:"name,omitempty"`
	Sex    *string        `json:"sex,omitempty"`
	Age    *int           `json:"age,omitempty"`
	Slides []SlideOutput  `json:"slides"`
}

// CaseOutput mirrors CaseInput.
type CaseOutput struct {
	ID        string       `json:"id"`
	Name      *string      `json:"name,omitempty"`
	CreatedAt *string      `json:"created_at,omitempty"`
	Slides    []SlideOutput `json:"slides"`
}

// StudyOutput mirrors StudyInput.
type StudyOutput struct {
	ID       string          `json:"id"`
	Name     *string         `json:"name,omitempty"`
	Date     *string         `json:"date,omitempty"`
	Patients []PatientOutput `json:"patients"`
}

// NewSlideOutput builds a SlideOutput from a Slide record's pseudonymous
// side, plus the clone's filesystem path.
func NewSlideOutput(rec registry.Slide, clonePath string) SlideOutput {
	out := SlideOutput{
		ID:     rec.PseudoID(),
		Path:   clonePath,
		Stain:  rec.Stain,
		Tissue: rec.Tissue,
	}
	if rec.Name != nil {
		out.Name = rec.PseudoName
	}
	if rec.AcquiredAt != nil && rec.PseudoAcquiredAt != nil {
		formatted := FormatDateTime(*rec.PseudoAcquiredAt)
		out.AcquiredAt = &formatted
	}
	return out
}

// NewPatientOutput builds a PatientOutput from a Patient record, real sex
// value, and its already-built slide outputs.
func NewPatientOutput(rec registry.Patient, slides []SlideOutput) PatientOutput {
	out := PatientOutput{ID: rec.PseudoID(), Slides: slides}
	if rec.Name != nil {
		out.Name = rec.PseudoName
	}
	if rec.Sex != "" {
		sex := string(rec.Sex)
		out.Sex = &sex
	}
	if rec.Age != nil {
		out.Age = rec.PseudoAge
	}
	return out
}

// NewCaseOutput builds a CaseOutput from a Case record and its already-
// built slide outputs.
func NewCaseOutput(rec registry.Case, slides []SlideOutput) CaseOutput {
	out := CaseOutput{ID: rec.PseudoID(), Slides: slides}
	if rec.Name != nil {
		name := rec.PseudoName
		out.Name = &name
	}
	if rec.CreatedAt != nil && rec.PseudoCreatedAt != nil {
		formatted := FormatDateTime(*rec.PseudoCreatedAt)
		out.CreatedAt = &formatted
	}
	return out
}

// NewStudyOutput builds a StudyOutput from a Study record and its
// already-built patient outputs.
func NewStudyOutput(rec registry.Study, patients []PatientOutput) StudyOutput {
	out := StudyOutput{ID: rec.PseudoID(), Patients: patients}
	if rec.Name != nil {
		name := rec.PseudoName
		out.Name = &name
	}
	if rec.Date != nil && rec.PseudoDate != nil {
		formatted := FormatDate(*rec.PseudoDate)
		out.Date = &formatted
	}
	return out
}

// NewSlideRealOutput builds a SlideOutput carrying a Slide record's real
// identity, used by De-pseudonymize to emit a manifest with identifiers
// restored, in contrast to NewSlideOutput's pseudonymous side.
func NewSlideRealOutput(rec registry.Slide, restoredPath string) SlideOutput {
	out := SlideOutput{
		ID:     rec.RealID(),
		Path:   restoredPath,
		Name:   rec.Name,
		Stain:  rec.Stain,
		Tissue: rec.Tissue,
	}
	if rec.AcquiredAt != nil {
		formatted := FormatDateTime(*rec.AcquiredAt)
		out.AcquiredAt = &formatted
	}
	return out
}

// NewPatientRealOutput builds a PatientOutput carrying a Patient record's
// real identity.
func NewPatientRealOutput(rec registry.Patient, slides []SlideOutput) PatientOutput {
	out := PatientOutput{ID: rec.RealID(), Name: rec.Name, Age: rec.Age, Slides: slides}
	if rec.Sex != "" {
		sex := string(rec.Sex)
		out.Sex = &sex
	}
	return out
}

// NewCaseRealOutput builds a CaseOutput carrying a Case record's real
// identity.
func NewCaseRealOutput(rec registry.Case, slides []SlideOutput) CaseOutput {
	out := CaseOutput{ID: rec.RealID(), Name: rec.Name, Slides: slides}
	if rec.CreatedAt != nil {
		formatted := FormatDateTime(*rec.CreatedAt)
		out.CreatedAt = &formatted
	}
	return out
}

// NewStudyRealOutput builds a StudyOutput carrying a Study record's real
// identity.
func NewStudyRealOutput(rec registry.Study, patients []PatientOutput) StudyOutput {
	out := StudyOutput{ID: rec.RealID(), Name: rec.Name, Patients: patients}
	if rec.Date != nil {
		formatted := FormatDate(*rec.Date)
		out.Date = &formatted
	}
	return out
}

// Package manifest parses and constructs the three input/output manifest
// shapes a pseudonymization run accepts and emits: a single slide, a case
// of slides, or a study of patients each with their own slides.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// Kind distinguishes the three manifest shapes.
type Kind int

const (
	KindSlide Kind = iota
	KindCase
	KindStudy
)

// SlideInput is the leaf shape shared by all three manifest kinds.
type SlideInput struct {
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	Name       *string `json:"name,omitempty"`
	AcquiredAt *string `json:"acquired_at,omitempty"`
	Stain      *string `json:"stain,omitempty"`
	Tissue     *string `json:"tissue,omitempty"`
}

// PatientInput is a patient and the slides ingested under them, present
// only inside a Study manifest.
type PatientInput struct {
	ID     string       `json:"id"`
	Name   *string      `json:"name,omitempty"`
	Sex    *string      `json:"sex,omitempty"`
	Age    *int         `json:"age,omitempty"`
	Slides []SlideInput `json:"slides"`
}

// CaseInput groups slides directly under a case.
type CaseInput struct {
	ID        string       `json:"id"`
	Name      *string      `json:"name,omitempty"`
	CreatedAt *string      `json:"created_at,omitempty"`
	Slides    []SlideInput `json:"slides"`
}

// StudyInput groups patients, each with their own slides.
type StudyInput struct {
	ID       string         `json:"id"`
	Name     *string        `json:"name,omitempty"`
	Date     *string        `json:"date,omitempty"`
	Patients []PatientInput `json:"patients"`
}

// Input is the result of Parse: exactly one of Slide, Case, Study is set,
// selected by Kind.
type Input struct {
	Kind  Kind
	Slide *SlideInput
	Case  *CaseInput
	Study *StudyInput
}

// Parse detects which of the three shapes data encodes by the presence of
// its distinguishing key ("patients" for a study, "slides" for a case,
// "path" for a single slide) and unmarshals accordingly; data with none
// of these keys is rejected as InputInvalid.
func Parse(data []byte) (Input, error) {
	const op = "manifest.Parse"
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Input{}, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("decode manifest: %w", err))
	}

	switch {
	case hasKey(probe, "patients"):
		var s StudyInput
		if err := json.Unmarshal(data, &s); err != nil {
			return Input{}, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("decode study manifest: %w", err))
		}
		return Input{Kind: KindStudy, Study: &s}, nil

	case hasKey(probe, "slides"):
		var c CaseInput
		if err := json.Unmarshal(data, &c); err != nil {
			return Input{}, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("decode case manifest: %w", err))
		}
		return Input{Kind: KindCase, Case: &c}, nil

	case hasKey(probe, "path"):
		var sl SlideInput
		if err := json.Unmarshal(data, &sl); err != nil {
			return Input{}, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("decode slide manifest: %w", err))
		}
		return Input{Kind: KindSlide, Slide: &sl}, nil

	default:
		return Input{}, wsierr.Wrap(wsierr.InputInvalid, op, fmt.Errorf("manifest matches none of the slide/case/study shapes"))
	}
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

// Output is the result of a Pseudonymize/DePseudonymize call: exactly one
// of Slide, Case, Study is set, selected by Kind, mirroring Input.
type Output struct {
	Kind  Kind
	Slide *SlideOutput
	Case  *CaseOutput
	Study *StudyOutput
}

// MarshalJSON emits whichever of Slide/Case/Study is set, matching the
// corresponding input shape.
func (o Output) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case KindSlide:
		return json.Marshal(o.Slide)
	case KindCase:
		return json.Marshal(o.Case)
	case KindStudy:
		return json.Marshal(o.Study)
	default:
		return nil, fmt.Errorf("manifest: output has no recognized kind")
	}
}

// Validator checks a manifest shape before the controller acts on it.
// Concrete schema validation is an external collaborator concern; no
// implementation ships in this module beyond NoopValidator.
type Validator interface {
	ValidateSlide(SlideInput) error
	ValidateCase(CaseInput) error
	ValidateStudy(StudyInput) error
}

// NoopValidator accepts every manifest. Useful as a default when no
// schema-validation collaborator is configured.
type NoopValidator struct{}

func (NoopValidator) ValidateSlide(SlideInput) error { return nil }
func (NoopValidator) ValidateCase(CaseInput) error   { return nil }
func (NoopValidator) ValidateStudy(StudyInput) error { return nil }

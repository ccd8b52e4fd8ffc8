// Package registry defines the Identity Registry's storage contract: the
// real/pseudonymous entity pairs and association sets a Pseudonymization
// Controller reads and writes, independent of any concrete backing store.
package registry

import "time"

// Kind identifies one of the four entity tables the registry persists.
type Kind int

const (
	KindStudy Kind = iota
	KindPatient
	KindCase
	KindSlide
)

func (k Kind) String() string {
	switch k {
	case KindStudy:
		return "study"
	case KindPatient:
		return "patient"
	case KindCase:
		return "case"
	case KindSlide:
		return "slide"
	default:
		return "unknown"
	}
}

// Record is implemented by every entity kind the registry persists.
type Record interface {
	Kind() Kind
	RealID() string
	PseudoID() string
}

// Sex is a Patient's reported sex.
type Sex string

const (
	SexFemale  Sex = "female"
	SexMale    Sex = "male"
	SexUnknown Sex = "unknown"
)

// Study is a study's real/pseudonymous identity pair.
type Study struct {
	ID              string
	Name            *string
	Date            *time.Time
	PseudoIDValue   string
	PseudoName      string
	PseudoDate      *time.Time
}

func (s Study) Kind() Kind       { return KindStudy }
func (s Study) RealID() string   { return s.ID }
func (s Study) PseudoID() string { return s.PseudoIDValue }

// Patient is a patient's real/pseudonymous identity pair.
type Patient struct {
	ID            string
	Name          *string
	Sex           Sex
	Age           *int
	PseudoIDValue string
	PseudoName    *string
	PseudoAge     *int
}

func (p Patient) Kind() Kind       { return KindPatient }
func (p Patient) RealID() string   { return p.ID }
func (p Patient) PseudoID() string { return p.PseudoIDValue }

// Case is a case's real/pseudonymous identity pair.
type Case struct {
	ID              string
	Name            *string
	CreatedAt       *time.Time
	PseudoIDValue   string
	PseudoName      string
	PseudoCreatedAt *time.Time
}

func (c Case) Kind() Kind       { return KindCase }
func (c Case) RealID() string   { return c.ID }
func (c Case) PseudoID() string { return c.PseudoIDValue }

// Slide is a whole-slide image's real/pseudonymous identity pair, plus the
// escrow references its pseudonymous label and descriptor blobs live under.
type Slide struct {
	ID         string
	Name       *string
	AcquiredAt *time.Time
	Stain      *string
	Tissue     *string
	Path       string

	PseudoIDValue    string
	PseudoName       *string
	PseudoAcquiredAt *time.Time

	LabelBlobName    *string
	LabelBlobKey     *string
	MetadataBlobName *string
	MetadataBlobKey  *string
}

func (s Slide) Kind() Kind       { return KindSlide }
func (s Slide) RealID() string   { return s.ID }
func (s Slide) PseudoID() string { return s.PseudoIDValue }

// Store is the Identity Registry's storage contract. A Store represents a
// single unit of work: callers accumulate Put/Update/association calls and
// finish with exactly one of Commit or Rollback.
type Store interface {
	GetByID(kind Kind, id string) (Record, error)
	GetByPseudoID(kind Kind, pseudoID string) (Record, error)

	// GetWithChildren resolves a record together with its associated
	// children: a Study's Patients, a Patient's Slides, or a Case's
	// Slides. Kinds with no child association return a nil slice.
	GetWithChildren(kind Kind, id string) (Record, []Record, error)

	// Put inserts a new entity whose pseudo ID the caller has already
	// set (see AllocatePseudoID); Update is used instead when the entity
	// already exists, and edges are recorded by the Associate methods.
	Put(record Record) error

	// Update applies the registry's fill-null-then-regenerate-pseudonym
	// / update-real-keep-pseudonym policy for the named real-side
	// fields of an already-known entity.
	Update(record Record, fields []string) error

	// AllocatePseudoID draws a fresh, registry-unique pseudonymous ID
	// for kind, retrying on collision up to an implementation-defined
	// budget before reporting wsierr.RegistryConflict.
	AllocatePseudoID(kind Kind) (string, error)

	AssociateStudyPatient(studyID, patientID string) error
	AssociateCaseSlide(caseID, slideID string) error
	AssociatePatientSlide(patientID, slideID string) error

	Commit() error
	Rollback() error
}

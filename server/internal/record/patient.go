package record

import (
	"time"
)

// DateLayout is the ISO 8601 calendar-date form used for birthDate.
const DateLayout = "2006-01-02"

// Accepted values for Patient.Gender.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Patient is a demographic record keyed by an externally supplied id.
type Patient struct {
	ID             string `json:"id"`
	FamilyName     string `json:"family_name"`
	GivenName      string `json:"given_name"`
	Gender         string `json:"gender"`
	BirthDate      string `json:"birthDate"`
	MedicalSummary string `json:"medical_summary"`
}

// Validate checks the clinical field constraints. today is the reference
// date for the future-birth-date rule; only its calendar date is used.
func (p Patient) Validate(today time.Time) error {
	if p.FamilyName == "" {
		return Validationf("family_name is required")
	}
	if p.GivenName == "" {
		return Validationf("given_name is required")
	}
	switch p.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		return Validationf("invalid gender: want male|female|other")
	}

	born, err := time.Parse(DateLayout, p.BirthDate)
	if err != nil {
		return Validationf("invalid date format: want YYYY-MM-DD")
	}
	y, m, d := today.Date()
	if born.After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
		return Validationf("future date not allowed")
	}
	return nil
}

// PatientPatch carries the fields of a partial update. A nil field was not
// supplied and leaves the stored value untouched. The id is not patchable.
type PatientPatch struct {
	FamilyName     *string `json:"family_name,omitempty"`
	GivenName      *string `json:"given_name,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	BirthDate      *string `json:"birthDate,omitempty"`
	MedicalSummary *string `json:"medical_summary,omitempty"`
}

// Apply returns p with every supplied field of the patch merged in.
// p itself is not modified.
func (pp PatientPatch) Apply(p Patient) Patient {
	if pp.FamilyName != nil {
		p.FamilyName = *pp.FamilyName
	}
	if pp.GivenName != nil {
		p.GivenName = *pp.GivenName
	}
	if pp.Gender != nil {
		p.Gender = *pp.Gender
	}
	if pp.BirthDate != nil {
		p.BirthDate = *pp.BirthDate
	}
	if pp.MedicalSummary != nil {
		p.MedicalSummary = *pp.MedicalSummary
	}
	return p
}

// Empty reports whether no field was supplied.
func (pp PatientPatch) Empty() bool {
	return pp.FamilyName == nil && pp.GivenName == nil && pp.Gender == nil &&
		pp.BirthDate == nil && pp.MedicalSummary == nil
}

package record

// Document is the single persisted aggregate holding all clinical state.
type Document struct {
	Patients     Patients      `json:"patients"`
	Observations []Observation `json:"observations"`
	Logs         []AuditEntry  `json:"logs"`
}

// EmptyDocument returns the canonical empty document:
// {"patients": {}, "observations": [], "logs": []}.
func EmptyDocument() *Document {
	return &Document{
		Observations: []Observation{},
		Logs:         []AuditEntry{},
	}
}

// ObservationsFor returns the observations of patientID in document order.
// The result is never nil.
func (d *Document) ObservationsFor(patientID string) []Observation {
	out := []Observation{}
	for _, o := range d.Observations {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	return out
}

// RemovePatient deletes the patient and every observation that references
// it. It returns the number of observations removed and false when the
// patient was absent, in which case nothing changes.
func (d *Document) RemovePatient(id string) (int, bool) {
	if !d.Patients.Delete(id) {
		return 0, false
	}
	kept := make([]Observation, 0, len(d.Observations))
	for _, o := range d.Observations {
		if o.PatientID != id {
			kept = append(kept, o)
		}
	}
	removed := len(d.Observations) - len(kept)
	d.Observations = kept
	return removed, true
}

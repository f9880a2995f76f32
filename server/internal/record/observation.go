package record

// Observation is a clinical measurement attached to a patient. The id is
// generated on creation; observations are never edited afterwards.
type Observation struct {
	ID        string  `json:"id"`
	PatientID string  `json:"patient_id"`
	Category  string  `json:"category"`
	Code      string  `json:"code"`
	Display   string  `json:"display"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Date      string  `json:"date"`
}

// ObservationInput is an observation as submitted by a client, before an id
// is assigned.
type ObservationInput struct {
	PatientID string  `json:"patient_id"`
	Category  string  `json:"category"`
	Code      string  `json:"code"`
	Display   string  `json:"display"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Date      string  `json:"date"`
}

// WithID returns the stored form of in under id.
func (in ObservationInput) WithID(id string) Observation {
	return Observation{
		ID:        id,
		PatientID: in.PatientID,
		Category:  in.Category,
		Code:      in.Code,
		Display:   in.Display,
		Value:     in.Value,
		Unit:      in.Unit,
		Date:      in.Date,
	}
}

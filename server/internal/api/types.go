package api

// BannerResponse is the payload for GET /.
type BannerResponse struct {
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
}

// DeleteResponse is the payload for DELETE /fhir/Patient/{id}.
type DeleteResponse struct {
	Message             string `json:"message"`
	ObservationsRemoved int    `json:"observations_removed"`
}

// CreatedResponse is the payload for POST /fhir/Observation.
type CreatedResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// errorResponse is the standard error body.
type errorResponse struct {
	Error string `json:"error"`
}

package observation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/record"
	"github.com/fhirlite/fhirlite/server/internal/store"
)

// Auditor records successful mutations without reporting failure.
type Auditor interface {
	Append(ctx context.Context, action, resource, resourceID string)
}

// Service implements the observation operations over the document repository.
type Service struct {
	repo    *store.Repository
	audit   Auditor
	metrics *metrics.Registry
	newID   func() string
}

// New creates a Service. m may be nil.
func New(repo *store.Repository, audit Auditor, m *metrics.Registry) *Service {
	return &Service{repo: repo, audit: audit, metrics: m, newID: uuid.NewString}
}

// ListByPatient returns the observations of patientID in insertion order.
// An unknown patient yields an empty list, not an error.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]record.Observation, error) {
	var out []record.Observation
	err := s.repo.View(ctx, func(doc *record.Document) error {
		out = doc.ObservationsFor(patientID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create stores in under a fresh random id and returns the stored
// observation. It fails with ErrNotFound when in.PatientID is unknown.
func (s *Service) Create(ctx context.Context, in record.ObservationInput) (_ record.Observation, err error) {
	defer func() { s.metrics.ObserveOperation(record.ResourceObservation, record.ActionCreate, err) }()

	obs := in.WithID(s.newID())
	err = s.repo.Update(ctx, func(doc *record.Document) error {
		if !doc.Patients.Has(in.PatientID) {
			return record.NotFoundf("patient %q does not exist", in.PatientID)
		}
		doc.Observations = append(doc.Observations, obs)
		return nil
	})
	if err != nil {
		return record.Observation{}, err
	}

	slog.Info("observation: created", "observation_id", obs.ID, "patient_id", obs.PatientID)
	s.audit.Append(ctx, record.ActionCreate, record.ResourceObservation, obs.ID)
	return obs, nil
}

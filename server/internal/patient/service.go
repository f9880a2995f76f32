package patient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/record"
	"github.com/fhirlite/fhirlite/server/internal/store"
)

// Auditor records successful mutations. Implementations must not fail the
// caller; Append has no error result for that reason.
type Auditor interface {
	Append(ctx context.Context, action, resource, resourceID string)
}

// Page is one slice of the patient listing.
type Page struct {
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Size  int              `json:"size"`
	Data  []record.Patient `json:"data"`
}

// Service implements the patient operations over the document repository.
type Service struct {
	repo    *store.Repository
	audit   Auditor
	metrics *metrics.Registry
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Service. m may be nil.
func New(repo *store.Repository, audit Auditor, m *metrics.Registry) *Service {
	return &Service{repo: repo, audit: audit, metrics: m, now: time.Now}
}

// List returns page of size patients in listing order, plus the total count.
// page and size are not range-checked; out-of-range values give an empty
// page.
func (s *Service) List(ctx context.Context, page, size int) (*Page, error) {
	var out *Page
	err := s.repo.View(ctx, func(doc *record.Document) error {
		all := doc.Patients.All()
		start := (page - 1) * size
		lo, hi := sliceBounds(len(all), start, start+size)
		out = &Page{
			Total: len(all),
			Page:  page,
			Size:  size,
			Data:  append([]record.Patient{}, all[lo:hi]...),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns every patient whose family or given name contains name,
// ignoring case.
func (s *Service) Search(ctx context.Context, name string) ([]record.Patient, error) {
	needle := strings.ToLower(name)
	out := []record.Patient{}
	err := s.repo.View(ctx, func(doc *record.Document) error {
		for _, p := range doc.Patients.All() {
			if strings.Contains(strings.ToLower(p.FamilyName), needle) ||
				strings.Contains(strings.ToLower(p.GivenName), needle) {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the patient with the given id.
func (s *Service) Get(ctx context.Context, id string) (record.Patient, error) {
	var (
		p  record.Patient
		ok bool
	)
	err := s.repo.View(ctx, func(doc *record.Document) error {
		p, ok = doc.Patients.Get(id)
		return nil
	})
	if err != nil {
		return record.Patient{}, err
	}
	if !ok {
		return record.Patient{}, errPatientNotFound(id)
	}
	return p, nil
}

// Create stores a new patient. It fails with ErrValidation for invalid
// fields and ErrConflict when the id is taken.
func (s *Service) Create(ctx context.Context, p record.Patient) (_ record.Patient, err error) {
	defer func() { s.metrics.ObserveOperation(record.ResourcePatient, record.ActionCreate, err) }()

	if p.ID == "" {
		return record.Patient{}, record.Validationf("id is required")
	}
	if err := p.Validate(s.now()); err != nil {
		return record.Patient{}, err
	}

	err = s.repo.Update(ctx, func(doc *record.Document) error {
		if doc.Patients.Has(p.ID) {
			return record.Conflictf("patient %q already exists", p.ID)
		}
		doc.Patients.Put(p)
		return nil
	})
	if err != nil {
		return record.Patient{}, err
	}

	slog.Info("patient: created", "patient_id", p.ID)
	s.audit.Append(ctx, record.ActionCreate, record.ResourcePatient, p.ID)
	return p, nil
}

// Replace overwrites every field of patient id with p. The stored id stays
// id whatever p.ID holds.
func (s *Service) Replace(ctx context.Context, id string, p record.Patient) (_ record.Patient, err error) {
	defer func() { s.metrics.ObserveOperation(record.ResourcePatient, record.ActionPut, err) }()

	p.ID = id
	if err := p.Validate(s.now()); err != nil {
		return record.Patient{}, err
	}

	err = s.repo.Update(ctx, func(doc *record.Document) error {
		if !doc.Patients.Has(id) {
			return errPatientNotFound(id)
		}
		doc.Patients.Put(p)
		return nil
	})
	if err != nil {
		return record.Patient{}, err
	}

	slog.Info("patient: replaced", "patient_id", id)
	s.audit.Append(ctx, record.ActionPut, record.ResourcePatient, id)
	return p, nil
}

// Patch merges the supplied fields into patient id. The merged record is
// validated before anything is saved; on failure the stored record is left
// unchanged. An empty patch saves nothing but is still audited.
func (s *Service) Patch(ctx context.Context, id string, patch record.PatientPatch) (_ record.Patient, err error) {
	defer func() { s.metrics.ObserveOperation(record.ResourcePatient, record.ActionPatch, err) }()

	var merged record.Patient
	err = s.repo.Update(ctx, func(doc *record.Document) error {
		cur, ok := doc.Patients.Get(id)
		if !ok {
			return errPatientNotFound(id)
		}
		merged = patch.Apply(cur)
		if err := merged.Validate(s.now()); err != nil {
			return err
		}
		if patch.Empty() {
			return store.ErrNoChange
		}
		doc.Patients.Put(merged)
		return nil
	})
	if err != nil {
		return record.Patient{}, err
	}

	slog.Info("patient: patched", "patient_id", id)
	s.audit.Append(ctx, record.ActionPatch, record.ResourcePatient, id)
	return merged, nil
}

// Delete removes patient id together with all of its observations in a
// single save, and returns how many observations were removed. Only the
// patient deletion is audited.
func (s *Service) Delete(ctx context.Context, id string) (_ int, err error) {
	defer func() { s.metrics.ObserveOperation(record.ResourcePatient, record.ActionDelete, err) }()

	var removed int
	err = s.repo.Update(ctx, func(doc *record.Document) error {
		n, ok := doc.RemovePatient(id)
		if !ok {
			return errPatientNotFound(id)
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("patient: deleted", "patient_id", id, "observations_removed", removed)
	s.audit.Append(ctx, record.ActionDelete, record.ResourcePatient, id)
	return removed, nil
}

// --- helpers ----------------------------------------------------------------

func errPatientNotFound(id string) error {
	return record.NotFoundf("patient %q not found", id)
}

// sliceBounds resolves [start, end) against a sequence of length n the way
// sequence slicing does: negative bounds count from the end, everything is
// clamped to [0, n], and an inverted range is empty.
func sliceBounds(n, start, end int) (int, int) {
	clamp := func(i int) int {
		if i < 0 {
			i += n
			if i < 0 {
				i = 0
			}
		}
		if i > n {
			i = n
		}
		return i
	}
	lo, hi := clamp(start), clamp(end)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

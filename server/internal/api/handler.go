package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fhirlite/fhirlite/server/internal/audit"
	"github.com/fhirlite/fhirlite/server/internal/auth"
	"github.com/fhirlite/fhirlite/server/internal/health"
	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/observation"
	"github.com/fhirlite/fhirlite/server/internal/patient"
	"github.com/fhirlite/fhirlite/server/internal/record"
)

const (
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20

	defaultPage = 1
	defaultSize = 10

	requestTimeout = 30 * time.Second
)

// Deps are the components the HTTP surface is built from. Feed and Metrics
// may be nil, which disables /ws/audit and /metrics respectively.
type Deps struct {
	Patients     *patient.Service
	Observations *observation.Service
	Audit        *audit.Log
	Health       *health.Monitor
	Metrics      *metrics.Registry
	Feed         http.Handler
	Guard        *auth.Guard
	Version      string
}

// Handler serves the REST API.
type Handler struct {
	deps   Deps
	router chi.Router
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/", h.banner)
	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Guard.Middleware)

		if d.Feed != nil {
			r.Method(http.MethodGet, "/ws/audit", d.Feed)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/fhir/Patient", func(r chi.Router) {
				r.Get("/", h.listPatients)
				r.Post("/", h.createPatient)
				r.Get("/search", h.searchPatients)
				r.Get("/{id}", h.getPatient)
				r.Put("/{id}", h.replacePatient)
				r.Patch("/{id}", h.patchPatient)
				r.Delete("/{id}", h.deletePatient)
			})
			r.Get("/fhir/Observation/{patientID}", h.listObservations)
			r.Post("/fhir/Observation", h.createObservation)
			r.Get("/fhir/AuditLog", h.auditLog)
		})
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// banner returns GET /: service name and version.
func (h *Handler) banner(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BannerResponse{
		Service: "fhirlite",
		Version: h.deps.Version,
		Status:  "running",
	})
}

// health returns GET /health: the result of a fresh store probe.
// 503 when the document cannot be read.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	rep := h.deps.Health.Probe(r.Context())
	code := http.StatusOK
	if rep.Status == health.StatusUnavailable {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, rep)
}

// listPatients returns GET /fhir/Patient?page=&size=: one page of patients.
func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", defaultPage)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := intQuery(r, "size", defaultSize)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.deps.Patients.List(r.Context(), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// searchPatients returns GET /fhir/Patient/search?name=: substring match on
// either name field.
func (h *Handler) searchPatients(w http.ResponseWriter, r *http.Request) {
	out, err := h.deps.Patients.Search(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Patients.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	var in record.Patient
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := h.deps.Patients.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, p)
}

func (h *Handler) replacePatient(w http.ResponseWriter, r *http.Request) {
	var in record.Patient
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := h.deps.Patients.Replace(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

func (h *Handler) patchPatient(w http.ResponseWriter, r *http.Request) {
	var patch record.PatientPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	p, err := h.deps.Patients.Patch(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

func (h *Handler) deletePatient(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Patients.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, DeleteResponse{
		Message:             "patient and observations deleted",
		ObservationsRemoved: n,
	})
}

// listObservations returns GET /fhir/Observation/{patientID}. An unknown
// patient yields [].
func (h *Handler) listObservations(w http.ResponseWriter, r *http.Request) {
	out, err := h.deps.Observations.ListByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) createObservation(w http.ResponseWriter, r *http.Request) {
	var in record.ObservationInput
	if !decodeBody(w, r, &in) {
		return
	}
	obs, err := h.deps.Observations.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, CreatedResponse{ID: obs.ID, Message: "observation recorded"})
}

// auditLog returns GET /fhir/AuditLog: every entry, oldest first.
func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	out, err := h.deps.Audit.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// writeError maps an error kind to its status code.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, record.ErrUnauthorized):
		jsonErr(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, record.ErrConflict), errors.Is(err, record.ErrValidation):
		jsonErr(w, http.StatusBadRequest, record.Message(err))
	case errors.Is(err, record.ErrNotFound):
		jsonErr(w, http.StatusNotFound, record.Message(err))
	case errors.Is(err, record.ErrStorage):
		jsonErr(w, http.StatusInternalServerError, record.Message(err))
	default:
		slog.Error("api: unexpected error", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a JSON body into v. On failure it writes
// 400 "invalid request body" and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, record.Validationf("invalid request body"))
		return false
	}
	return true
}

// intQuery parses an integer query parameter. Absent or empty values yield
// def; zero and negative values are passed through.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, record.Validationf("%s must be an integer", name)
	}
	return n, nil
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

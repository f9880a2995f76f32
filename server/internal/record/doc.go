// Package record defines the clinical data model persisted by fhirlite and
// the error kinds shared by every layer.
//
// Types:
//   - Document: the aggregate {patients, observations, logs}
//   - Patients: id-keyed patient index that preserves insertion order and
//     round-trips it through JSON
//   - Patient, PatientPatch: demographics and the optional-field patch used
//     by partial updates (merge with Apply, then Validate the result)
//   - Observation, ObservationInput: measurements linked by patient_id
//   - AuditEntry: append-only action log entry
//
// Errors are *Error values whose Kind is one of ErrUnauthorized, ErrConflict,
// ErrNotFound, ErrValidation or ErrStorage; match them with errors.Is.
package record

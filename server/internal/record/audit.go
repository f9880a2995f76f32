package record

import "time"

// Audit actions.
const (
	ActionCreate = "CREATE"
	ActionPut    = "PUT"
	ActionPatch  = "PATCH"
	ActionDelete = "DELETE"
)

// Audited resource types.
const (
	ResourcePatient     = "Patient"
	ResourceObservation = "Observation"
)

// AuditEntry records one successful mutating action. Entries are append-only.
type AuditEntry struct {
	Timestamp  string `json:"timestamp"` // RFC3339Nano, UTC
	Action     string `json:"action"`
	Resource   string `json:"resource"`
	ResourceID string `json:"resource_id"`
}

// NewAuditEntry stamps an entry with at in UTC.
func NewAuditEntry(at time.Time, action, resource, resourceID string) AuditEntry {
	return AuditEntry{
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
	}
}

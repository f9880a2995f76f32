package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/record"
	"github.com/fhirlite/fhirlite/server/internal/store"
)

// Sink receives every persisted audit entry. Publish must not block for
// long; failures are the sink's own business.
type Sink interface {
	Publish(e record.AuditEntry)
}

// Log appends audit entries to the document's logs collection.
//
// Appending is best-effort: the business change it describes has already
// been saved, so a failed append is logged and counted but never returned.
type Log struct {
	repo    *store.Repository
	sinks   []Sink
	metrics *metrics.Registry
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Log writing through repo. m may be nil.
func New(repo *store.Repository, m *metrics.Registry, sinks ...Sink) *Log {
	return &Log{repo: repo, sinks: sinks, metrics: m, now: time.Now}
}

// Append records action on resource/resourceID in its own load-append-save
// cycle, then hands the entry to every sink.
func (l *Log) Append(ctx context.Context, action, resource, resourceID string) {
	entry := record.NewAuditEntry(l.now(), action, resource, resourceID)

	err := l.repo.Update(ctx, func(doc *record.Document) error {
		doc.Logs = append(doc.Logs, entry)
		return nil
	})
	if err != nil {
		l.metrics.AuditFailed()
		slog.Error("audit: append failed",
			"action", action, "resource", resource, "resource_id", resourceID, "err", err)
		return
	}
	l.metrics.AuditWritten()

	for _, s := range l.sinks {
		s.Publish(entry)
	}
}

// List returns every audit entry in chronological order.
func (l *Log) List(ctx context.Context) ([]record.AuditEntry, error) {
	var out []record.AuditEntry
	err := l.repo.View(ctx, func(doc *record.Document) error {
		out = append([]record.AuditEntry{}, doc.Logs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

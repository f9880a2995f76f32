package metrics

import (
	"errors"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/fhirlite/fhirlite/server/internal/record"
)

// Metric family names exposed on /metrics.
const (
	OperationsTotal     = "fhirlite_operations_total"
	StoreRecoveries     = "fhirlite_store_recoveries_total"
	StoreErrorsTotal    = "fhirlite_store_errors_total"
	AuditFailuresTotal  = "fhirlite_audit_failures_total"
	SinkFailuresTotal   = "fhirlite_audit_sink_failures_total"
	AuditEntriesWritten = "fhirlite_audit_entries_total"
)

type opKey struct {
	resource, action, outcome string
}

// Registry holds the process-wide counters. All methods are safe for
// concurrent use and are no-ops on a nil *Registry, so components can be
// built without metrics in tests.
type Registry struct {
	mu            sync.Mutex
	ops           map[opKey]float64
	storeErrors   map[string]float64
	sinkFailures  map[string]float64
	recoveries    float64
	auditFailures float64
	auditEntries  float64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		ops:          make(map[opKey]float64),
		storeErrors:  make(map[string]float64),
		sinkFailures: make(map[string]float64),
	}
}

// ObserveOperation counts one service call. The outcome label is derived
// from the error kind ("ok" when err is nil).
func (r *Registry) ObserveOperation(resource, action string, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.ops[opKey{resource, action, Outcome(err)}]++
	r.mu.Unlock()
}

// StoreRecovered counts a read that found unreadable content and fell back
// to the empty document.
func (r *Registry) StoreRecovered() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.recoveries++
	r.mu.Unlock()
}

// StoreError counts a backend failure; op is "load" or "save".
func (r *Registry) StoreError(op string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.storeErrors[op]++
	r.mu.Unlock()
}

// AuditWritten counts a persisted audit entry.
func (r *Registry) AuditWritten() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.auditEntries++
	r.mu.Unlock()
}

// AuditFailed counts an audit entry that could not be persisted.
func (r *Registry) AuditFailed() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.auditFailures++
	r.mu.Unlock()
}

// SinkFailed counts a failed delivery to an audit sink.
func (r *Registry) SinkFailed(sink string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sinkFailures[sink]++
	r.mu.Unlock()
}

// Outcome maps an error to its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, record.ErrConflict):
		return "conflict"
	case errors.Is(err, record.ErrNotFound):
		return "not_found"
	case errors.Is(err, record.ErrValidation):
		return "validation"
	case errors.Is(err, record.ErrStorage):
		return "storage"
	default:
		return "error"
	}
}

// Gather returns a point-in-time copy of every metric family, sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]*dto.Metric, 0, len(r.ops))
	for k, v := range r.ops {
		ops = append(ops, counter(v, "action", k.action, "outcome", k.outcome, "resource", k.resource))
	}
	storeErrs := make([]*dto.Metric, 0, len(r.storeErrors))
	for op, v := range r.storeErrors {
		storeErrs = append(storeErrs, counter(v, "op", op))
	}
	sinkErrs := make([]*dto.Metric, 0, len(r.sinkFailures))
	for sink, v := range r.sinkFailures {
		sinkErrs = append(sinkErrs, counter(v, "sink", sink))
	}

	mfs := []*dto.MetricFamily{
		family(OperationsTotal, "Patient and observation operations by outcome.", ops),
		family(StoreRecoveries, "Reads that replaced an unreadable document with the empty document.",
			[]*dto.Metric{counter(r.recoveries)}),
		family(StoreErrorsTotal, "Backend load/save failures.", storeErrs),
		family(AuditEntriesWritten, "Audit entries persisted.", []*dto.Metric{counter(r.auditEntries)}),
		family(AuditFailuresTotal, "Audit entries that could not be persisted.",
			[]*dto.Metric{counter(r.auditFailures)}),
		family(SinkFailuresTotal, "Failed audit sink deliveries.", sinkErrs),
	}
	// The text encoder rejects families without samples.
	out := mfs[:0]
	for _, mf := range mfs {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// ServeHTTP writes the registry in the Prometheus text exposition format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range r.Gather() {
		if err := enc.Encode(mf); err != nil {
			return
		}
	}
}

// --- helpers ----------------------------------------------------------------

func family(name, help string, ms []*dto.Metric) *dto.MetricFamily {
	sort.Slice(ms, func(i, j int) bool { return labelKey(ms[i]) < labelKey(ms[j]) })
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: ms,
	}
}

// counter builds a counter sample; labels are name/value pairs.
func counter(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}

func labelKey(m *dto.Metric) string {
	var s string
	for _, lp := range m.GetLabel() {
		s += lp.GetName() + "=" + lp.GetValue() + ","
	}
	return s
}

// Package audit keeps the append-only audit trail of mutating operations.
//
// Log.Append writes one entry per successful CREATE, PUT, PATCH or DELETE in
// its own repository cycle and never reports failure to the caller. Persisted
// entries are fanned out to Sinks: Webhook posts them to configured URLs and
// the ws package streams them to connected clients.
package audit

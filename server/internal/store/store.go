package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/record"
)

// ErrNoChange is returned by an Update callback that decided not to mutate
// the document. Update then skips the save and returns nil.
var ErrNoChange = errors.New("store: no change")

// ErrCorrupt marks stored content that could not be decoded. Reads recover
// from it silently; only Check reports it.
var ErrCorrupt = errors.New("store: corrupt document")

// Options configures a Repository.
type Options struct {
	// SerializeWrites wraps every load-mutate-save cycle in a process-local
	// mutex. Without it concurrent updates may overwrite each other.
	SerializeWrites bool

	// Metrics receives recovery and backend error counts. May be nil.
	Metrics *metrics.Registry
}

// Repository owns the load → mutate → save cycle over a Backend. Every call
// works on a freshly loaded copy of the whole document.
type Repository struct {
	backend Backend
	mu      *sync.RWMutex // nil unless Options.SerializeWrites
	metrics *metrics.Registry
}

// New creates a Repository over b.
func New(b Backend, opts Options) *Repository {
	r := &Repository{backend: b, metrics: opts.Metrics}
	if opts.SerializeWrites {
		r.mu = &sync.RWMutex{}
	}
	return r
}

// View loads the document and passes it to fn. Changes fn makes are not
// persisted.
func (r *Repository) View(ctx context.Context, fn func(doc *record.Document) error) error {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	doc, err := r.load(ctx)
	if err != nil {
		return err
	}
	return fn(doc)
}

// Update loads the document, lets fn mutate it and saves the result. When fn
// returns an error nothing is saved; ErrNoChange is swallowed, other errors
// are returned as is. Save failures are returned as ErrStorage errors.
func (r *Repository) Update(ctx context.Context, fn func(doc *record.Document) error) error {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	doc, err := r.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	return r.save(ctx, doc)
}

// Check loads and strictly decodes the stored document. It returns nil for a
// readable or absent document, an ErrStorage error when the backend cannot
// be read, and an ErrCorrupt error when the content is unreadable.
func (r *Repository) Check(ctx context.Context) error {
	raw, err := r.backend.Load(ctx)
	if err != nil {
		return record.Storage(err, "could not read document")
	}
	if raw == nil {
		return nil
	}
	if _, err := DecodeStrict(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Repair rewrites the stored document in canonical form. Unreadable content
// is replaced by the empty document.
func (r *Repository) Repair(ctx context.Context) error {
	return r.Update(ctx, func(*record.Document) error { return nil })
}

// Backend returns the underlying backend.
func (r *Repository) Backend() Backend { return r.backend }

// --- internal ---------------------------------------------------------------

func (r *Repository) load(ctx context.Context) (*record.Document, error) {
	raw, err := r.backend.Load(ctx)
	if err != nil {
		r.metrics.StoreError("load")
		return nil, record.Storage(err, "could not read document")
	}
	if raw == nil {
		return record.EmptyDocument(), nil
	}
	doc, err := DecodeStrict(raw)
	if err != nil {
		r.metrics.StoreRecovered()
		slog.Warn("store: unreadable document, using empty document",
			"backend", r.backend.Describe(), "err", err)
		return record.EmptyDocument(), nil
	}
	return doc, nil
}

func (r *Repository) save(ctx context.Context, doc *record.Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := r.backend.Save(ctx, data); err != nil {
		r.metrics.StoreError("save")
		slog.Error("store: save failed", "backend", r.backend.Describe(), "err", err)
		return record.Storage(err, "could not save document")
	}
	return nil
}

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fhirlite/fhirlite/server/internal/record"
)

// Top-level keys of the persisted document.
const (
	keyPatients     = "patients"
	keyObservations = "observations"
	keyLogs         = "logs"
)

var errEmptyInput = errors.New("document is empty")

// Decode parses raw into a Document. It never fails: empty, malformed or
// structurally invalid input yields the canonical empty document. Missing
// top-level keys are filled with their empty value individually.
func Decode(raw []byte) *record.Document {
	doc, err := DecodeStrict(raw)
	if err != nil {
		slog.Debug("store: decode fell back to empty document", "err", err)
		return record.EmptyDocument()
	}
	return doc
}

// DecodeStrict is Decode that reports why content was rejected instead of
// substituting the empty document.
func DecodeStrict(raw []byte) (*record.Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errEmptyInput
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if top == nil {
		return nil, errors.New("document is null")
	}

	doc := record.EmptyDocument()

	if v, ok := top[keyPatients]; ok {
		if err := json.Unmarshal(v, &doc.Patients); err != nil {
			return nil, fmt.Errorf("%s: %w", keyPatients, err)
		}
		for _, p := range doc.Patients.All() {
			if p.ID == "" {
				return nil, fmt.Errorf("%s: empty patient id", keyPatients)
			}
		}
	}
	if v, ok := top[keyObservations]; ok {
		if err := decodeArray(v, &doc.Observations); err != nil {
			return nil, fmt.Errorf("%s: %w", keyObservations, err)
		}
	}
	if v, ok := top[keyLogs]; ok {
		if err := decodeArray(v, &doc.Logs); err != nil {
			return nil, fmt.Errorf("%s: %w", keyLogs, err)
		}
	}
	return doc, nil
}

// decodeArray decodes an array of JSON objects into out. null, non-arrays
// and non-object elements are rejected.
func decodeArray[T any](raw json.RawMessage, out *[]T) error {
	var elems []json.RawMessage
	if len(raw) == 0 || raw[0] != '[' {
		return errors.New("want array")
	}
	if err := json.Unmarshal(raw, &elems); err != nil {
		return err
	}
	items := make([]T, 0, len(elems))
	for i, e := range elems {
		if len(e) == 0 || e[0] != '{' {
			return fmt.Errorf("[%d]: want object", i)
		}
		var item T
		if err := json.Unmarshal(e, &item); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
		items = append(items, item)
	}
	*out = items
	return nil
}

// Encode serialises doc as indented UTF-8 JSON. It fails with an
// ErrStorage-kinded error when doc is not document-shaped.
func Encode(doc *record.Document) ([]byte, error) {
	if doc == nil {
		return nil, record.Storage(errors.New("nil document"), "document is not document-shaped")
	}
	for _, p := range doc.Patients.All() {
		if p.ID == "" {
			return nil, record.Storage(errors.New("patient with empty id"), "document is not document-shaped")
		}
	}

	out := *doc
	if out.Observations == nil {
		out.Observations = []record.Observation{}
	}
	if out.Logs == nil {
		out.Logs = []record.AuditEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, record.Storage(err, "could not encode document")
	}
	return buf.Bytes(), nil
}

package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Patients is the patient collection of a Document: an id-keyed index that
// remembers insertion order. Replacing a record keeps its position.
// The zero value is an empty collection ready to use.
type Patients struct {
	order []string
	byID  map[string]Patient
}

// NewPatients returns a collection holding ps in the given order.
func NewPatients(ps ...Patient) Patients {
	var out Patients
	for _, p := range ps {
		out.Put(p)
	}
	return out
}

// Len returns the number of patients.
func (ps *Patients) Len() int { return len(ps.order) }

// Has reports whether id is present.
func (ps *Patients) Has(id string) bool {
	_, ok := ps.byID[id]
	return ok
}

// Get returns the patient stored under id.
func (ps *Patients) Get(id string) (Patient, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

// Put inserts p under p.ID, or replaces the existing record in place.
func (ps *Patients) Put(p Patient) {
	if ps.byID == nil {
		ps.byID = make(map[string]Patient)
	}
	if _, ok := ps.byID[p.ID]; !ok {
		ps.order = append(ps.order, p.ID)
	}
	ps.byID[p.ID] = p
}

// Delete removes id and reports whether it was present.
func (ps *Patients) Delete(id string) bool {
	if _, ok := ps.byID[id]; !ok {
		return false
	}
	delete(ps.byID, id)
	for i, k := range ps.order {
		if k == id {
			ps.order = append(ps.order[:i:i], ps.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns a copy of every patient in listing order.
func (ps *Patients) All() []Patient {
	out := make([]Patient, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.byID[id])
	}
	return out
}

// Clone returns an independent copy.
func (ps *Patients) Clone() Patients {
	return NewPatients(ps.All()...)
}

// MarshalJSON encodes the collection as an object whose keys appear in
// listing order. HTML characters stay unescaped only when the outer encoder
// has SetEscapeHTML(false), as store.Encode does; json.Marshal escapes them.
func (ps Patients) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range ps.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalNoEscape(ps.byID[id])
		if err != nil {
			return nil, fmt.Errorf("patient %q: %w", id, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalNoEscape encodes v without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalJSON decodes an object of patient records, keeping key order.
// The object key is authoritative for the record id. Anything other than an
// object of objects is rejected, including null.
func (ps *Patients) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("patients: want object")
	}

	var out Patients
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("patients[%q]: %w", key, err)
		}
		if len(raw) == 0 || raw[0] != '{' {
			return fmt.Errorf("patients[%q]: want object", key)
		}
		var p Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("patients[%q]: %w", key, err)
		}
		p.ID = key
		out.Put(p)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*ps = out
	return nil
}

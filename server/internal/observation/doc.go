// Package observation implements ListByPatient and Create for clinical
// observations. Create checks that the referenced patient exists and assigns
// a random UUID; observations are otherwise immutable and disappear only
// when their patient is deleted.
package observation

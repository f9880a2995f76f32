// Package patient implements the Patient operations: List (paginated),
// Search (case-insensitive substring on family/given name), Get, Create,
// Replace (full update), Patch (partial update, validated after the merge)
// and Delete (cascades to the patient's observations).
//
// Each operation is one load → mutate → save cycle on store.Repository.
// Successful mutations are then recorded through an Auditor.
package patient

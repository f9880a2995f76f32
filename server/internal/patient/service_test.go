package patient

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/fhirlite/fhirlite/server/internal/audit"
	"github.com/fhirlite/fhirlite/server/internal/observation"
	"github.com/fhirlite/fhirlite/server/internal/record"
	"github.com/fhirlite/fhirlite/server/internal/store"
)

var ctx = context.Background()

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	backend *store.MemoryBackend
	repo    *store.Repository
	svc     *Service
	obs     *observation.Service
	log     *audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := store.NewMemoryBackend(nil)
	repo := store.New(b, store.Options{})
	log := audit.New(repo, nil)
	svc := New(repo, log, nil)
	svc.now = fixedClock(now)
	return &fixture{backend: b, repo: repo, svc: svc, obs: observation.New(repo, log, nil), log: log}
}

func patient(id, given, family string) record.Patient {
	return record.Patient{
		ID:             id,
		FamilyName:     family,
		GivenName:      given,
		Gender:         "male",
		BirthDate:      "1990-06-01",
		MedicalSummary: "none",
	}
}

func mustCreate(t *testing.T, f *fixture, p record.Patient) {
	t.Helper()
	if _, err := f.svc.Create(ctx, p); err != nil {
		t.Fatalf("Create(%s): %v", p.ID, err)
	}
}

func logs(t *testing.T, f *fixture) []record.AuditEntry {
	t.Helper()
	entries, err := f.log.List(ctx)
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	return entries
}

func TestCreate_StoresAndAudits(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))

	got, err := f.svc.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.GivenName != "Maria" {
		t.Errorf("GivenName: got %q", got.GivenName)
	}
	l := logs(t, f)
	if len(l) != 1 || l[0].Action != "CREATE" || l[0].Resource != "Patient" || l[0].ResourceID != "p-1" {
		t.Errorf("audit: got %+v", l)
	}
}

func TestCreate_Conflict(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))

	_, err := f.svc.Create(ctx, patient("p-1", "Other", "Name"))
	if !errors.Is(err, record.ErrConflict) {
		t.Fatalf("Create duplicate: got %v, want ErrConflict", err)
	}
	if got, _ := f.svc.Get(ctx, "p-1"); got.GivenName != "Maria" {
		t.Errorf("existing record overwritten: %+v", got)
	}
	if n := len(logs(t, f)); n != 1 {
		t.Errorf("audit entries: got %d, want 1", n)
	}
}

func TestCreate_ValidationIsDistinctFromConflict(t *testing.T) {
	f := newFixture(t)
	p := patient("p-1", "Maria", "Lopez")
	p.Gender = "unknown"
	_, err := f.svc.Create(ctx, p)
	if !errors.Is(err, record.ErrValidation) || errors.Is(err, record.ErrConflict) {
		t.Fatalf("Create invalid: got %v, want ErrValidation only", err)
	}
	if f.backend.Saves() != 0 {
		t.Error("invalid patient was saved")
	}
}

func TestCreate_RequiresID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(ctx, patient("", "Maria", "Lopez"))
	if !errors.Is(err, record.ErrValidation) {
		t.Fatalf("Create without id: got %v, want ErrValidation", err)
	}
}

func TestCreate_FutureBirthDateRejected(t *testing.T) {
	f := newFixture(t)

	tomorrow := patient("p-1", "Maria", "Lopez")
	tomorrow.BirthDate = now.AddDate(0, 0, 1).Format(record.DateLayout)
	_, err := f.svc.Create(ctx, tomorrow)
	if !errors.Is(err, record.ErrValidation) || record.Message(err) != "future date not allowed" {
		t.Fatalf("tomorrow: got %v", err)
	}

	today := patient("p-2", "Ana", "Diaz")
	today.BirthDate = now.Format(record.DateLayout)
	if _, err := f.svc.Create(ctx, today); err != nil {
		t.Fatalf("today: %v", err)
	}
}

func TestCreate_InvalidDateMessageDiffers(t *testing.T) {
	f := newFixture(t)
	p := patient("p-1", "Maria", "Lopez")
	p.BirthDate = "01-06-1990"
	_, err := f.svc.Create(ctx, p)
	if record.Message(err) != "invalid date format: want YYYY-MM-DD" {
		t.Errorf("message: got %q", record.Message(err))
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Get(ctx, "nope"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Get: got %v, want ErrNotFound", err)
	}
}

func TestReplace(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))

	repl := patient("ignored-id", "Mariana", "Lopez Garcia")
	repl.Gender = "female"
	got, err := f.svc.Replace(ctx, "p-1", repl)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got.ID != "p-1" {
		t.Errorf("id: got %q, want p-1", got.ID)
	}
	stored, _ := f.svc.Get(ctx, "p-1")
	if stored != got {
		t.Errorf("stored: got %+v, want %+v", stored, got)
	}
	if _, err := f.svc.Get(ctx, "ignored-id"); !errors.Is(err, record.ErrNotFound) {
		t.Error("body id created a second record")
	}
	l := logs(t, f)
	if l[len(l)-1].Action != "PUT" {
		t.Errorf("last audit action: got %q, want PUT", l[len(l)-1].Action)
	}
}

func TestReplace_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Replace(ctx, "nope", patient("nope", "A", "B"))
	if !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Replace: got %v, want ErrNotFound", err)
	}
}

func TestReplace_Validates(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))
	bad := patient("p-1", "Maria", "Lopez")
	bad.BirthDate = "2099-01-01"
	if _, err := f.svc.Replace(ctx, "p-1", bad); !errors.Is(err, record.ErrValidation) {
		t.Fatalf("Replace: got %v, want ErrValidation", err)
	}
}

func TestPatch_MergesOnlySuppliedFields(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))

	summary := "type 2 diabetes"
	got, err := f.svc.Patch(ctx, "p-1", record.PatientPatch{MedicalSummary: &summary})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	want := patient("p-1", "Maria", "Lopez")
	want.MedicalSummary = summary
	if got != want {
		t.Errorf("Patch: got %+v, want %+v", got, want)
	}
	l := logs(t, f)
	if l[len(l)-1].Action != "PATCH" {
		t.Errorf("last audit action: got %q, want PATCH", l[len(l)-1].Action)
	}
}

func TestPatch_InvalidMergeLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))
	before := f.backend.Bytes()

	bad := "invalid"
	_, err := f.svc.Patch(ctx, "p-1", record.PatientPatch{Gender: &bad})
	if !errors.Is(err, record.ErrValidation) {
		t.Fatalf("Patch: got %v, want ErrValidation", err)
	}
	stored, _ := f.svc.Get(ctx, "p-1")
	if stored.Gender != "male" {
		t.Errorf("gender: got %q, want male", stored.Gender)
	}
	if string(f.backend.Bytes()) != string(before) {
		t.Error("document changed after rejected patch")
	}
}

func TestPatch_EmptyPatchSkipsSave(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))
	saves := f.backend.Saves()

	got, err := f.svc.Patch(ctx, "p-1", record.PatientPatch{})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got != patient("p-1", "Maria", "Lopez") {
		t.Errorf("Patch: got %+v", got)
	}
	// One save for the PATCH audit entry, none for the record.
	if n := f.backend.Saves() - saves; n != 1 {
		t.Errorf("saves: got %d, want 1", n)
	}
}

func TestPatch_NotFound(t *testing.T) {
	f := newFixture(t)
	s := "x"
	if _, err := f.svc.Patch(ctx, "nope", record.PatientPatch{GivenName: &s}); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Patch: got %v, want ErrNotFound", err)
	}
}

func TestDelete_CascadesObservations(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("P", "Maria", "Lopez"))
	mustCreate(t, f, patient("Q", "Juan", "Perez"))
	for _, pid := range []string{"P", "P", "Q"} {
		if _, err := f.obs.Create(ctx, record.ObservationInput{PatientID: pid, Code: "8867-4", Value: 70}); err != nil {
			t.Fatalf("observation Create: %v", err)
		}
	}
	logsBefore := len(logs(t, f))

	removed, err := f.svc.Delete(ctx, "P")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed: got %d, want 2", removed)
	}

	if _, err := f.svc.Get(ctx, "P"); !errors.Is(err, record.ErrNotFound) {
		t.Error("P still present")
	}
	if _, err := f.svc.Get(ctx, "Q"); err != nil {
		t.Errorf("Q: %v", err)
	}
	pObs, _ := f.obs.ListByPatient(ctx, "P")
	qObs, _ := f.obs.ListByPatient(ctx, "Q")
	if len(pObs) != 0 || len(qObs) != 1 {
		t.Errorf("observations: P=%d Q=%d, want 0 and 1", len(pObs), len(qObs))
	}

	l := logs(t, f)
	if len(l) != logsBefore+1 {
		t.Fatalf("audit entries added: got %d, want 1", len(l)-logsBefore)
	}
	last := l[len(l)-1]
	if last.Action != "DELETE" || last.Resource != "Patient" || last.ResourceID != "P" {
		t.Errorf("audit entry: got %+v", last)
	}
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Delete(ctx, "nope"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Delete: got %v, want ErrNotFound", err)
	}
	if f.backend.Saves() != 0 {
		t.Error("failed delete saved the document")
	}
}

func TestList_IdempotentAndOrdered(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"c", "a", "b"} {
		mustCreate(t, f, patient(id, "N"+id, "F"+id))
	}
	first, err := f.svc.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	second, _ := f.svc.List(ctx, 1, 10)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("List not idempotent:\n%+v\n%+v", first, second)
	}
	if first.Total != 3 || len(first.Data) != 3 || first.Data[0].ID != "c" || first.Data[2].ID != "b" {
		t.Errorf("List: got %+v", first)
	}
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		mustCreate(t, f, patient(id, "N", "F"))
	}

	p2, _ := f.svc.List(ctx, 2, 10)
	if p2.Total != 3 || len(p2.Data) != 0 || p2.Data == nil {
		t.Errorf("page 2 of size 10: got %+v", p2)
	}

	p2s2, _ := f.svc.List(ctx, 2, 2)
	if len(p2s2.Data) != 1 || p2s2.Data[0].ID != "c" {
		t.Errorf("page 2 of size 2: got %+v", p2s2.Data)
	}

	for _, c := range []struct{ page, size int }{{0, 10}, {1, 0}, {0, 0}, {-3, 0}} {
		got, err := f.svc.List(ctx, c.page, c.size)
		if err != nil {
			t.Fatalf("List(%d,%d): %v", c.page, c.size, err)
		}
		if len(got.Data) != 0 || got.Page != c.page || got.Size != c.size {
			t.Errorf("List(%d,%d): got %+v, want empty data", c.page, c.size, got)
		}
	}
}

func TestSliceBounds(t *testing.T) {
	cases := []struct{ n, start, end, lo, hi int }{
		{3, 0, 10, 0, 3},
		{3, 10, 20, 3, 3},
		{3, -10, 0, 0, 0},
		{30, -20, -10, 10, 20},
		{5, 2, 1, 2, 2},
	}
	for _, c := range cases {
		lo, hi := sliceBounds(c.n, c.start, c.end)
		if lo != c.lo || hi != c.hi {
			t.Errorf("sliceBounds(%d,%d,%d): got [%d,%d), want [%d,%d)", c.n, c.start, c.end, lo, hi, c.lo, c.hi)
		}
	}
}

func TestSearch_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, patient("p-1", "Maria", "Lopez"))
	mustCreate(t, f, patient("p-2", "Juan", "Mariano"))
	mustCreate(t, f, patient("p-3", "Ana", "Diaz"))

	for _, q := range []string{"maria", "MARIA", "Mari"} {
		got, err := f.svc.Search(ctx, q)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(got) != 2 || got[0].ID != "p-1" || got[1].ID != "p-2" {
			t.Errorf("Search(%q): got %+v", q, got)
		}
	}
	none, _ := f.svc.Search(ctx, "zzz")
	if none == nil || len(none) != 0 {
		t.Errorf("Search(zzz): got %v, want []", none)
	}
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	b := store.NewMemoryBackend(nil)
	repo := store.New(b, store.Options{})

	auditBackend := store.NewMemoryBackend(nil)
	auditBackend.FailSave(errors.New("audit disk full"))
	svc := New(repo, audit.New(store.New(auditBackend, store.Options{}), nil), nil)
	svc.now = fixedClock(now)

	if _, err := svc.Create(ctx, patient("p-1", "Maria", "Lopez")); err != nil {
		t.Fatalf("Create with failing audit: %v", err)
	}
	if _, err := svc.Get(ctx, "p-1"); err != nil {
		t.Errorf("patient not stored: %v", err)
	}
}

func TestStorageFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.backend.FailSave(errors.New("read-only file system"))

	_, err := f.svc.Create(ctx, patient("p-1", "Maria", "Lopez"))
	if !errors.Is(err, record.ErrStorage) {
		t.Fatalf("Create: got %v, want ErrStorage", err)
	}
	f.backend.FailSave(nil)
	if n := len(logs(t, f)); n != 0 {
		t.Errorf("audit entries after failed save: got %d, want 0", n)
	}
}

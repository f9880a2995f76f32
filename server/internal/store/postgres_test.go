package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/fhirlite/fhirlite/server/internal/record"
)

// TestPostgresBackend runs against a real database only when
// FHIRLITE_TEST_DATABASE_URL is set.
func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("FHIRLITE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FHIRLITE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	name := "test-" + uuid.NewString()

	b, err := NewPostgresBackend(ctx, dsn, name)
	if err != nil {
		t.Fatalf("NewPostgresBackend: %v", err)
	}
	t.Cleanup(func() {
		_, _ = b.pool.Exec(ctx, `DELETE FROM fhirlite_documents WHERE name = $1`, name)
		b.Close()
	})

	data, err := b.Load(ctx)
	if err != nil || data != nil {
		t.Fatalf("Load(absent): got (%q, %v)", data, err)
	}

	r := New(b, Options{})
	for _, id := range []string{"z", "a", "m"} {
		if err := r.Update(ctx, addPatient(id)); err != nil {
			t.Fatalf("Update(%s): %v", id, err)
		}
	}
	var order []string
	_ = r.View(ctx, func(d *record.Document) error {
		for _, p := range d.Patients.All() {
			order = append(order, p.ID)
		}
		return nil
	})
	if len(order) != 3 || order[0] != "z" || order[1] != "a" || order[2] != "m" {
		t.Errorf("patient order: got %v, want [z a m]", order)
	}
}

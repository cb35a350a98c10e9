package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeExecer struct {
	statements []string
	errFor     map[string]error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	for marker, err := range f.errFor {
		if strings.Contains(sql, marker) {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func TestAll(t *testing.T) {
	schemas, err := All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(schemas) != len(registry) {
		t.Fatalf("expected %d schemas, got %d", len(registry), len(schemas))
	}

	if schemas[0].Name != "leads" {
		t.Errorf("leads must be created first, got %s", schemas[0].Name)
	}
	for _, s := range schemas {
		if s.SQL == "" {
			t.Errorf("%s SQL is empty", s.Name)
		}
		if !strings.Contains(s.SQL, "IF NOT EXISTS") {
			t.Errorf("%s is not idempotent", s.Name)
		}
	}
}

func TestGet(t *testing.T) {
	t.Run("existing schema", func(t *testing.T) {
		s, err := Get("bookings")
		if err != nil {
			t.Fatalf("Get(bookings) error = %v", err)
		}
		if !strings.Contains(s.SQL, "external_id") {
			t.Error("bookings schema missing external_id")
		}
	})

	t.Run("non-existent schema", func(t *testing.T) {
		if _, err := Get("NonExistent"); err == nil {
			t.Error("expected error for non-existent schema")
		}
	})
}

func TestInitialize(t *testing.T) {
	t.Run("successful initialization", func(t *testing.T) {
		db := &fakeExecer{}
		if err := Initialize(context.Background(), db, nil); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if len(db.statements) != len(registry) {
			t.Errorf("expected %d statements, got %d", len(registry), len(db.statements))
		}
	})

	t.Run("already exists is ignored", func(t *testing.T) {
		db := &fakeExecer{errFor: map[string]error{
			"CREATE TABLE IF NOT EXISTS drafts": &pgconn.PgError{Code: codeDuplicateTable},
		}}
		if err := Initialize(context.Background(), db, nil); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
	})

	t.Run("other errors fail", func(t *testing.T) {
		db := &fakeExecer{errFor: map[string]error{
			"CREATE TABLE IF NOT EXISTS leads": errors.New("connection reset"),
		}}
		err := Initialize(context.Background(), db, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if len(db.statements) != 1 {
			t.Errorf("expected to stop after first failure, ran %d", len(db.statements))
		}
	})
}

func TestIsAlreadyExistsError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("already exists"), false},
		{&pgconn.PgError{Code: codeDuplicateTable}, true},
		{fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: codeDuplicateObject}), true},
		{&pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		if got := isAlreadyExistsError(tt.err); got != tt.want {
			t.Errorf("isAlreadyExistsError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

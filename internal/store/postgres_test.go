package store

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestMapRequestInsertErr(t *testing.T) {
	// the partial unique index firing is a business rejection
	dup := &pq.Error{Code: "23505", Constraint: "idx_join_requests_outstanding"}
	if err := mapRequestInsertErr(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// anything else stays an infrastructure failure
	err := mapRequestInsertErr(errors.New("connection refused"))
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if errors.Is(err, ErrDuplicate) {
		t.Fatalf("plain failure must not read as duplicate: %v", err)
	}
}

package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	a := gen()
	b := gen()
	// UUIDv7 embeds a millisecond timestamp: later IDs never sort before
	// earlier ones.
	if strings.Compare(a, b) > 0 {
		t.Errorf("expected %s <= %s", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("job_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "job_") {
		t.Errorf("expected job_ prefix, got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "job_")); err != nil {
		t.Errorf("suffix is not a valid UUID: %v", err)
	}
}

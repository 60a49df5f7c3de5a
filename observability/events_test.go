package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/profmatch/dbopen"
	_ "modernc.org/sqlite"
)

func TestRecorder_RecordAndQuery(t *testing.T) {
	r, err := NewRecorder(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	r.Record(ctx, "job-1", "created", "https://mit.edu")
	r.Record(ctx, "job-1", "discovering", "")
	r.Record(ctx, "job-2", "created", "")

	events, err := r.Events(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Event != "created" || events[0].Detail != "https://mit.edu" {
		t.Errorf("event 0 = %+v", events[0])
	}
}

func TestRecorder_BestEffort(t *testing.T) {
	db := dbopen.OpenMemory(t)
	r, err := NewRecorder(db)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Must not panic or return an error path to the caller.
	r.Record(context.Background(), "job-1", "created", "")
}

func TestRecorder_Cleanup(t *testing.T) {
	db := dbopen.OpenMemory(t)
	r, err := NewRecorder(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := db.Exec(`
		INSERT INTO match_event_logs (event_id, job_id, event, created_at)
		VALUES ('evt_old', 'job-1', 'created', ?)`, old); err != nil {
		t.Fatal(err)
	}
	r.Record(ctx, "job-2", "created", "")

	n, err := r.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	fresh, err := r.Events(ctx, "job-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 {
		t.Errorf("fresh events = %d, want 1", len(fresh))
	}
}

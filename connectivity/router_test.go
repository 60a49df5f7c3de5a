package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database with the routes schema.
// MaxOpenConns=1 ensures all operations use the same in-memory database
// (each connection to ":memory:" creates a separate database).
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := Init(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterLocal_and_Call(t *testing.T) {
	r := New()
	called := false
	r.RegisterLocal("cv_parse", func(ctx context.Context, payload []byte) ([]byte, error) {
		called = true
		return payload, nil
	})

	resp, err := r.Call(context.Background(), "cv_parse", []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("local handler not called")
	}
	if string(resp) != "hello" {
		t.Fatalf("got %q, want %q", resp, "hello")
	}
}

func TestCall_ServiceNotFound(t *testing.T) {
	r := New()
	_, err := r.Call(context.Background(), "nonexistent", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var snf *ErrServiceNotFound
	if !errors.As(err, &snf) {
		t.Fatalf("expected ErrServiceNotFound, got %T: %v", err, err)
	}
	if snf.Service != "nonexistent" {
		t.Fatalf("got service %q, want %q", snf.Service, "nonexistent")
	}
}

func TestReload_NoopStrategy(t *testing.T) {
	db := setupTestDB(t)
	r := New()

	r.RegisterLocal("faculty_discover", func(ctx context.Context, payload []byte) ([]byte, error) {
		t.Fatal("local handler should not be called for noop")
		return nil, nil
	})

	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy) VALUES ('faculty_discover', 'noop')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatalf("reload: %v", err)
	}

	resp, err := r.Call(context.Background(), "faculty_discover", nil)
	if err != nil {
		t.Fatalf("noop call should succeed: %v", err)
	}
	if resp != nil {
		t.Fatalf("noop call should return nil, got %q", resp)
	}
}

func TestReload_RemoteStrategy(t *testing.T) {
	db := setupTestDB(t)
	r := New()

	var built atomic.Int32
	r.RegisterTransport("http", func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		built.Add(1)
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte("remote:" + endpoint), nil
		}, nil, nil
	})

	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('scholar_enrich', 'http', 'http://scholar:9000/enrich')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatalf("reload: %v", err)
	}

	resp, err := r.Call(context.Background(), "scholar_enrich", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "remote:http://scholar:9000/enrich" {
		t.Fatalf("got %q", resp)
	}

	// Unchanged route must reuse the existing handler on reload.
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if built.Load() != 1 {
		t.Fatalf("factory called %d times, want 1 (unchanged route rebuilt)", built.Load())
	}
}

func TestReload_ChangedRouteClosesOld(t *testing.T) {
	db := setupTestDB(t)
	r := New()

	var closed atomic.Int32
	r.RegisterTransport("http", func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		h := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil }
		return h, func() { closed.Add(1) }, nil
	})

	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('cv_parse', 'http', 'http://a')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec(`UPDATE routes SET endpoint = 'http://b' WHERE service_name = 'cv_parse'`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	if closed.Load() != 1 {
		t.Fatalf("old handler closed %d times, want 1", closed.Load())
	}
}

func TestSeedFromFile(t *testing.T) {
	db := setupTestDB(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	content := `routes:
  - service: scholar_enrich
    strategy: mcp
    endpoint: "uv run python scholar-server/server.py"
    config:
      tool_name: search_scholar
  - service: faculty_discover
    strategy: local
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := SeedFromFile(context.Background(), db, path); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var strategy, cfg string
	err := db.QueryRow(`SELECT strategy, config FROM routes WHERE service_name = 'scholar_enrich'`).Scan(&strategy, &cfg)
	if err != nil {
		t.Fatalf("query seeded route: %v", err)
	}
	if strategy != "mcp" {
		t.Errorf("strategy = %q, want mcp", strategy)
	}
	if want := `{"tool_name":"search_scholar"}`; cfg != want {
		t.Errorf("config = %q, want %q", cfg, want)
	}

	// Seeding again replaces rather than duplicating.
	if err := SeedFromFile(context.Background(), db, path); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM routes`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("route count = %d, want 2", n)
	}
}

func TestWithRetry_EventualSuccess(t *testing.T) {
	var calls atomic.Int32
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	}

	h := WithRetry(3, time.Millisecond, nil)(base)
	resp, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp) != "ok" {
		t.Fatalf("got %q", resp)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("transient")
	}

	h := WithRetry(5, time.Millisecond, nil)(base)
	if _, err := h(ctx, nil); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (no retries after cancel)", calls.Load())
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, payload []byte) ([]byte, error) {
				order = append(order, name)
				return next(ctx, payload)
			}
		}
	}

	h := Chain(mk("outer"), mk("inner"))(func(ctx context.Context, payload []byte) ([]byte, error) {
		order = append(order, "base")
		return nil, nil
	})
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer", "inner", "base"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

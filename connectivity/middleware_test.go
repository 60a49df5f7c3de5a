package connectivity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogging_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := Logging("faculty_discover", logger)(func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("ok"), nil
	})

	resp, err := h(context.Background(), []byte("req"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "ok" {
		t.Errorf("resp = %q", resp)
	}
	if !strings.Contains(buf.String(), `"service":"faculty_discover"`) {
		t.Errorf("log missing service attr: %s", buf.String())
	}
}

func TestLogging_PreservesError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	sentinel := errors.New("backend down")
	h := Logging("scholar_enrich", logger)(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, sentinel
	})

	if _, err := h(context.Background(), nil); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want original error", err)
	}
	if !strings.Contains(buf.String(), "upstream call failed") {
		t.Errorf("failure not logged: %s", buf.String())
	}
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Recovery(logger)(func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("bad upstream payload")
	})

	_, err := h(context.Background(), nil)
	var pe *ErrPanic
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ErrPanic", err)
	}
	if pe.Value != "bad upstream payload" {
		t.Errorf("panic value = %v", pe.Value)
	}
}

func TestRecovery_NoPanicNoOp(t *testing.T) {
	h := Recovery(slog.Default())(func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("fine"), nil
	})
	resp, err := h(context.Background(), nil)
	if err != nil || string(resp) != "fine" {
		t.Fatalf("resp=%q err=%v", resp, err)
	}
}

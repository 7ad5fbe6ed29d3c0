package log

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareInstallsLogger(t *testing.T) {
	logger := New(Config{Handler: slog.NewTextHandler(io.Discard, nil), Component: ComponentHTTP})

	var got *Logger
	handler := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got != logger {
		t.Errorf("FromContext returned %p, want the installed logger %p", got, logger)
	}
}

func TestFromContextFallback(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil || logger.Logger == nil {
		t.Fatal("FromContext without a logger in context must fall back to a usable default")
	}
	if logger.Component() != ComponentApp {
		t.Errorf("fallback component = %q, want %q", logger.Component(), ComponentApp)
	}
}

func TestLogFieldsBuilder(t *testing.T) {
	fields := NewFields().
		WithComponent(ComponentTrace).
		WithRequestID("req_1").
		WithHTTPRequest(http.MethodPost, "/api/v1/groups/1/expenses").
		WithHTTPResponse(422, 12)

	want := map[string]any{
		FieldComponent:  ComponentTrace,
		FieldRequestID:  "req_1",
		FieldMethod:     http.MethodPost,
		FieldPath:       "/api/v1/groups/1/expenses",
		FieldStatusCode: 422,
		FieldDuration:   int64(12),
		FieldSuccess:    false,
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], v)
		}
	}

	slice := fields.ToSlice()
	if len(slice) != 2*len(fields) {
		t.Errorf("ToSlice length = %d, want %d", len(slice), 2*len(fields))
	}
}

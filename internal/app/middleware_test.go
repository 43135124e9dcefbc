package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogging_PassThrough(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/teapot", nil)

	WithRequestLogging(inner, log).ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusTeapot)
	}
	if got := rr.Body.String(); got != "short and stout" {
		t.Fatalf("body=%q", got)
	}
}

func TestResponseRecorder_CountsBytes(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: rr, status: http.StatusOK}

	if _, err := rec.Write([]byte("12345")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := rec.Write([]byte("678")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if rec.bytes != 8 {
		t.Fatalf("bytes=%d want=8", rec.bytes)
	}
	if rec.status != http.StatusOK {
		t.Fatalf("status=%d want=200", rec.status)
	}
}

func TestResponseRecorder_PreservesFlusher(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: rr, status: http.StatusOK}

	// httptest.ResponseRecorder implements http.Flusher; the wrapper must
	// forward it rather than swallow it.
	var w http.ResponseWriter = rec
	if _, ok := w.(http.Flusher); !ok {
		t.Fatalf("wrapper does not expose http.Flusher")
	}
	rec.Flush()
	if !rr.Flushed {
		t.Fatalf("flush not forwarded")
	}
}

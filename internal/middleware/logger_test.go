package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"genpipe/internal/infra"
)

func TestLoggerRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	l := infra.NewLoggerTo(&buf, "production")
	flushed := false
	handler := RequestID(Logger(&l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
			flushed = true
		}
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !flushed || !rec.Flushed {
		t.Fatal("wrapped writer should pass Flush through")
	}
	if rec.Header().Get(RequestIDHeader) != "rid-1" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get(RequestIDHeader))
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["status"] != float64(http.StatusTeapot) || line["request_id"] != "rid-1" || line["bytes"] != float64(15) {
		t.Fatalf("unexpected log fields: %v", line)
	}
	if line["level"] != "warn" {
		t.Fatalf("level = %v, want warn", line["level"])
	}
}

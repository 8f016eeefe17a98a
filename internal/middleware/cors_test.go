package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	reached := false
	handler := CORS([]string{"https://app.example.com/", ""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantAllow   string
		wantStatus  int
		wantReached bool
	}{
		{"allowed simple request", http.MethodGet, "https://app.example.com", false, "https://app.example.com", http.StatusOK, true},
		{"unknown origin passes without headers", http.MethodGet, "https://evil.example.com", false, "", http.StatusOK, true},
		{"allowed preflight", http.MethodOptions, "https://app.example.com", true, "https://app.example.com", http.StatusNoContent, false},
		{"rejected preflight", http.MethodOptions, "https://evil.example.com", true, "", http.StatusNoContent, false},
		{"plain options reaches handler", http.MethodOptions, "", false, "", http.StatusOK, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(tc.method, "/v1/generations", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus || reached != tc.wantReached {
				t.Fatalf("status = %d reached = %v, want %d %v", rec.Code, reached, tc.wantStatus, tc.wantReached)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("Allow-Origin = %q, want %q", got, tc.wantAllow)
			}
			if tc.preflight && tc.wantAllow != "" && rec.Header().Get("Access-Control-Allow-Headers") == "" {
				t.Fatalf("preflight missing Allow-Headers")
			}
		})
	}
}

func TestCORSWildcard(t *testing.T) {
	handler := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}

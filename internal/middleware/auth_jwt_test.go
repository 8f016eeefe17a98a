package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"genpipe/internal/infra/credentials"
)

func TestAuthJWT(t *testing.T) {
	src := credentials.NewJWTSource("s3cret", "user-7", time.Minute)
	src.Locale = "id"
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	var gotUser, gotLocale string
	handler := AuthJWT("s3cret", "/v1/healthz")(I18N("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotLocale = LocaleFromContext(r.Context())
	})))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/v1/generations/1", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/generations/1", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/v1/generations/1", "Bearer nope", http.StatusUnauthorized},
		{"public path", "/v1/healthz", "", http.StatusOK},
		{"valid token", "/v1/generations/1", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if gotUser != "user-7" {
		t.Fatalf("user = %q, want user-7", gotUser)
	}
	if gotLocale != "id" {
		t.Fatalf("locale = %q, want id from token", gotLocale)
	}
}

func TestContextWithUserID(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), " ")
	if UserIDFromContext(ctx) != "" {
		t.Fatal("blank user id should not be stored")
	}
	ctx = ContextWithUserID(ctx, "u1")
	if UserIDFromContext(ctx) != "u1" {
		t.Fatal("user id not stored")
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"genpipe/internal/feedback"
)

type localeKey struct{}

// I18N stores the caller's locale ("en" or "id") in the request context.
// A locale already set by an earlier middleware, such as a token claim, wins.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Value(localeKey{}).(string); ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := ContextWithLocale(r.Context(), detectLocale(r, defaultLocale))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// detectLocale prefers an explicit X-Locale header over Accept-Language.
func detectLocale(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		return feedback.Match(v, fallback)
	}
	return feedback.Match(r.Header.Get("Accept-Language"), fallback)
}

func ContextWithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, feedback.Match(locale, "en"))
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey{}).(string); ok {
		return v
	}
	return "en"
}

package i18n

import "net/http"

// LangCookie overrides the Accept-Language header when set.
const LangCookie = "lang"

// Middleware injects a localizer into every request context. The language
// comes from the lang cookie, then Accept-Language, then the default.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Get("Accept-Language")
			if c, err := r.Cookie(LangCookie); err == nil && c.Value != "" {
				accept = c.Value
			}
			loc := NewLocalizer(Match(accept))
			ctx := WithLocalizer(r.Context(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

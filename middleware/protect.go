package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/William-g7/Airnest-sub001/guard"
	"github.com/William-g7/Airnest-sub001/identity"
)

type userIDContextKey struct{}

// UserIDFromContext returns the user id injected by Protect.
func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDContextKey{}).(string)
	return uid, ok && uid != ""
}

// ProtectOptions configures Protect.
type ProtectOptions struct {
	// LoginPath is the redirect target. A locale prefix of the requested path
	// is kept. Defaults to "/".
	LoginPath string
	// OnRejected is invoked for every redirected or refused request.
	OnRejected func(r *http.Request)
}

// Protect guards the paths matched by m. Browsers are redirected with 303;
// JSON and /api/ clients get 401.
func Protect(m *guard.Matcher, opts ProtectOptions) func(http.Handler) http.Handler {
	if m == nil {
		m = guard.NewMatcher()
	}
	login := opts.LoginPath
	if login == "" {
		login = "/"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := ""
			if c, err := r.Cookie(identity.CookieUserID); err == nil {
				uid = c.Value
			}

			if uid != "" {
				ctx := context.WithValue(r.Context(), userIDContextKey{}, uid)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if !m.Protected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if opts.OnRejected != nil {
				opts.OnRejected(r)
			}
			if wantsJSON(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, localized(r.URL.Path, login), http.StatusSeeOther)
		})
	}
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(guard.StripLocale(r.URL.Path), "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func localized(path, target string) string {
	loc := guard.Locale(path)
	if loc == "" || guard.Locale(target) != "" {
		return target
	}
	return "/" + loc + "/" + strings.TrimPrefix(target, "/")
}

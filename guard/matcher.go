package guard

import (
	"regexp"
	"strings"
)

// DefaultProtectedPaths are the account pages that require a session.
var DefaultProtectedPaths = []string{
	"/myproperties",
	"/myreservations",
	"/myprofile",
	"/mywishlists",
	"/inbox",
}

var localePrefix = regexp.MustCompile(`^/[a-z]{2}(-[a-z]{2})?(/|$)`)

// StripLocale removes a leading /xx or /xx-yy segment.
func StripLocale(path string) string {
	loc := localePrefix.FindStringIndex(path)
	if loc == nil {
		return path
	}
	rest := path[loc[1]:]
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// Locale returns the locale segment of path, or "".
func Locale(path string) string {
	m := localePrefix.FindString(path)
	return strings.Trim(m, "/")
}

// Matcher reports whether a path is protected.
type Matcher struct {
	prefixes []string
}

// NewMatcher builds a matcher. With no prefixes it uses DefaultProtectedPaths.
func NewMatcher(prefixes ...string) *Matcher {
	if len(prefixes) == 0 {
		prefixes = DefaultProtectedPaths
	}
	m := &Matcher{prefixes: make([]string, 0, len(prefixes))}
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		m.prefixes = append(m.prefixes, p)
	}
	return m
}

// Prefixes returns the configured prefixes.
func (m *Matcher) Prefixes() []string {
	return append([]string(nil), m.prefixes...)
}

// Protected matches path, ignoring any query and a locale prefix. A prefix
// matches whole segments only: /inbox matches /inbox/3 but not /inboxes.
func (m *Matcher) Protected(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	candidates := [2]string{path, StripLocale(path)}
	for _, p := range m.prefixes {
		for _, c := range candidates {
			if c == p || strings.HasPrefix(c, p+"/") {
				return true
			}
		}
	}
	return false
}

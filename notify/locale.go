package notify

import (
	"regexp"

	"golang.org/x/text/language"
)

// Supported lists the locales with built-in text. The first is the default.
var Supported = []language.Tag{language.English, language.Chinese, language.French}

var (
	matcher    = language.NewMatcher(Supported)
	pathLocale = regexp.MustCompile(`^/([a-z]{2})(?:[-/]|$)`)
)

// ResolveLocale picks a supported locale from a URL path prefix, falling back
// to an Accept-Language value, then English.
func ResolveLocale(path, acceptLanguage string) language.Tag {
	if m := pathLocale.FindStringSubmatch(path); m != nil {
		if tag, err := language.Parse(m[1]); err == nil {
			for _, s := range Supported {
				if baseLanguage(s) == baseLanguage(tag) {
					return s
				}
			}
		}
	}
	if acceptLanguage != "" {
		tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
		if err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				return Supported[idx]
			}
		}
	}
	return language.English
}

func baseLanguage(t language.Tag) string {
	b, _ := t.Base()
	return b.String()
}

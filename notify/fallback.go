package notify

import (
	"errors"

	"golang.org/x/text/language"
)

// Translator looks up a message key in a locale.
type Translator interface {
	Translate(locale language.Tag, key string) (string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(locale language.Tag, key string) (string, error)

func (f TranslatorFunc) Translate(locale language.Tag, key string) (string, error) {
	return f(locale, key)
}

// Translation keys used by FallbackRenderer.
const (
	KeyFallbackTitle   = "errors.errorBoundary.title"
	KeyFallbackMessage = "errors.errorBoundary.message"
	KeyFallbackRetry   = "errors.errorBoundary.retry"
)

// FallbackView is what a failed section shows instead of its content.
type FallbackView struct {
	Title   string
	Message string
	Retry   string
	Detail  string
}

// FallbackRenderer renders the fallback shown when a UI section fails.
type FallbackRenderer struct {
	translator Translator
	// ShowDetail includes the error text in the view.
	showDetail bool
}

// NewFallbackRenderer builds a renderer. A nil translator uses the built-in
// text.
func NewFallbackRenderer(t Translator, showDetail bool) *FallbackRenderer {
	return &FallbackRenderer{translator: t, showDetail: showDetail}
}

var builtinFallback = map[string]FallbackView{
	"en": {Title: "Something went wrong", Message: "An error occurred while loading this section", Retry: "Retry"},
	"zh": {Title: "出现了问题", Message: "此部分加载时发生错误", Retry: "重试"},
	"fr": {Title: "Un problème est survenu", Message: "Une erreur est survenue lors du chargement de cette section", Retry: "Réessayer"},
}

// Render returns the fallback for err in locale. Translation failures fall
// back to the built-in text for the locale, then English.
func (r *FallbackRenderer) Render(err error, locale language.Tag) FallbackView {
	view, ok := builtinFallback[baseLanguage(locale)]
	if !ok {
		view = builtinFallback["en"]
	}

	if r.translator != nil {
		title, terr1 := r.translator.Translate(locale, KeyFallbackTitle)
		msg, terr2 := r.translator.Translate(locale, KeyFallbackMessage)
		retry, terr3 := r.translator.Translate(locale, KeyFallbackRetry)
		if errors.Join(terr1, terr2, terr3) == nil {
			view = FallbackView{Title: title, Message: msg, Retry: retry}
		}
	}

	if r.showDetail && err != nil {
		view.Detail = err.Error()
	}
	return view
}

package notify

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/text/language"
)

const defaultDuration = 3 * time.Second

// ErrUnknownKind is returned for a kind with no template and no custom text.
var ErrUnknownKind = errors.New("unknown notification kind")

// Template is the localized text of one kind, keyed by base language.
type Template struct {
	Messages map[string]string
	Duration time.Duration
	Level    Level
}

// Catalog maps kinds to templates.
type Catalog struct {
	mu        sync.RWMutex
	templates map[Kind]Template
}

// NewCatalog returns a catalog seeded with the built-in templates.
func NewCatalog() *Catalog {
	c := &Catalog{templates: make(map[Kind]Template, len(builtinTemplates))}
	for k, t := range builtinTemplates {
		c.templates[k] = t
	}
	return c
}

// Add registers or replaces the template of kind.
func (c *Catalog) Add(kind Kind, t Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[kind] = t
}

// Render resolves kind in locale. custom, when non-empty, replaces the
// template text.
func (c *Catalog) Render(kind Kind, locale language.Tag, custom string) (Notification, error) {
	c.mu.RLock()
	t, ok := c.templates[kind]
	c.mu.RUnlock()

	base := baseLanguage(locale)
	if !ok {
		if custom == "" {
			return Notification{}, ErrUnknownKind
		}
		return Notification{Kind: kind, Level: LevelDefault, Message: custom, Locale: base, Duration: defaultDuration}, nil
	}

	msg := custom
	if msg == "" {
		msg = t.Messages[base]
	}
	if msg == "" {
		msg = t.Messages["en"]
	}
	n := Notification{Kind: kind, Level: t.Level, Message: msg, Locale: base, Duration: t.Duration}
	if n.Level == "" {
		n.Level = LevelDefault
	}
	if n.Duration <= 0 {
		n.Duration = defaultDuration
	}
	return n, nil
}

var builtinTemplates = map[Kind]Template{
	AuthLogoutAnotherTab: {
		Messages: map[string]string{
			"zh": "您已在另一个窗口退出登录",
			"en": "You have been logged out in another window",
			"fr": "Vous avez été déconnecté dans une autre fenêtre",
		},
		Duration: 3 * time.Second,
		Level:    LevelInfo,
	},
	AuthSessionExpired: {
		Messages: map[string]string{
			"zh": "您的会话已过期，请重新登录",
			"en": "Your session has expired, please log in again",
			"fr": "Votre session a expiré, veuillez vous reconnecter",
		},
		Duration: 3 * time.Second,
		Level:    LevelError,
	},
	AuthLoginSuccess: {
		Messages: map[string]string{
			"zh": "登录成功",
			"en": "Login successful",
			"fr": "Connexion réussie",
		},
		Duration: 2 * time.Second,
		Level:    LevelSuccess,
	},
	AuthLoginError: {
		Messages: map[string]string{
			"zh": "登录失败",
			"en": "Login failed",
			"fr": "Échec de la connexion",
		},
		Duration: 3 * time.Second,
		Level:    LevelError,
	},
	AuthLogoutSuccess: {
		Messages: map[string]string{
			"zh": "已安全退出登录",
			"en": "Logged out successfully",
			"fr": "Déconnexion réussie",
		},
		Duration: 2 * time.Second,
		Level:    LevelSuccess,
	},
	AuthRequired: {
		Messages: map[string]string{
			"zh": "请先登录后再访问",
			"en": "Please log in to access this page",
			"fr": "Veuillez vous connecter pour accéder à cette page",
		},
		Duration: 3 * time.Second,
		Level:    LevelWarning,
	},
	GeneralSuccess: {
		Messages: map[string]string{"zh": "操作成功", "en": "Operation successful", "fr": "Opération réussie"},
		Duration: 2 * time.Second,
		Level:    LevelSuccess,
	},
	GeneralError: {
		Messages: map[string]string{"zh": "发生错误", "en": "An error occurred", "fr": "Une erreur est survenue"},
		Duration: 3 * time.Second,
		Level:    LevelError,
	},
	GeneralWarning: {
		Messages: map[string]string{"zh": "警告", "en": "Warning", "fr": "Avertissement"},
		Duration: 3 * time.Second,
		Level:    LevelWarning,
	},
	GeneralInfo: {
		Messages: map[string]string{"zh": "提示信息", "en": "Information", "fr": "Information"},
		Duration: 2500 * time.Millisecond,
		Level:    LevelInfo,
	},
}

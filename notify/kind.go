package notify

import "time"

// Kind identifies a notification message.
type Kind string

const (
	AuthLogoutAnotherTab Kind = "auth.logout_another_tab"
	AuthSessionExpired   Kind = "auth.session_expired"
	AuthLoginSuccess     Kind = "auth.login_success"
	AuthLoginError       Kind = "auth.login_error"
	AuthLogoutSuccess    Kind = "auth.logout_success"
	AuthRequired         Kind = "auth.required"

	GeneralSuccess Kind = "general.success"
	GeneralError   Kind = "general.error"
	GeneralWarning Kind = "general.warning"
	GeneralInfo    Kind = "general.info"
)

// Level is the visual severity of a notification.
type Level string

const (
	LevelDefault Level = "default"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Notification is a rendered message ready for display.
type Notification struct {
	Kind      Kind          `json:"kind"`
	Level     Level         `json:"level"`
	Message   string        `json:"message"`
	Locale    string        `json:"locale"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

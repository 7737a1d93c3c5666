package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies an authentication event on the wire.
type Type string

const (
	TypeLogin       Type = "AUTH_LOGIN"
	TypeLogout      Type = "AUTH_LOGOUT"
	TypeExpired     Type = "AUTH_EXPIRED"
	TypeRefresh     Type = "AUTH_REFRESH"
	TypeStateChange Type = "AUTH_STATE_CHANGE"
)

const localActionSuffix = "_local_action"

// Reasons used by the convenience senders.
const (
	ReasonLogin          = "login"
	ReasonLogout         = "logout"
	ReasonSessionExpired = "session_expired"
	ReasonTokenRefreshed = "token_refreshed"
)

// ErrUnknownType is returned when decoding an event with an unrecognised type.
var ErrUnknownType = errors.New("unknown auth event type")

// ErrMalformed is returned when an encoded event cannot be parsed.
var ErrMalformed = errors.New("malformed auth event")

// Snapshot is the session state an event implies for the receiver.
type Snapshot struct {
	IsAuthenticated bool
	UserID          string
}

// Event is a closed set of authentication events. The unexported method
// keeps the set closed so receivers can switch exhaustively over:
// Login, Logout, Expired, Refresh, StateChange.
type Event interface {
	Type() Type
	// State reports the session state the receiver should converge to.
	State() Snapshot
	event()
}

// Login announces that UserID signed in.
type Login struct {
	UserID string
}

// Logout announces a sign-out. Reason carries the cause and, for actions
// initiated by the user in the sending tab, the local-action suffix.
type Logout struct {
	Reason string
}

// Expired announces that the session expired or was rejected by the server.
type Expired struct{}

// Refresh announces that UserID's tokens were rotated.
type Refresh struct {
	UserID string
}

// StateChange carries a complete state replacement.
type StateChange struct {
	IsAuthenticated bool
	UserID          string
	Reason          string
}

func (Login) Type() Type       { return TypeLogin }
func (Logout) Type() Type      { return TypeLogout }
func (Expired) Type() Type     { return TypeExpired }
func (Refresh) Type() Type     { return TypeRefresh }
func (StateChange) Type() Type { return TypeStateChange }

func (e Login) State() Snapshot   { return Snapshot{IsAuthenticated: e.UserID != "", UserID: e.UserID} }
func (Logout) State() Snapshot    { return Snapshot{} }
func (Expired) State() Snapshot   { return Snapshot{} }
func (e Refresh) State() Snapshot { return Snapshot{IsAuthenticated: e.UserID != "", UserID: e.UserID} }

func (e StateChange) State() Snapshot {
	if !e.IsAuthenticated || e.UserID == "" {
		return Snapshot{}
	}
	return Snapshot{IsAuthenticated: true, UserID: e.UserID}
}

func (Login) event()       {}
func (Logout) event()      {}
func (Expired) event()     {}
func (Refresh) event()     {}
func (StateChange) event() {}

// Message is an event as delivered to handlers.
type Message struct {
	Event Event
	// Origin is the tab id of the sender.
	Origin string
	// ID uniquely identifies the published message.
	ID string
	// Timestamp is the send time. Diagnostic only; not an ordering key.
	Timestamp time.Time
}

// LocalAction tags reason as initiated by the user in the sending tab.
func LocalAction(reason string) string {
	if IsLocalAction(reason) {
		return reason
	}
	return reason + localActionSuffix
}

// IsLocalAction reports whether reason carries the local-action suffix.
func IsLocalAction(reason string) bool {
	return strings.HasSuffix(reason, localActionSuffix)
}

// BaseReason strips the local-action suffix.
func BaseReason(reason string) string {
	return strings.TrimSuffix(reason, localActionSuffix)
}

type wireEvent struct {
	Type            Type    `json:"type"`
	IsAuthenticated bool    `json:"isAuthenticated"`
	UserID          *string `json:"userId"`
	Reason          string  `json:"reason,omitempty"`
	Timestamp       int64   `json:"timestamp"`
	Origin          string  `json:"origin,omitempty"`
	ID              string  `json:"id,omitempty"`
}

// Encode renders m as the JSON wire envelope.
func Encode(m Message) ([]byte, error) {
	if m.Event == nil {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	w := wireEvent{
		Type:      m.Event.Type(),
		Timestamp: m.Timestamp.UnixMilli(),
		Origin:    m.Origin,
		ID:        m.ID,
	}
	state := m.Event.State()
	w.IsAuthenticated = state.IsAuthenticated
	if state.UserID != "" {
		uid := state.UserID
		w.UserID = &uid
	}

	switch e := m.Event.(type) {
	case Login:
		w.Reason = ReasonLogin
	case Logout:
		w.Reason = e.Reason
	case Expired:
		w.Reason = ReasonSessionExpired
	case Refresh:
		w.Reason = ReasonTokenRefreshed
	case StateChange:
		w.Reason = e.Reason
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m.Event)
	}

	return json.Marshal(w)
}

// Decode parses a JSON wire envelope.
func Decode(data []byte) (Message, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var uid string
	if w.UserID != nil {
		uid = *w.UserID
	}

	var ev Event
	switch w.Type {
	case TypeLogin:
		if uid == "" {
			return Message{}, fmt.Errorf("%w: login without user id", ErrMalformed)
		}
		ev = Login{UserID: uid}
	case TypeLogout:
		ev = Logout{Reason: w.Reason}
	case TypeExpired:
		ev = Expired{}
	case TypeRefresh:
		ev = Refresh{UserID: uid}
	case TypeStateChange:
		ev = StateChange{IsAuthenticated: w.IsAuthenticated && uid != "", UserID: uid, Reason: w.Reason}
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}

	return Message{
		Event:     ev,
		Origin:    w.Origin,
		ID:        w.ID,
		Timestamp: time.UnixMilli(w.Timestamp),
	}, nil
}

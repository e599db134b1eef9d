package audit

import "time"

// Event is an immutable, append-only record of an operator action on the dashboard API.
//
// Invariants:
// - Events are never updated or deleted.
// - Type and ActorUserID (or ActorEmail for failed logins) identify what happened and who did it.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorEmail  string `json:"actor_email,omitempty" db:"actor_email"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers, depending on the event type.
	OrderID   string `json:"order_id,omitempty" db:"order_id"`
	SessionID string `json:"call_session_id,omitempty" db:"call_session_id"`

	Message   string    `json:"message,omitempty" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLogin        EventType = "login"
	EventTypeLoginFailed  EventType = "login_failed"
	EventTypeOrderCreated EventType = "order_created"
)

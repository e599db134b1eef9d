package calls

import (
	"errors"
	"strings"
	"time"

	"receptionist/internal/intent"
)

// ErrNotFound is returned by repositories when a caller, session or record does not exist.
var ErrNotFound = errors.New("calls: not found")

// CallID is the telephony provider's call identifier (Twilio CallSid).
// It is the only correlation key between webhook signals and a Session.
type CallID string

func (id CallID) String() string { return string(id) }

// Empty reports whether the identifier is missing or blank.
func (id CallID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// SessionID is the internal primary key of a Session.
type SessionID string

func (id SessionID) String() string { return string(id) }

// Caller is identified by phone number.
//
// Created on the first inbound call from an unseen number and never deleted.
// Only enrichment (name/email/company) mutates it; the dialogue never does.
type Caller struct {
	ID          string `json:"id" db:"id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	FirstName string `json:"first_name,omitempty" db:"first_name"`
	LastName  string `json:"last_name,omitempty" db:"last_name"`
	Email     string `json:"email,omitempty" db:"email"`
	Company   string `json:"company,omitempty" db:"company"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName is first + last name, trimmed. Empty when neither is known.
func (c Caller) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// CallStatus is the session lifecycle state.
//
//	RINGING -> IN_PROGRESS -> {COMPLETED | FAILED | BUSY | NO_ANSWER}
type CallStatus string

const (
	CallStatusRinging    CallStatus = "RINGING"
	CallStatusInProgress CallStatus = "IN_PROGRESS"
	CallStatusCompleted  CallStatus = "COMPLETED"
	CallStatusFailed     CallStatus = "FAILED"
	CallStatusBusy       CallStatus = "BUSY"
	CallStatusNoAnswer   CallStatus = "NO_ANSWER"
)

// Terminal reports whether no further transitions are expected from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}

// Session is one telephone call.
//
// Intent is empty until the first turn is classified; Resolved always equals
// Intent.Concrete() after a turn update.
type Session struct {
	ID          SessionID `json:"id" db:"id"`
	CallID      CallID    `json:"call_sid" db:"call_sid"`
	CallerID    string    `json:"caller_id" db:"caller_id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`

	Direction Direction  `json:"direction" db:"direction"`
	Status    CallStatus `json:"status" db:"status"`

	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is reported by the provider on completion.
	DurationSeconds *int `json:"duration,omitempty" db:"duration"`

	Intent   intent.Label `json:"intent,omitempty" db:"intent"`
	Resolved bool         `json:"resolved" db:"resolved"`
}

// Classified reports whether a turn has assigned an intent.
func (s Session) Classified() bool { return s.Intent != "" }

// Duration returns the reported duration in seconds, or 0 when absent.
func (s Session) Duration() int {
	if s.DurationSeconds == nil {
		return 0
	}
	return *s.DurationSeconds
}

type Role string

const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Message is one immutable transcript entry.
// Within a session, messages are strictly timestamp-ordered and the first is a SYSTEM message.
type Message struct {
	ID        string    `json:"id" db:"id"`
	SessionID SessionID `json:"call_session_id" db:"call_session_id"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Metrics is the append-only summary written once a call completes.
// Derived data; the message log stays the source of truth.
type Metrics struct {
	ID                string    `json:"id" db:"id"`
	SessionID         SessionID `json:"call_session_id" db:"call_session_id"`
	TotalInteractions int       `json:"total_interactions" db:"total_interactions"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Appointment is a scheduling record. Only counted by reporting.
type Appointment struct {
	ID           string     `json:"id" db:"id"`
	CallerID     string     `json:"caller_id,omitempty" db:"caller_id"`
	SessionID    *SessionID `json:"call_session_id,omitempty" db:"call_session_id"`
	Purpose      string     `json:"purpose,omitempty" db:"purpose"`
	ScheduledFor time.Time  `json:"scheduled_for" db:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// ChatSession is a web chat conversation. Only counted by reporting.
type ChatSession struct {
	ID        string    `json:"id" db:"id"`
	CallerID  string    `json:"caller_id,omitempty" db:"caller_id"`
	StartTime time.Time `json:"start_time" db:"start_time"`
}

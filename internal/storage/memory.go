package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"receptionist/internal/audit"
	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/orders"
)

// MemoryStore is an in-memory implementation of every repository the core consumes.
// Used by tests and by local runs without Postgres.
type MemoryStore struct {
	mu sync.Mutex

	callers      map[string]calls.Caller // by id
	callerPhones map[string]string       // phone -> caller id
	sessions     map[calls.SessionID]calls.Session
	sessionCalls map[calls.CallID]calls.SessionID
	messages     map[calls.SessionID][]calls.Message
	metrics      []calls.Metrics
	orders       []orders.Order
	appointments []calls.Appointment
	chats        []calls.ChatSession
	auditEvents  []audit.Event

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		callers:      map[string]calls.Caller{},
		callerPhones: map[string]string{},
		sessions:     map[calls.SessionID]calls.Session{},
		sessionCalls: map[calls.CallID]calls.SessionID{},
		messages:     map[calls.SessionID][]calls.Message{},
		now:          time.Now,
	}
}

func (m *MemoryStore) FindOrCreateCaller(_ context.Context, phone string) (calls.Caller, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.callerPhones[phone]; ok {
		return m.callers[id], false, nil
	}
	now := m.now().UTC()
	c := calls.Caller{ID: uuid.NewString(), PhoneNumber: phone, CreatedAt: now, UpdatedAt: now}
	m.callers[c.ID] = c
	m.callerPhones[phone] = c.ID
	return c, true, nil
}

// PutCaller inserts or replaces a caller (enrichment and seeding).
func (m *MemoryStore) PutCaller(c calls.Caller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.callers[c.ID]; ok && old.PhoneNumber != c.PhoneNumber {
		delete(m.callerPhones, old.PhoneNumber)
	}
	m.callers[c.ID] = c
	m.callerPhones[c.PhoneNumber] = c.ID
}

func (m *MemoryStore) CreateSession(_ context.Context, s calls.Session) (calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessionCalls[s.CallID]; ok {
		return calls.Session{}, ErrDuplicate
	}
	if _, ok := m.sessions[s.ID]; ok {
		return calls.Session{}, ErrDuplicate
	}
	m.sessions[s.ID] = s
	m.sessionCalls[s.CallID] = s.ID
	return s, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id calls.SessionID) (calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return calls.Session{}, calls.ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) GetSessionByCallID(_ context.Context, id calls.CallID) (calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.sessionCalls[id]
	if !ok {
		return calls.Session{}, calls.ErrNotFound
	}
	return m.sessions[sid], nil
}

// AppendMessage keeps each transcript strictly increasing in time: a message stamped
// at or before its predecessor is moved one microsecond past it.
func (m *MemoryStore) AppendMessage(_ context.Context, msg calls.Message) (calls.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return calls.Message{}, calls.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now().UTC()
	}
	log := m.messages[msg.SessionID]
	var last time.Time
	if n := len(log); n > 0 {
		last = log[n-1].Timestamp
	}
	msg.Timestamp = nextTimestamp(msg.Timestamp, last, len(log) > 0)
	m.messages[msg.SessionID] = append(log, msg)
	return msg, nil
}

func (m *MemoryStore) UpdateSessionIntent(_ context.Context, id calls.SessionID, label intent.Label, resolved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return calls.ErrNotFound
	}
	s.Intent = label
	s.Resolved = resolved
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) UpdateSessionStatus(_ context.Context, id calls.SessionID, status calls.CallStatus, endTime *time.Time, durationSeconds *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return calls.ErrNotFound
	}
	s.Status = status
	if endTime != nil {
		t := *endTime
		s.EndTime = &t
	}
	if durationSeconds != nil {
		d := *durationSeconds
		s.DurationSeconds = &d
	}
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) CountMessages(_ context.Context, id calls.SessionID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[id]), nil
}

func (m *MemoryStore) CreateCallMetrics(_ context.Context, cm calls.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[cm.SessionID]; !ok {
		return calls.ErrNotFound
	}
	m.metrics = append(m.metrics, cm)
	return nil
}

// CallMetrics returns the metrics records written for a session.
func (m *MemoryStore) CallMetrics(id calls.SessionID) []calls.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calls.Metrics
	for _, cm := range m.metrics {
		if cm.SessionID == id {
			out = append(out, cm)
		}
	}
	return out
}

// Messages returns a copy of a session's transcript.
func (m *MemoryStore) Messages(id calls.SessionID) []calls.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]calls.Message(nil), m.messages[id]...)
}

// Callers returns every stored caller.
func (m *MemoryStore) Callers() []calls.Caller {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Caller, 0, len(m.callers))
	for _, c := range m.callers {
		out = append(out, c)
	}
	return out
}

func (m *MemoryStore) RecentMessages(_ context.Context, id calls.SessionID, limit int) ([]calls.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calls.Message
	for _, msg := range m.messages[id] {
		if msg.Role != calls.RoleSystem {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o orders.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.ID == o.ID {
			return ErrDuplicate
		}
	}
	o.Items = append([]orders.Item(nil), o.Items...)
	m.orders = append(m.orders, o)
	return nil
}

func (m *MemoryStore) AppendAuditEvent(_ context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditEvents = append(m.auditEvents, e)
	return nil
}

// AuditEvents returns the recorded audit trail in append order.
func (m *MemoryStore) AuditEvents() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Event(nil), m.auditEvents...)
}

// AddAppointment and AddChatSession seed the count-only sources.
func (m *MemoryStore) AddAppointment(a calls.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments = append(m.appointments, a)
}

func (m *MemoryStore) AddChatSession(c calls.ChatSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, c)
}

func inRange(t, from, to time.Time) bool { return !t.Before(from) && t.Before(to) }

func (m *MemoryStore) ListSessions(_ context.Context, from, to time.Time) ([]calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Session, 0)
	for _, s := range m.sessions {
		if inRange(s.StartTime, from, to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, from, to time.Time) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Order, 0)
	for _, o := range m.orders {
		if inRange(o.CreatedAt, from, to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListOrdersForSessions(_ context.Context, ids []calls.SessionID) ([]orders.Order, error) {
	want := make(map[calls.SessionID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Order, 0)
	for _, o := range m.orders {
		if o.SessionID == nil {
			continue
		}
		if _, ok := want[*o.SessionID]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountChatSessions(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.chats {
		if inRange(c.StartTime, from, to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountAppointments(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appointments {
		if inRange(a.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetCallers(_ context.Context, ids []string) (map[string]calls.Caller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]calls.Caller, len(ids))
	for _, id := range ids {
		if c, ok := m.callers[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, ids []calls.SessionID) (map[calls.SessionID][]calls.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[calls.SessionID][]calls.Message, len(ids))
	for _, id := range ids {
		if msgs := m.messages[id]; len(msgs) > 0 {
			out[id] = append([]calls.Message(nil), msgs...)
		}
	}
	return out, nil
}

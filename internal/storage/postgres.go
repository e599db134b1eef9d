package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"receptionist/internal/audit"
	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/orders"
	"receptionist/pkg/utils"
)

// NOTE: PostgresStore assumes the following tables exist (migrations are managed outside this repo):
//
//	callers(id uuid pk, phone_number text unique, first_name, last_name, email, company text null,
//	        created_at, updated_at timestamptz)
//	call_sessions(id uuid pk, call_sid text unique, caller_id uuid fk, phone_number text,
//	        direction text, status text, start_time timestamptz, end_time timestamptz null,
//	        duration int null, intent text null, resolved bool)
//	call_messages(id uuid pk, call_session_id uuid fk on delete cascade, role text, content text,
//	        timestamp timestamptz)
//	call_metrics(id uuid pk, call_session_id uuid fk, total_interactions int, created_at timestamptz)
//	orders(id uuid pk, call_session_id uuid null fk, caller_id uuid fk, items jsonb,
//	        subtotal, tax, delivery_fee, discount, total numeric(12,2), status text, order_type text,
//	        guest_count int null, time_to_order int null, created_at timestamptz)
//	appointments(id uuid pk, caller_id uuid null, call_session_id uuid null, purpose text,
//	        scheduled_for timestamptz, created_at timestamptz)
//	chat_sessions(id uuid pk, caller_id uuid null, start_time timestamptz)
//	audit_events(id uuid pk, type text, actor_user_id, actor_email, actor_role, ip_address text null,
//	        order_id uuid null, call_session_id uuid null, message text null, created_at timestamptz)
//
// call_messages should be indexed on (call_session_id, timestamp).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const callerColumns = `id, phone_number, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''), COALESCE(company, ''), created_at, updated_at`

func scanCaller(row interface{ Scan(...any) error }) (calls.Caller, error) {
	var c calls.Caller
	err := row.Scan(&c.ID, &c.PhoneNumber, &c.FirstName, &c.LastName, &c.Email, &c.Company, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *PostgresStore) FindOrCreateCaller(ctx context.Context, phone string) (calls.Caller, bool, error) {
	q := `SELECT ` + callerColumns + ` FROM callers WHERE phone_number = $1`
	c, err := scanCaller(p.db.QueryRowContext(ctx, q, phone))
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return calls.Caller{}, false, err
	}

	const ins = `
INSERT INTO callers (id, phone_number, created_at, updated_at)
VALUES ($1, $2, $3, $3)
`
	now := time.Now().UTC()
	c = calls.Caller{ID: uuid.NewString(), PhoneNumber: phone, CreatedAt: now, UpdatedAt: now}
	if _, err := p.db.ExecContext(ctx, ins, c.ID, c.PhoneNumber, now); err != nil {
		if utils.IsUniqueViolation(err) {
			// Lost the race against a concurrent first call from the same number.
			c, err := scanCaller(p.db.QueryRowContext(ctx, q, phone))
			return c, false, err
		}
		return calls.Caller{}, false, err
	}
	return c, true, nil
}

const sessionColumns = `id, call_sid, caller_id, phone_number, direction, status, start_time, end_time, duration, intent, resolved`

func scanSession(row interface{ Scan(...any) error }) (calls.Session, error) {
	var (
		s        calls.Session
		end      sql.NullTime
		duration sql.NullInt64
		label    sql.NullString
	)
	if err := row.Scan(&s.ID, &s.CallID, &s.CallerID, &s.PhoneNumber, &s.Direction, &s.Status, &s.StartTime, &end, &duration, &label, &s.Resolved); err != nil {
		return calls.Session{}, err
	}
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationSeconds = &d
	}
	if label.Valid && label.String != "" {
		s.Intent = intent.Parse(label.String)
	}
	return s, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s calls.Session) (calls.Session, error) {
	const q = `
INSERT INTO call_sessions (id, call_sid, caller_id, phone_number, direction, status, start_time, resolved)
VALUES ($1, $2, $3, $4, $5, $6, $7, false)
`
	if _, err := p.db.ExecContext(ctx, q, s.ID, s.CallID, s.CallerID, s.PhoneNumber, s.Direction, s.Status, s.StartTime); err != nil {
		if utils.IsUniqueViolation(err) {
			return calls.Session{}, fmt.Errorf("%w: call session %s", ErrDuplicate, s.CallID)
		}
		return calls.Session{}, err
	}
	return s, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id calls.SessionID) (calls.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Session{}, calls.ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) GetSessionByCallID(ctx context.Context, id calls.CallID) (calls.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_sid = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Session{}, calls.ErrNotFound
	}
	return s, err
}

// AppendMessage locks the session row so concurrent writers cannot interleave timestamps.
func (p *PostgresStore) AppendMessage(ctx context.Context, m calls.Message) (calls.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM call_sessions WHERE id = $1 FOR UPDATE`, m.SessionID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return calls.ErrNotFound
			}
			return err
		}

		var last sql.NullTime
		if err := tx.QueryRowContext(ctx, `SELECT max(timestamp) FROM call_messages WHERE call_session_id = $1`, m.SessionID).Scan(&last); err != nil {
			return err
		}
		m.Timestamp = nextTimestamp(m.Timestamp, last.Time, last.Valid)

		const ins = `
INSERT INTO call_messages (id, call_session_id, role, content, timestamp)
VALUES ($1, $2, $3, $4, $5)
`
		_, err := tx.ExecContext(ctx, ins, m.ID, m.SessionID, m.Role, m.Content, m.Timestamp)
		return err
	})
	if err != nil {
		return calls.Message{}, err
	}
	return m, nil
}

func (p *PostgresStore) UpdateSessionIntent(ctx context.Context, id calls.SessionID, label intent.Label, resolved bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE call_sessions SET intent = $2, resolved = $3 WHERE id = $1`, id, label.String(), resolved)
	return affectedOne(res, err)
}

func (p *PostgresStore) UpdateSessionStatus(ctx context.Context, id calls.SessionID, status calls.CallStatus, endTime *time.Time, durationSeconds *int) error {
	const q = `
UPDATE call_sessions
SET status = $2,
    end_time = COALESCE($3, end_time),
    duration = COALESCE($4, duration)
WHERE id = $1
`
	var end sql.NullTime
	if endTime != nil {
		end = sql.NullTime{Time: *endTime, Valid: true}
	}
	var dur sql.NullInt64
	if durationSeconds != nil {
		dur = sql.NullInt64{Int64: int64(*durationSeconds), Valid: true}
	}
	res, err := p.db.ExecContext(ctx, q, id, status, end, dur)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return calls.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CountMessages(ctx context.Context, id calls.SessionID) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM call_messages WHERE call_session_id = $1`, id).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateCallMetrics(ctx context.Context, m calls.Metrics) error {
	const q = `
INSERT INTO call_metrics (id, call_session_id, total_interactions, created_at)
VALUES ($1, $2, $3, $4)
`
	_, err := p.db.ExecContext(ctx, q, m.ID, m.SessionID, m.TotalInteractions, m.CreatedAt)
	return err
}

func (p *PostgresStore) RecentMessages(ctx context.Context, id calls.SessionID, limit int) ([]calls.Message, error) {
	const q = `
SELECT id, call_session_id, role, content, timestamp FROM (
  SELECT id, call_session_id, role, content, timestamp
  FROM call_messages
  WHERE call_session_id = $1 AND role <> 'SYSTEM'
  ORDER BY timestamp DESC
  LIMIT $2
) recent
ORDER BY timestamp ASC
`
	rows, err := p.db.QueryContext(ctx, q, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Message
	for rows.Next() {
		var m calls.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o orders.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	const q = `
INSERT INTO orders (id, call_session_id, caller_id, items, subtotal, tax, delivery_fee, discount, total,
                    status, order_type, guest_count, time_to_order, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`
	_, err = p.db.ExecContext(ctx, q,
		o.ID, nullSessionID(o.SessionID), o.CallerID, items,
		o.Subtotal, o.Tax, o.DeliveryFee, o.Discount, o.Total,
		o.Status, o.Type, nullInt(o.GuestCount), nullInt(o.TimeToOrderSeconds), o.CreatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: order %s", ErrDuplicate, o.ID)
	}
	return err
}

func (p *PostgresStore) AppendAuditEvent(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_email, actor_role, ip_address,
                          order_id, call_session_id, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := p.db.ExecContext(ctx, q,
		e.ID, e.Type, nullString(e.ActorUserID), nullString(e.ActorEmail), nullString(e.ActorRole),
		nullString(e.IPAddress), nullString(e.OrderID), nullString(e.SessionID), nullString(e.Message), e.CreatedAt,
	)
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullSessionID(id *calls.SessionID) sql.NullString {
	if id == nil || *id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

const orderColumns = `id, call_session_id, caller_id, items, subtotal, tax, delivery_fee, discount, total, status, order_type, guest_count, time_to_order, created_at`

func scanOrders(rows *sql.Rows) ([]orders.Order, error) {
	defer rows.Close()
	out := make([]orders.Order, 0)
	for rows.Next() {
		var (
			o       orders.Order
			session sql.NullString
			items   []byte
			guests  sql.NullInt64
			toOrder sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &session, &o.CallerID, &items, &o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Discount, &o.Total,
			&o.Status, &o.Type, &guests, &toOrder, &o.CreatedAt); err != nil {
			return nil, err
		}
		if session.Valid {
			sid := calls.SessionID(session.String)
			o.SessionID = &sid
		}
		if len(items) > 0 {
			if err := json.Unmarshal(items, &o.Items); err != nil {
				return nil, fmt.Errorf("decode order items %s: %w", o.ID, err)
			}
		}
		if guests.Valid {
			g := int(guests.Int64)
			o.GuestCount = &g
		}
		if toOrder.Valid {
			t := int(toOrder.Int64)
			o.TimeToOrderSeconds = &t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListSessions(ctx context.Context, from, to time.Time) ([]calls.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE start_time >= $1 AND start_time < $2 ORDER BY start_time`
	rows, err := p.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]calls.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE created_at >= $1 AND created_at < $2`
	rows, err := p.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (p *PostgresStore) ListOrdersForSessions(ctx context.Context, ids []calls.SessionID) ([]orders.Order, error) {
	if len(ids) == 0 {
		return []orders.Order{}, nil
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE call_session_id = ANY($1)`
	rows, err := p.db.QueryContext(ctx, q, sessionIDStrings(ids))
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (p *PostgresStore) CountChatSessions(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM chat_sessions WHERE start_time >= $1 AND start_time < $2`, from, to).Scan(&n)
	return n, err
}

func (p *PostgresStore) CountAppointments(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM appointments WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}

func (p *PostgresStore) GetCallers(ctx context.Context, ids []string) (map[string]calls.Caller, error) {
	out := make(map[string]calls.Caller, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+callerColumns+` FROM callers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCaller(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListMessages(ctx context.Context, ids []calls.SessionID) (map[calls.SessionID][]calls.Message, error) {
	out := make(map[calls.SessionID][]calls.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
SELECT id, call_session_id, role, content, timestamp
FROM call_messages
WHERE call_session_id = ANY($1)
ORDER BY call_session_id, timestamp
`
	rows, err := p.db.QueryContext(ctx, q, sessionIDStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m calls.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out[m.SessionID] = append(out[m.SessionID], m)
	}
	return out, rows.Err()
}

func sessionIDStrings(ids []calls.SessionID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

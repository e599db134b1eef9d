package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"receptionist/internal/assistant"
	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/telemetry"
	"receptionist/pkg/logger"
)

// Spoken lines owned by the orchestrator.
const (
	Greeting              = "Hello and welcome to P.F. Chang's corporate headquarters in Scottsdale. How may I help you today?"
	TransferReply         = "I'll transfer you now. Please hold."
	SessionNotFoundReply  = "I apologize, but I cannot find your call session. Please try calling again."
	IncomingFailureReply  = "We're sorry, but we're experiencing technical difficulties. Please try again later."
	TurnFailureReply      = "I apologize, but I'm experiencing technical difficulties. Please try calling again later."
	systemMessageTemplate = "Call initiated from %s"
)

var closingPhrases = []string{"goodbye", "have a great day", "thank you for calling"}

// Store is the persistence the orchestrator needs.
type Store interface {
	// FindOrCreateCaller matches phone exactly; created reports whether a new caller was inserted.
	FindOrCreateCaller(ctx context.Context, phone string) (caller calls.Caller, created bool, err error)
	CreateSession(ctx context.Context, s calls.Session) (calls.Session, error)
	GetSessionByCallID(ctx context.Context, id calls.CallID) (calls.Session, error)
	// AppendMessage stores m, moving its timestamp forward when needed to keep the transcript strictly ordered.
	AppendMessage(ctx context.Context, m calls.Message) (calls.Message, error)
	UpdateSessionIntent(ctx context.Context, id calls.SessionID, label intent.Label, resolved bool) error
	UpdateSessionStatus(ctx context.Context, id calls.SessionID, status calls.CallStatus, endTime *time.Time, durationSeconds *int) error
	CountMessages(ctx context.Context, id calls.SessionID) (int, error)
	CreateCallMetrics(ctx context.Context, m calls.Metrics) error
}

// Replier produces the assistant reply for a caller utterance.
type Replier interface {
	Generate(ctx context.Context, utterance string, sessionID calls.SessionID) assistant.Reply
}

// Action is the provider-agnostic next step for the call.
type Action string

const (
	// ActionGather speaks Say and waits for the next caller utterance.
	ActionGather Action = "gather"
	// ActionTransfer speaks Say and hands the call to a person.
	ActionTransfer Action = "transfer"
	// ActionHangup speaks Say and ends the call.
	ActionHangup Action = "hangup"
)

// Response must contain only what the transport needs to execute the step.
type Response struct {
	Action Action `json:"action"`
	Say    string `json:"say"`

	// Reason is for logs and metrics.
	Reason string `json:"reason,omitempty"`

	Intent intent.Label `json:"intent,omitempty"`
}

func (r Response) Terminal() bool { return r.Action != ActionGather }

type IncomingCall struct {
	CallID calls.CallID
	From   string
	To     string
}

type Turn struct {
	CallID calls.CallID
	Speech string
	Digits string
}

// Utterance is the recognized speech, or the digits when no speech was recognized.
func (t Turn) Utterance() string {
	if s := strings.TrimSpace(t.Speech); s != "" {
		return s
	}
	return strings.TrimSpace(t.Digits)
}

type StatusUpdate struct {
	CallID         calls.CallID
	ProviderStatus string
	// DurationSeconds is the provider-reported duration; nil when absent or unparseable.
	DurationSeconds *int
}

type StatusResult struct {
	Found           bool             `json:"found"`
	Status          calls.CallStatus `json:"status,omitempty"`
	MetricsRecorded bool             `json:"metrics_recorded"`
}

var errUnknownCall = errors.New("dialogue: call session not found")

// Orchestrator drives call sessions through their lifecycle.
//
// Every entry point is safe to call from a webhook handler: failures are logged
// and translated into a spoken instruction instead of being returned.
type Orchestrator struct {
	store   Store
	replier Replier
	locker  Locker
	log     *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(store Store, replier Replier, locker Locker, log *slog.Logger) *Orchestrator {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		replier: replier,
		locker:  locker,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithClock overrides the wall clock (tests).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// OnIncoming answers a new call: caller lookup, session creation, SYSTEM message, greeting.
// A repeated incoming signal for a known call re-greets without creating anything.
func (o *Orchestrator) OnIncoming(ctx context.Context, in IncomingCall) (resp Response) {
	log := o.logger(ctx).With("call_sid", in.CallID.String(), "from", in.From)
	defer o.recoverTo(&resp, log, "incoming", IncomingFailureReply)

	if in.CallID.Empty() {
		log.Error("incoming call without call sid")
		return o.finish(Response{Action: ActionHangup, Say: IncomingFailureReply, Reason: "missing_call_id"})
	}

	sess, err := o.startSession(ctx, in, log)
	if err != nil {
		log.Error("failed to start call session", "err", err)
		return o.finish(Response{Action: ActionHangup, Say: IncomingFailureReply, Reason: "internal_error"})
	}

	log.Info("call session started", "session_id", sess.ID.String())
	return o.finish(Response{Action: ActionGather, Say: Greeting, Reason: "greeting"})
}

func (o *Orchestrator) startSession(ctx context.Context, in IncomingCall, log *slog.Logger) (calls.Session, error) {
	unlock, err := o.locker.Lock(ctx, stateKey(in.CallID))
	if err != nil {
		return calls.Session{}, err
	}
	defer unlock()

	existing, err := o.store.GetSessionByCallID(ctx, in.CallID)
	switch {
	case err == nil:
		log.Warn("duplicate incoming signal, reusing session", "session_id", existing.ID.String())
		return existing, nil
	case !errors.Is(err, calls.ErrNotFound):
		return calls.Session{}, fmt.Errorf("lookup session: %w", err)
	}

	caller, created, err := o.store.FindOrCreateCaller(ctx, in.From)
	if err != nil {
		return calls.Session{}, fmt.Errorf("find or create caller: %w", err)
	}
	if created {
		log.Info("created caller", "caller_id", caller.ID)
	}

	now := o.now().UTC()
	sess, err := o.store.CreateSession(ctx, calls.Session{
		ID:          calls.SessionID(o.newID()),
		CallID:      in.CallID,
		CallerID:    caller.ID,
		PhoneNumber: in.From,
		Direction:   calls.DirectionInbound,
		Status:      calls.CallStatusInProgress,
		StartTime:   now,
	})
	if err != nil {
		return calls.Session{}, fmt.Errorf("create session: %w", err)
	}

	if _, err := o.store.AppendMessage(ctx, calls.Message{
		ID:        o.newID(),
		SessionID: sess.ID,
		Role:      calls.RoleSystem,
		Content:   fmt.Sprintf(systemMessageTemplate, in.From),
		Timestamp: now,
	}); err != nil {
		return calls.Session{}, fmt.Errorf("append system message: %w", err)
	}
	return sess, nil
}

// OnTurn handles one caller utterance and decides whether the call continues.
func (o *Orchestrator) OnTurn(ctx context.Context, t Turn) (resp Response) {
	log := o.logger(ctx).With("call_sid", t.CallID.String())
	defer o.recoverTo(&resp, log, "gather", TurnFailureReply)

	if t.CallID.Empty() {
		log.Error("turn without call sid")
		return o.finish(Response{Action: ActionHangup, Say: SessionNotFoundReply, Reason: "session_not_found"})
	}

	resp, err := o.handleTurn(ctx, t, log)
	switch {
	case errors.Is(err, errUnknownCall):
		log.Error("call session not found for turn")
		return o.finish(Response{Action: ActionHangup, Say: SessionNotFoundReply, Reason: "session_not_found"})
	case err != nil:
		log.Error("turn failed", "err", err)
		return o.finish(Response{Action: ActionHangup, Say: TurnFailureReply, Reason: "internal_error"})
	}
	return o.finish(resp)
}

// Lock keys per call. The turn key serializes caller turns end to end; the state key
// guards short persistence sections and is never held across a completion.
func turnKey(id calls.CallID) string { return "turn:" + id.String() }
func stateKey(id calls.CallID) string { return "state:" + id.String() }

// withState runs fn while holding the call's state lock.
func (o *Orchestrator) withState(ctx context.Context, id calls.CallID, fn func() error) error {
	unlock, err := o.locker.Lock(ctx, stateKey(id))
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (o *Orchestrator) handleTurn(ctx context.Context, t Turn, log *slog.Logger) (Response, error) {
	unlock, err := o.locker.Lock(ctx, turnKey(t.CallID))
	if err != nil {
		return Response{}, err
	}
	defer unlock()

	utterance := t.Utterance()
	var sess calls.Session
	err = o.withState(ctx, t.CallID, func() error {
		var err error
		sess, err = o.store.GetSessionByCallID(ctx, t.CallID)
		if errors.Is(err, calls.ErrNotFound) {
			return errUnknownCall
		}
		if err != nil {
			return fmt.Errorf("lookup session: %w", err)
		}
		if _, err := o.store.AppendMessage(ctx, calls.Message{
			ID:        o.newID(),
			SessionID: sess.ID,
			Role:      calls.RoleUser,
			Content:   utterance,
			Timestamp: o.now().UTC(),
		}); err != nil {
			return fmt.Errorf("append user message: %w", err)
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	log = log.With("session_id", sess.ID.String())
	log.Info("caller turn", "utterance", utterance)

	reply := o.replier.Generate(ctx, utterance, sess.ID)
	label := reply.Intent
	if !label.Valid() {
		label = intent.LabelOther
	}

	err = o.withState(ctx, t.CallID, func() error {
		if _, err := o.store.AppendMessage(ctx, calls.Message{
			ID:        o.newID(),
			SessionID: sess.ID,
			Role:      calls.RoleAssistant,
			Content:   reply.Text,
			Timestamp: o.now().UTC(),
		}); err != nil {
			return fmt.Errorf("append assistant message: %w", err)
		}
		if err := o.store.UpdateSessionIntent(ctx, sess.ID, label, label.Concrete()); err != nil {
			return fmt.Errorf("update session intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	telemetry.TurnsByIntent.WithLabelValues(label.String()).Inc()
	log.Info("assistant reply", "intent", label.String(), "reply", reply.Text, "fallback", reply.Fallback)

	switch {
	case reply.ShouldTransfer:
		return Response{Action: ActionTransfer, Say: TransferReply, Reason: "transfer", Intent: label}, nil
	case IsClosing(reply.Text):
		return Response{Action: ActionHangup, Say: reply.Text, Reason: "closing", Intent: label}, nil
	default:
		return Response{Action: ActionGather, Say: reply.Text, Reason: "reply", Intent: label}, nil
	}
}

// OnStatus records an asynchronous provider status callback.
// Unknown calls are a no-op; only persistence failures are returned.
func (o *Orchestrator) OnStatus(ctx context.Context, u StatusUpdate) (res StatusResult, err error) {
	log := o.logger(ctx).With("call_sid", u.CallID.String(), "provider_status", u.ProviderStatus)
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic in status handler", "panic", fmt.Sprint(p))
			telemetry.WebhookEvents.WithLabelValues("status", "panic").Inc()
			res, err = StatusResult{}, fmt.Errorf("dialogue: status handler panic: %v", p)
		}
	}()

	if u.CallID.Empty() {
		log.Warn("status callback without call sid")
		return StatusResult{}, nil
	}

	// Only the state lock: a completion in flight must not delay the callback.
	unlock, err := o.locker.Lock(ctx, stateKey(u.CallID))
	if err != nil {
		return StatusResult{}, err
	}
	defer unlock()

	sess, err := o.store.GetSessionByCallID(ctx, u.CallID)
	if errors.Is(err, calls.ErrNotFound) {
		log.Warn("call session not found for status callback")
		return StatusResult{}, nil
	}
	if err != nil {
		return StatusResult{}, fmt.Errorf("lookup session: %w", err)
	}
	log = log.With("session_id", sess.ID.String())

	status := MapProviderStatus(u.ProviderStatus)
	res = StatusResult{Found: true, Status: status}

	if status != calls.CallStatusCompleted {
		if err := o.store.UpdateSessionStatus(ctx, sess.ID, status, nil, nil); err != nil {
			return StatusResult{}, fmt.Errorf("update session status: %w", err)
		}
		log.Info("call status updated", "status", status)
		return res, nil
	}

	// Repeated completion callbacks must not add a second metrics record.
	if sess.Status == calls.CallStatusCompleted && sess.EndTime != nil {
		log.Info("duplicate completion callback ignored")
		return res, nil
	}

	end := o.now().UTC()
	duration := 0
	if u.DurationSeconds != nil && *u.DurationSeconds > 0 {
		duration = *u.DurationSeconds
	}
	if err := o.store.UpdateSessionStatus(ctx, sess.ID, status, &end, &duration); err != nil {
		return StatusResult{}, fmt.Errorf("update session status: %w", err)
	}

	n, err := o.store.CountMessages(ctx, sess.ID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("count messages: %w", err)
	}
	if err := o.store.CreateCallMetrics(ctx, calls.Metrics{
		ID:                o.newID(),
		SessionID:         sess.ID,
		TotalInteractions: n,
		CreatedAt:         end,
	}); err != nil {
		return StatusResult{}, fmt.Errorf("create call metrics: %w", err)
	}
	res.MetricsRecorded = true
	log.Info("call completed", "duration_seconds", duration, "total_interactions", n)
	return res, nil
}

// MapProviderStatus maps the Twilio CallStatus vocabulary. Unrecognized values are COMPLETED.
func MapProviderStatus(s string) calls.CallStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ringing":
		return calls.CallStatusRinging
	case "in-progress":
		return calls.CallStatusInProgress
	case "completed":
		return calls.CallStatusCompleted
	case "failed":
		return calls.CallStatusFailed
	case "busy":
		return calls.CallStatusBusy
	case "no-answer":
		return calls.CallStatusNoAnswer
	default:
		return calls.CallStatusCompleted
	}
}

// IsClosing reports whether reply ends the conversation.
func IsClosing(reply string) bool {
	s := strings.ToLower(reply)
	for _, p := range closingPhrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) logger(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, o.log)
}

func (o *Orchestrator) finish(r Response) Response {
	telemetry.CallActions.WithLabelValues(string(r.Action), r.Reason).Inc()
	return r
}

func (o *Orchestrator) recoverTo(resp *Response, log *slog.Logger, event, say string) {
	if p := recover(); p != nil {
		log.Error("panic in dialogue handler", "event", event, "panic", fmt.Sprint(p))
		*resp = o.finish(Response{Action: ActionHangup, Say: say, Reason: "internal_error"})
	}
}

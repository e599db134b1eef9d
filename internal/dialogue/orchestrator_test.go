package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"receptionist/internal/assistant"
	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/storage"
	"receptionist/pkg/logger"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	n       int
}

func (p *scriptedProvider) Complete(context.Context, assistant.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n >= len(p.replies) {
		return "Is there anything else I can help with?", nil
	}
	r := p.replies[p.n]
	p.n++
	return r, nil
}

type replierFunc func(ctx context.Context, utterance string, id calls.SessionID) assistant.Reply

func (f replierFunc) Generate(ctx context.Context, utterance string, id calls.SessionID) assistant.Reply {
	return f(ctx, utterance, id)
}

func echoReplier(text string, label intent.Label) Replier {
	return replierFunc(func(context.Context, string, calls.SessionID) assistant.Reply {
		return assistant.Reply{Text: text, Intent: label, ShouldTransfer: label == intent.LabelTransfer}
	})
}

func newTestOrchestrator(store Store, r Replier) *Orchestrator {
	return NewOrchestrator(store, r, NewKeyedLocker(), logger.Nop())
}

func assertTranscriptInvariants(t *testing.T, msgs []calls.Message) {
	t.Helper()
	if len(msgs) == 0 || msgs[0].Role != calls.RoleSystem {
		t.Fatalf("transcript must start with a SYSTEM message: %+v", msgs)
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].Timestamp.After(msgs[i-1].Timestamp) {
			t.Fatalf("transcript timestamps not strictly increasing at %d", i)
		}
	}
}

func TestEndToEnd_NewCallerInfoThenTransfer(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	provider := &scriptedProvider{replies: []string{
		"We're open Monday through Friday, 9 AM to 5 PM.",
		"Of course, goodbye for now.",
	}}
	gen := assistant.NewGenerator(provider, store, assistant.Config{Timeout: time.Second}, logger.Nop())
	o := newTestOrchestrator(store, gen)

	resp := o.OnIncoming(ctx, IncomingCall{CallID: "CA100", From: "+14805550100", To: "+14805559999"})
	if resp.Action != ActionGather || resp.Say != Greeting {
		t.Fatalf("unexpected incoming response: %+v", resp)
	}
	if n := len(store.Callers()); n != 1 {
		t.Fatalf("expected exactly one caller, got %d", n)
	}
	sess, err := store.GetSessionByCallID(ctx, "CA100")
	if err != nil {
		t.Fatalf("expected session: %v", err)
	}
	if sess.Status != calls.CallStatusInProgress || sess.Direction != calls.DirectionInbound || sess.PhoneNumber != "+14805550100" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	resp = o.OnTurn(ctx, Turn{CallID: "CA100", Speech: "what are your hours"})
	if resp.Action != ActionGather || resp.Terminal() {
		t.Fatalf("expected conversation to continue, got %+v", resp)
	}
	sess, _ = store.GetSessionByCallID(ctx, "CA100")
	if sess.Intent != intent.LabelInfoRequest || !sess.Resolved {
		t.Fatalf("expected info_request/resolved, got %q/%v", sess.Intent, sess.Resolved)
	}

	resp = o.OnTurn(ctx, Turn{CallID: "CA100", Speech: "transfer me to HR, goodbye"})
	if resp.Action != ActionTransfer || resp.Say != TransferReply || !resp.Terminal() {
		t.Fatalf("expected transfer termination, got %+v", resp)
	}
	sess, _ = store.GetSessionByCallID(ctx, "CA100")
	if sess.Intent != intent.LabelTransfer || sess.Resolved != sess.Intent.Concrete() {
		t.Fatalf("unexpected session after transfer: %+v", sess)
	}

	msgs := store.Messages(sess.ID)
	assertTranscriptInvariants(t, msgs)
	if msgs[0].Content != "Call initiated from +14805550100" {
		t.Fatalf("unexpected system message %q", msgs[0].Content)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected system + 2 turns (5 messages), got %d", len(msgs))
	}
}

func TestOnIncoming_DuplicateSignalReusesSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store, echoReplier("ok", intent.LabelOther))

	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})
	resp := o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})
	if resp.Action != ActionGather || resp.Say != Greeting {
		t.Fatalf("unexpected response: %+v", resp)
	}
	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	if n := len(store.Messages(sess.ID)); n != 1 {
		t.Fatalf("expected a single SYSTEM message, got %d", n)
	}
}

func TestOnIncoming_MissingCallID(t *testing.T) {
	o := newTestOrchestrator(storage.NewMemoryStore(), echoReplier("ok", intent.LabelOther))
	resp := o.OnIncoming(context.Background(), IncomingCall{From: "+1"})
	if resp.Action != ActionHangup || resp.Say != IncomingFailureReply {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

type failingStore struct {
	*storage.MemoryStore
	failCreateSession bool
	failRole          calls.Role
	failStatus        bool
}

var errBoom = errors.New("boom")

func (f *failingStore) CreateSession(ctx context.Context, s calls.Session) (calls.Session, error) {
	if f.failCreateSession {
		return calls.Session{}, errBoom
	}
	return f.MemoryStore.CreateSession(ctx, s)
}

func (f *failingStore) AppendMessage(ctx context.Context, m calls.Message) (calls.Message, error) {
	if f.failRole != "" && m.Role == f.failRole {
		return calls.Message{}, errBoom
	}
	return f.MemoryStore.AppendMessage(ctx, m)
}

func (f *failingStore) UpdateSessionStatus(ctx context.Context, id calls.SessionID, st calls.CallStatus, end *time.Time, d *int) error {
	if f.failStatus {
		return errBoom
	}
	return f.MemoryStore.UpdateSessionStatus(ctx, id, st, end, d)
}

func TestOnIncoming_SessionCreationFailureApologizes(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), failCreateSession: true}
	resp := newTestOrchestrator(store, echoReplier("ok", intent.LabelOther)).
		OnIncoming(context.Background(), IncomingCall{CallID: "CA1", From: "+1"})
	if resp.Action != ActionHangup || resp.Say != IncomingFailureReply {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOnTurn_UnknownSessionHangsUp(t *testing.T) {
	o := newTestOrchestrator(storage.NewMemoryStore(), echoReplier("ok", intent.LabelOther))
	for _, id := range []calls.CallID{"CA-unknown", ""} {
		resp := o.OnTurn(context.Background(), Turn{CallID: id, Speech: "hello"})
		if resp.Action != ActionHangup || resp.Say != SessionNotFoundReply {
			t.Fatalf("call %q: unexpected response %+v", id, resp)
		}
	}
}

func TestOnTurn_ClosingReplyEndsCall(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reply := "Thank you for calling P.F. Chang's. Have a great day!"
	o := newTestOrchestrator(store, echoReplier(reply, intent.LabelOther))
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})

	resp := o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "that's all"})
	if resp.Action != ActionHangup || resp.Say != reply || resp.Reason != "closing" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	if sess.Intent != intent.LabelOther || sess.Resolved {
		t.Fatalf("other must not be resolved: %+v", sess)
	}
}

func TestOnTurn_SpeechTakesPrecedenceOverDigits(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	var got []string
	r := replierFunc(func(_ context.Context, u string, _ calls.SessionID) assistant.Reply {
		got = append(got, u)
		return assistant.Reply{Text: "ok", Intent: intent.LabelOther}
	})
	o := newTestOrchestrator(store, r)
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})

	o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "hello", Digits: "1"})
	o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "  ", Digits: "2"})
	o.OnTurn(ctx, Turn{CallID: "CA1"})
	if strings.Join(got, ",") != "hello,2," {
		t.Fatalf("unexpected utterances %q", got)
	}
}

func TestOnTurn_InvalidIntentTreatedAsOther(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store, echoReplier("hmm", intent.Label("weird")))
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})
	o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "x"})
	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	if sess.Intent != intent.LabelOther || sess.Resolved {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestOnTurn_PersistenceFailureSpeaksTechnicalDifficulties(t *testing.T) {
	ctx := context.Background()
	for _, role := range []calls.Role{calls.RoleUser, calls.RoleAssistant} {
		store := &failingStore{MemoryStore: storage.NewMemoryStore()}
		o := newTestOrchestrator(store, echoReplier("ok", intent.LabelOther))
		o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})
		store.failRole = role

		resp := o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "hi"})
		if resp.Action != ActionHangup || resp.Say != TurnFailureReply {
			t.Fatalf("role %s: unexpected response %+v", role, resp)
		}
	}
}

func TestOnTurn_PanicIsRecovered(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store, replierFunc(func(context.Context, string, calls.SessionID) assistant.Reply {
		panic("unexpected")
	}))
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})

	resp := o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "hi"})
	if resp.Action != ActionHangup || resp.Say != TurnFailureReply {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// The lock must have been released by the deferred unlock.
	if n := o.locker.(*KeyedLocker).size(); n != 0 {
		t.Fatalf("expected no held locks, got %d", n)
	}
}

func TestOnTurn_ConcurrentTurnsAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := replierFunc(func(context.Context, string, calls.SessionID) assistant.Reply {
		time.Sleep(2 * time.Millisecond)
		return assistant.Reply{Text: "ok", Intent: intent.LabelOther}
	})
	o := newTestOrchestrator(store, r)
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "hi"})
		}()
	}
	wg.Wait()

	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	msgs := store.Messages(sess.ID)
	assertTranscriptInvariants(t, msgs)
	if len(msgs) != 17 {
		t.Fatalf("expected 1 + 8*2 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i += 2 {
		if msgs[i].Role != calls.RoleUser || msgs[i+1].Role != calls.RoleAssistant {
			t.Fatalf("turns interleaved at %d: %s then %s", i, msgs[i].Role, msgs[i+1].Role)
		}
	}
}

func TestOnStatus_NotBlockedByTurnInFlight(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	started := make(chan struct{})
	release := make(chan struct{})
	r := replierFunc(func(context.Context, string, calls.SessionID) assistant.Reply {
		close(started)
		<-release
		return assistant.Reply{Text: "We open at nine.", Intent: intent.LabelInfoRequest}
	})
	o := newTestOrchestrator(store, r)
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})

	done := make(chan Response, 1)
	go func() { done <- o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "when do you open"}) }()
	<-started

	// The caller hangs up while the reply is still being generated.
	statusCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	d := 30
	res, err := o.OnStatus(statusCtx, StatusUpdate{CallID: "CA1", ProviderStatus: "completed", DurationSeconds: &d})
	if err != nil || !res.Found || !res.MetricsRecorded {
		t.Fatalf("status must not wait for the turn: %+v %v", res, err)
	}
	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	if sess.Status != calls.CallStatusCompleted || sess.EndTime == nil || sess.Duration() != 30 {
		t.Fatalf("expected completed session, got %+v", sess)
	}

	close(release)
	resp := <-done
	if resp.Action != ActionGather || resp.Intent != intent.LabelInfoRequest {
		t.Fatalf("turn should still finish normally, got %+v", resp)
	}
	msgs := store.Messages(sess.ID)
	assertTranscriptInvariants(t, msgs)
	if len(msgs) != 3 || msgs[2].Role != calls.RoleAssistant {
		t.Fatalf("expected the late reply to be persisted, got %+v", msgs)
	}
	if n := len(store.CallMetrics(sess.ID)); n != 1 {
		t.Fatalf("expected one metrics record, got %d", n)
	}
}

func TestOnStatus_CompletedClosesSessionAndRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store, echoReplier("ok", intent.LabelOther))
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})
	o.OnTurn(ctx, Turn{CallID: "CA1", Speech: "hi"})

	d := 87
	res, err := o.OnStatus(ctx, StatusUpdate{CallID: "CA1", ProviderStatus: "completed", DurationSeconds: &d})
	if err != nil || !res.Found || !res.MetricsRecorded || res.Status != calls.CallStatusCompleted {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	if sess.EndTime == nil || sess.Duration() != 87 {
		t.Fatalf("expected end time and duration, got %+v", sess)
	}
	ms := store.CallMetrics(sess.ID)
	if len(ms) != 1 || ms[0].TotalInteractions != 3 {
		t.Fatalf("expected one metrics record counting 3 messages, got %+v", ms)
	}

	res, err = o.OnStatus(ctx, StatusUpdate{CallID: "CA1", ProviderStatus: "completed", DurationSeconds: &d})
	if err != nil || res.MetricsRecorded {
		t.Fatalf("duplicate completion must not record metrics: %+v %v", res, err)
	}
	if n := len(store.CallMetrics(sess.ID)); n != 1 {
		t.Fatalf("expected one metrics record, got %d", n)
	}
}

func TestOnStatus_NonTerminalAndUnknown(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store, echoReplier("ok", intent.LabelOther))
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})

	res, err := o.OnStatus(ctx, StatusUpdate{CallID: "CA1", ProviderStatus: "busy"})
	if err != nil || res.Status != calls.CallStatusBusy || res.MetricsRecorded {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
	sess, _ := store.GetSessionByCallID(ctx, "CA1")
	if sess.EndTime != nil {
		t.Fatalf("busy must not close the session")
	}

	res, err = o.OnStatus(ctx, StatusUpdate{CallID: "CA1", ProviderStatus: "canceled"})
	if err != nil || res.Status != calls.CallStatusCompleted || !res.MetricsRecorded {
		t.Fatalf("unrecognized status should map to COMPLETED: %+v %v", res, err)
	}
	sess, _ = store.GetSessionByCallID(ctx, "CA1")
	if sess.Duration() != 0 || sess.DurationSeconds == nil {
		t.Fatalf("missing duration should be recorded as 0, got %+v", sess.DurationSeconds)
	}

	for _, id := range []calls.CallID{"CA-missing", ""} {
		res, err := o.OnStatus(ctx, StatusUpdate{CallID: id, ProviderStatus: "completed"})
		if err != nil || res.Found {
			t.Fatalf("unknown call %q must be a no-op, got %+v %v", id, res, err)
		}
	}
}

func TestOnStatus_PersistenceFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	o := newTestOrchestrator(store, echoReplier("ok", intent.LabelOther))
	o.OnIncoming(ctx, IncomingCall{CallID: "CA1", From: "+1"})
	store.failStatus = true

	if _, err := o.OnStatus(ctx, StatusUpdate{CallID: "CA1", ProviderStatus: "completed"}); !errors.Is(err, errBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]calls.CallStatus{
		"ringing":     calls.CallStatusRinging,
		"in-progress": calls.CallStatusInProgress,
		"completed":   calls.CallStatusCompleted,
		"failed":      calls.CallStatusFailed,
		"busy":        calls.CallStatusBusy,
		"no-answer":   calls.CallStatusNoAnswer,
		"queued":      calls.CallStatusCompleted,
		"":            calls.CallStatusCompleted,
	}
	for in, want := range cases {
		if got := MapProviderStatus(in); got != want {
			t.Fatalf("MapProviderStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestIsClosing(t *testing.T) {
	for _, s := range []string{"Goodbye!", "Have a great day.", "THANK YOU FOR CALLING"} {
		if !IsClosing(s) {
			t.Fatalf("expected %q to be closing", s)
		}
	}
	if IsClosing("How else can I help?") {
		t.Fatalf("unexpected closing")
	}
}

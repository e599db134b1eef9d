package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/telemetry"
)

// ErrPermanent marks provider failures that a retry cannot fix (bad credentials, invalid request).
var ErrPermanent = errors.New("assistant: permanent provider error")

type Speaker string

const (
	SpeakerCaller    Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one prior history entry sent to the provider.
type Turn struct {
	Speaker Speaker
	Text    string
}

type CompletionRequest struct {
	SystemPrompt string
	History      []Turn
	Message      string

	MaxTokens   int
	Temperature float32
}

// CompletionProvider returns a single reply for a bounded conversation.
// An empty string with a nil error means the provider produced no usable text.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// HistoryLoader returns up to limit most recent USER/ASSISTANT messages of a session, oldest first.
type HistoryLoader interface {
	RecentMessages(ctx context.Context, sessionID calls.SessionID, limit int) ([]calls.Message, error)
}

// Reply is the generator's result. It always carries speakable text.
type Reply struct {
	Text   string
	Intent intent.Label

	ShouldTransfer            bool
	ShouldScheduleAppointment bool

	// Fallback names the deterministic path taken, empty when the provider answered.
	Fallback string
}

type Config struct {
	SystemPrompt string
	HistoryLimit int
	MaxTokens    int
	Temperature  float32

	// Timeout bounds each provider attempt.
	Timeout time.Duration
	// Budget bounds the whole completion, retries and waits included.
	// An attempt never outlives the budget.
	Budget time.Duration
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries    uint64
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.SystemPrompt == "" {
		out.SystemPrompt = ReceptionistPrompt
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = 10
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 200
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.7
	}
	if out.Timeout <= 0 {
		out.Timeout = 8 * time.Second
	}
	if out.Budget <= 0 {
		out.Budget = 10 * time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 300 * time.Millisecond
	}
	return out
}

const (
	fallbackNotConfigured = "not_configured"
	fallbackProviderError = "provider_error"
	fallbackEmptyReply    = "empty_reply"
)

// Generator produces the assistant side of a turn.
//
// It never returns an error: provider absence, provider failure and empty output
// all resolve to fixed replies so the call can continue.
type Generator struct {
	provider   CompletionProvider
	history    HistoryLoader
	classifier intent.Classifier
	cfg        Config
	log        *slog.Logger
}

// NewGenerator wires a generator. A nil provider selects the fallback path for every turn.
func NewGenerator(provider CompletionProvider, history HistoryLoader, cfg Config, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		provider:   provider,
		history:    history,
		classifier: intent.KeywordClassifier{},
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// WithClassifier swaps the intent classifier.
func (g *Generator) WithClassifier(c intent.Classifier) *Generator {
	if c != nil {
		g.classifier = c
	}
	return g
}

func (g *Generator) Generate(ctx context.Context, utterance string, sessionID calls.SessionID) Reply {
	log := g.log.With("session_id", sessionID.String())

	if g.provider == nil {
		log.Warn("completion provider not configured, using fallback reply")
		return g.fallback(FallbackReply, fallbackNotConfigured)
	}

	history := g.loadHistory(ctx, sessionID, utterance, log)
	req := CompletionRequest{
		SystemPrompt: g.cfg.SystemPrompt,
		History:      history,
		Message:      utterance,
		MaxTokens:    g.cfg.MaxTokens,
		Temperature:  g.cfg.Temperature,
	}

	text, err := g.complete(ctx, req)
	if err != nil {
		log.Warn("completion failed, using apology reply", "err", err)
		return g.fallback(ProviderErrorReply, fallbackProviderError)
	}

	out := Reply{Text: strings.TrimSpace(text)}
	if out.Text == "" {
		log.Warn("completion returned no text, asking caller to rephrase")
		telemetry.ReplyFallbacks.WithLabelValues(fallbackEmptyReply).Inc()
		out.Text = ClarificationReply
		out.Fallback = fallbackEmptyReply
	}

	out.Intent = g.classifier.Classify(utterance, out.Text)
	out.ShouldTransfer = out.Intent == intent.LabelTransfer
	out.ShouldScheduleAppointment = out.Intent == intent.LabelAppointment
	return out
}

func (g *Generator) fallback(text, reason string) Reply {
	telemetry.ReplyFallbacks.WithLabelValues(reason).Inc()
	return Reply{Text: text, Intent: intent.LabelOther, Fallback: reason}
}

// complete runs one attempt plus at most MaxRetries more, each under its own timeout
// and all of them under Budget.
func (g *Generator) complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancelBudget := context.WithTimeout(ctx, g.cfg.Budget)
	defer cancelBudget()

	var text string
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		start := time.Now()
		out, err := g.provider.Complete(attemptCtx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		telemetry.CompletionLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())

		if err != nil {
			if errors.Is(err, ErrPermanent) {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.cfg.RetryInterval), g.cfg.MaxRetries),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return text, nil
}

// loadHistory maps stored messages to provider turns. Load failures yield an empty history.
// The orchestrator stores the caller's utterance before generating, so a trailing copy of it is dropped.
func (g *Generator) loadHistory(ctx context.Context, sessionID calls.SessionID, utterance string, log *slog.Logger) []Turn {
	if g.history == nil || sessionID == "" {
		return nil
	}
	msgs, err := g.history.RecentMessages(ctx, sessionID, g.cfg.HistoryLimit)
	if err != nil {
		log.Warn("failed to load conversation history", "err", err)
		return nil
	}

	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case calls.RoleUser:
			out = append(out, Turn{Speaker: SpeakerCaller, Text: m.Content})
		case calls.RoleAssistant:
			out = append(out, Turn{Speaker: SpeakerAssistant, Text: m.Content})
		}
	}
	if n := len(out); n > 0 && out[n-1].Speaker == SpeakerCaller && out[n-1].Text == utterance {
		out = out[:n-1]
	}
	return out
}

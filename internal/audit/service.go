package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It MUST be append-only.
type Repository interface {
	AppendAuditEvent(ctx context.Context, e Event) error
}

// Service records operator actions. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ActorUserID == "" && e.ActorEmail == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.AppendAuditEvent(ctx, e)
}

func (s *Service) LogLogin(ctx context.Context, userID, email, role, ip string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeLogin,
		ActorUserID: userID,
		ActorEmail:  email,
		ActorRole:   role,
		IPAddress:   ip,
	})
}

func (s *Service) LogLoginFailed(ctx context.Context, email, ip string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeLoginFailed,
		ActorEmail: email,
		IPAddress:  ip,
		Message:    "invalid credentials",
	})
}

func (s *Service) LogOrderCreated(ctx context.Context, actorUserID, actorRole, ip, orderID, sessionID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeOrderCreated,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		OrderID:     orderID,
		SessionID:   sessionID,
	})
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"receptionist/internal/calls"
)

// Repository persists orders. Implementations must reject nothing that Validate accepts
// and must store Total as given.
type Repository interface {
	CreateOrder(ctx context.Context, o Order) error
}

// SessionLookup resolves the parent call session to derive time-to-order.
type SessionLookup interface {
	GetSession(ctx context.Context, id calls.SessionID) (calls.Session, error)
}

type CreateRequest struct {
	CallerID   string           `json:"caller_id"`
	SessionID  *calls.SessionID `json:"call_session_id,omitempty"`
	Type       Type             `json:"order_type"`
	Status     Status           `json:"status,omitempty"`
	Items      []Item           `json:"items"`
	Subtotal   float64          `json:"subtotal"`
	Tax        float64          `json:"tax"`
	Fee        float64          `json:"delivery_fee"`
	Discount   float64          `json:"discount"`
	GuestCount *int             `json:"guest_count,omitempty"`
}

type Service struct {
	repo     Repository
	sessions SessionLookup

	clock func() time.Time
}

func NewService(repo Repository, sessions SessionLookup) *Service {
	return &Service{repo: repo, sessions: sessions, clock: time.Now}
}

// WithClock overrides the creation clock (tests).
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create validates and stores a new order.
// When the order is linked to a session, time-to-order is the whole seconds since the session started.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Order, error) {
	if s.repo == nil {
		return Order{}, errors.New("orders: repository not configured")
	}
	now := s.clock().UTC()

	o, err := New(uuid.NewString(), req.CallerID, req.SessionID, req.Type, req.Status, req.Items, Components{
		Subtotal:    req.Subtotal,
		Tax:         req.Tax,
		DeliveryFee: req.Fee,
		Discount:    req.Discount,
	}, now)
	if err != nil {
		return Order{}, err
	}
	o.GuestCount = req.GuestCount

	if req.SessionID != nil && s.sessions != nil {
		sess, err := s.sessions.GetSession(ctx, *req.SessionID)
		if err != nil {
			if errors.Is(err, calls.ErrNotFound) {
				return Order{}, fmt.Errorf("%w: unknown call session", ErrInvalidOrder)
			}
			return Order{}, err
		}
		if sess.CallerID != "" && sess.CallerID != o.CallerID {
			return Order{}, fmt.Errorf("%w: call session belongs to another caller", ErrInvalidOrder)
		}
		if secs := int(now.Sub(sess.StartTime) / time.Second); secs >= 0 {
			o.TimeToOrderSeconds = &secs
		}
	}

	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

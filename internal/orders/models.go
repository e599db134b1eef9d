package orders

import (
	"errors"
	"fmt"
	"math"
	"time"

	"receptionist/internal/calls"
)

var ErrInvalidOrder = errors.New("orders: invalid order")

// totalTolerance absorbs float rounding when re-checking the totals invariant.
const totalTolerance = 0.01

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOutForDelivery, StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

type Type string

const (
	TypePickup   Type = "PICKUP"
	TypeDelivery Type = "DELIVERY"
	TypeDineIn   Type = "DINE_IN"
	TypeCatering Type = "CATERING"
)

func (t Type) valid() bool {
	switch t {
	case TypePickup, TypeDelivery, TypeDineIn, TypeCatering:
		return true
	default:
		return false
	}
}

type Item struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Order is an optional artifact of a call session.
//
// Invariant: Total == Subtotal + Tax + DeliveryFee - Discount. It is established by
// New and re-checked by Validate before every write; no mutator exists that could break it.
type Order struct {
	ID        string           `json:"id" db:"id"`
	SessionID *calls.SessionID `json:"call_session_id,omitempty" db:"call_session_id"`
	CallerID  string           `json:"caller_id" db:"caller_id"`

	Items []Item `json:"items" db:"items"`

	Subtotal    float64 `json:"subtotal" db:"subtotal"`
	Tax         float64 `json:"tax" db:"tax"`
	DeliveryFee float64 `json:"delivery_fee" db:"delivery_fee"`
	Discount    float64 `json:"discount" db:"discount"`
	Total       float64 `json:"total" db:"total"`

	Status Status `json:"status" db:"status"`
	Type   Type   `json:"order_type" db:"order_type"`

	GuestCount *int `json:"guest_count,omitempty" db:"guest_count"`

	// TimeToOrderSeconds is seconds from the parent session's start to order creation.
	TimeToOrderSeconds *int `json:"time_to_order,omitempty" db:"time_to_order"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Components are the monetary inputs of an order. Total is always derived.
type Components struct {
	Subtotal    float64
	Tax         float64
	DeliveryFee float64
	Discount    float64
}

func (c Components) total() float64 {
	return c.Subtotal + c.Tax + c.DeliveryFee - c.Discount
}

// New builds an order whose Total is computed from components.
func New(id, callerID string, sessionID *calls.SessionID, typ Type, status Status, items []Item, c Components, createdAt time.Time) (Order, error) {
	o := Order{
		ID:          id,
		SessionID:   sessionID,
		CallerID:    callerID,
		Items:       items,
		Subtotal:    c.Subtotal,
		Tax:         c.Tax,
		DeliveryFee: c.DeliveryFee,
		Discount:    c.Discount,
		Total:       c.total(),
		Status:      status,
		Type:        typ,
		CreatedAt:   createdAt,
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Validate checks field domains and the totals invariant.
func (o Order) Validate() error {
	if o.ID == "" || o.CallerID == "" {
		return fmt.Errorf("%w: id and caller_id are required", ErrInvalidOrder)
	}
	if !o.Type.valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, o.Type)
	}
	if !o.Status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, o.Status)
	}
	for name, v := range map[string]float64{
		"subtotal":     o.Subtotal,
		"tax":          o.Tax,
		"delivery_fee": o.DeliveryFee,
		"discount":     o.Discount,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidOrder, name)
		}
	}
	if o.Total < 0 {
		return fmt.Errorf("%w: discount exceeds order value", ErrInvalidOrder)
	}
	want := Components{Subtotal: o.Subtotal, Tax: o.Tax, DeliveryFee: o.DeliveryFee, Discount: o.Discount}.total()
	if math.Abs(o.Total-want) > totalTolerance {
		return fmt.Errorf("%w: total %.2f does not match components %.2f", ErrInvalidOrder, o.Total, want)
	}
	if o.GuestCount != nil && *o.GuestCount < 0 {
		return fmt.Errorf("%w: guest_count must be >= 0", ErrInvalidOrder)
	}
	for _, it := range o.Items {
		if it.Name == "" || it.Quantity <= 0 || it.UnitPrice < 0 {
			return fmt.Errorf("%w: invalid item %q", ErrInvalidOrder, it.Name)
		}
	}
	return nil
}

func (o Order) IsCancelled() bool { return o.Status == StatusCancelled }

// IsFulfilled is the funnel's last stage: completed or delivered.
func (o Order) IsFulfilled() bool {
	return o.Status == StatusCompleted || o.Status == StatusDelivered
}

package reporting

import (
	"time"

	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/orders"
)

// TimeRange is half-open: From <= t < To.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Dashboard is the full operations payload for one window.
// Money is rounded to 2 decimals, rates and percentages to 1.
type Dashboard struct {
	WindowDays  int       `json:"window_days"`
	GeneratedAt time.Time `json:"generated_at"`
	Current     TimeRange `json:"current"`
	Previous    TimeRange `json:"previous"`

	Hero        HeroMetrics        `json:"hero"`
	Operational OperationalMetrics `json:"operational"`

	Funnel           []FunnelStage `json:"funnel"`
	FunnelConsistent bool          `json:"funnel_consistent"`

	Timeline []DailyBucket  `json:"revenue_timeline"`
	Hourly   []HourlyBucket `json:"hourly_activity"`

	OrderTypes []OrderTypeShare `json:"order_types"`
	Intents    []IntentShare    `json:"intents"`

	TopCallers   []CallerRanking `json:"top_callers"`
	RecentOrders []RecentOrder   `json:"recent_orders"`
	RecentCalls  []RecentCall    `json:"recent_activity"`
}

type HeroMetrics struct {
	Revenue       float64 `json:"revenue"`
	RevenueChange float64 `json:"revenue_change"`

	Orders       int     `json:"orders"`
	OrdersChange float64 `json:"orders_change"`

	AverageOrderValue       float64 `json:"average_order_value"`
	AverageOrderValueChange float64 `json:"average_order_value_change"`

	// ConvertedCalls is the number of current-window sessions with at least one linked order.
	ConvertedCalls   int     `json:"converted_calls"`
	ConversionRate   float64 `json:"conversion_rate"`
	ConversionChange float64 `json:"conversion_change"`
}

type OperationalMetrics struct {
	TotalCalls        int `json:"total_calls"`
	CompletedCalls    int `json:"completed_calls"`
	ResolvedCalls     int `json:"resolved_calls"`
	TotalChats        int `json:"total_chats"`
	TotalAppointments int `json:"total_appointments"`

	// ResolutionRate is resolved completed calls over completed calls, in percent.
	ResolutionRate float64 `json:"resolution_rate"`
	// AverageCallDuration is in whole seconds over completed calls.
	AverageCallDuration int `json:"average_call_duration"`
	// AverageTimeToOrder is in seconds over orders that carry a time-to-order.
	AverageTimeToOrder float64 `json:"average_time_to_order"`
}

const (
	StageTotalCalls      = "total_calls"
	StageCompletedCalls  = "completed_calls"
	StageClassifiedCalls = "classified_calls"
	StageCallsWithOrder  = "calls_with_order"
	StageFulfilledOrders = "fulfilled_orders"
)

type FunnelStage struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

type DailyBucket struct {
	Date    string  `json:"date"`
	Calls   int     `json:"calls"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

type HourlyBucket struct {
	Hour   int `json:"hour"`
	Calls  int `json:"calls"`
	Orders int `json:"orders"`
}

type OrderTypeShare struct {
	Type    orders.Type `json:"type"`
	Count   int         `json:"count"`
	Revenue float64     `json:"revenue"`
}

type IntentShare struct {
	Intent intent.Label `json:"intent"`
	Count  int          `json:"count"`
}

type CallerRanking struct {
	CallerID     string  `json:"caller_id"`
	Name         string  `json:"name"`
	Company      string  `json:"company,omitempty"`
	PhoneNumber  string  `json:"phone_number"`
	Orders       int     `json:"orders"`
	Revenue      float64 `json:"revenue"`
	AverageOrder float64 `json:"average_order"`
}

type RecentOrder struct {
	ID         string        `json:"id"`
	CallerID   string        `json:"caller_id"`
	CallerName string        `json:"caller_name"`
	Type       orders.Type   `json:"type"`
	Status     orders.Status `json:"status"`
	Total      float64       `json:"total"`
	GuestCount *int          `json:"guest_count,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type RecentCall struct {
	SessionID   calls.SessionID  `json:"id"`
	CallID      calls.CallID     `json:"call_sid"`
	Caller      string           `json:"caller"`
	PhoneNumber string           `json:"phone_number"`
	Status      calls.CallStatus `json:"status"`
	Intent      intent.Label     `json:"intent,omitempty"`
	Resolved    bool             `json:"resolved"`
	StartTime   time.Time        `json:"start_time"`
	Duration    *int             `json:"duration,omitempty"`

	MessageCount int    `json:"message_count"`
	Summary      string `json:"summary"`
	Transcript   string `json:"transcript"`

	// OrderTotal is the summed total of linked orders, nil when the call produced none.
	OrderTotal *float64 `json:"order_total,omitempty"`
}

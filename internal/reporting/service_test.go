package reporting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/orders"
	"receptionist/internal/storage"
	"receptionist/pkg/logger"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *storage.MemoryStore
	n     int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, store: storage.NewMemoryStore()}
}

func (f *fixture) service(opts Options) *Service {
	return NewService(f.store, opts, logger.Nop()).WithClock(func() time.Time { return testNow })
}

func (f *fixture) caller(phone, first, last, company string) calls.Caller {
	c, _, err := f.store.FindOrCreateCaller(context.Background(), phone)
	if err != nil {
		f.t.Fatalf("caller: %v", err)
	}
	c.FirstName, c.LastName, c.Company = first, last, company
	f.store.PutCaller(c)
	return c
}

func (f *fixture) session(callerID string, start time.Time, status calls.CallStatus, label intent.Label, duration int) calls.Session {
	f.n++
	s := calls.Session{
		ID:          calls.SessionID(fmt.Sprintf("s%d", f.n)),
		CallID:      calls.CallID(fmt.Sprintf("CA%d", f.n)),
		CallerID:    callerID,
		PhoneNumber: "+1000",
		Direction:   calls.DirectionInbound,
		Status:      status,
		StartTime:   start,
		Intent:      label,
		Resolved:    label.Concrete(),
	}
	if duration > 0 {
		s.DurationSeconds = &duration
	}
	if _, err := f.store.CreateSession(context.Background(), s); err != nil {
		f.t.Fatalf("session: %v", err)
	}
	return s
}

func (f *fixture) order(callerID string, sess *calls.Session, typ orders.Type, status orders.Status, subtotal float64, created time.Time) orders.Order {
	f.n++
	var sid *calls.SessionID
	if sess != nil {
		id := sess.ID
		sid = &id
	}
	o, err := orders.New(fmt.Sprintf("o%d", f.n), callerID, sid, typ, status, nil, orders.Components{Subtotal: subtotal}, created)
	if err != nil {
		f.t.Fatalf("order: %v", err)
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		f.t.Fatalf("create order: %v", err)
	}
	return o
}

func TestPctChange(t *testing.T) {
	cases := []struct {
		cur, prev, want float64
	}{
		{0, 0, 0},
		{5, 0, 100},
		{50, 100, -50},
		{110, 100, 10},
		{1, 3, -66.7},
	}
	for _, tc := range cases {
		if got := PctChange(tc.cur, tc.prev); got != tc.want {
			t.Fatalf("PctChange(%v, %v) = %v, want %v", tc.cur, tc.prev, got, tc.want)
		}
	}
}

func TestComputeDashboard_RejectsInvalidWindow(t *testing.T) {
	svc := newFixture(t).service(Options{})
	for _, days := range []int{0, -1, 366} {
		if _, err := svc.ComputeDashboard(context.Background(), days); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("days=%d: expected ErrInvalidRequest, got %v", days, err)
		}
	}
}

func TestComputeDashboard_EmptyWindow(t *testing.T) {
	d, err := newFixture(t).service(Options{}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(d.Hourly) != 24 {
		t.Fatalf("expected 24 hourly buckets, got %d", len(d.Hourly))
	}
	for h, b := range d.Hourly {
		if b.Hour != h || b.Calls != 0 || b.Orders != 0 {
			t.Fatalf("unexpected bucket %d: %+v", h, b)
		}
	}
	if len(d.Timeline) != 0 {
		t.Fatalf("sparse timeline should be empty, got %d days", len(d.Timeline))
	}
	if d.Hero.RevenueChange != 0 || d.Hero.ConversionRate != 0 || !d.FunnelConsistent {
		t.Fatalf("unexpected empty dashboard: %+v", d.Hero)
	}
}

// seedFunnel builds 10 calls: 6 completed, 4 of those classified, 3 with orders, 2 fulfilled orders.
func seedFunnel(f *fixture) (calls.Caller, []calls.Session) {
	c := f.caller("+14805550101", "Jane", "Smith", "Acme")
	var ss []calls.Session
	for i := 0; i < 10; i++ {
		status := calls.CallStatusFailed
		if i < 6 {
			status = calls.CallStatusCompleted
		}
		var label intent.Label
		if i < 4 {
			label = intent.LabelInfoRequest
		}
		if i == 4 {
			label = ""
		}
		ss = append(ss, f.session(c.ID, testNow.Add(-time.Duration(i+1)*time.Hour), status, label, 60))
	}
	f.order(c.ID, &ss[0], orders.TypeDelivery, orders.StatusCompleted, 100, testNow.Add(-30*time.Minute))
	f.order(c.ID, &ss[1], orders.TypePickup, orders.StatusDelivered, 50, testNow.Add(-90*time.Minute))
	f.order(c.ID, &ss[7], orders.TypePickup, orders.StatusPending, 25, testNow.Add(-8*time.Hour))
	return c, ss
}

func TestComputeDashboard_Funnel(t *testing.T) {
	f := newFixture(t)
	seedFunnel(f)
	d, err := f.service(Options{}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := []int{10, 6, 4, 3, 2}
	if len(d.Funnel) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(d.Funnel))
	}
	for i, w := range want {
		if d.Funnel[i].Count != w {
			t.Fatalf("stage %s: got %d, want %d (funnel %+v)", d.Funnel[i].Stage, d.Funnel[i].Count, w, d.Funnel)
		}
	}
	if !d.FunnelConsistent {
		t.Fatalf("expected consistent funnel")
	}
}

func TestFunnelConsistent_DetectsGrowth(t *testing.T) {
	if FunnelConsistent([]FunnelStage{{Count: 3}, {Count: 2}, {Count: 4}}) {
		t.Fatalf("expected inconsistency to be detected")
	}
}

func TestComputeDashboard_HeroAndOperational(t *testing.T) {
	f := newFixture(t)
	c, _ := seedFunnel(f)

	// Previous window: 2 completed calls, 1 converted, revenue 100 over 2 orders (one cancelled is ignored).
	prevStart := testNow.Add(-10 * 24 * time.Hour)
	p1 := f.session(c.ID, prevStart, calls.CallStatusCompleted, intent.LabelOther, 30)
	f.session(c.ID, prevStart.Add(time.Hour), calls.CallStatusCompleted, intent.LabelOther, 30)
	f.order(c.ID, &p1, orders.TypePickup, orders.StatusCompleted, 60, prevStart.Add(time.Minute))
	f.order(c.ID, nil, orders.TypePickup, orders.StatusCompleted, 40, prevStart.Add(2*time.Minute))
	f.order(c.ID, nil, orders.TypePickup, orders.StatusCancelled, 999, prevStart.Add(3*time.Minute))

	f.store.AddChatSession(calls.ChatSession{ID: "chat1", StartTime: testNow.Add(-time.Hour)})
	f.store.AddAppointment(calls.Appointment{ID: "a1", CreatedAt: testNow.Add(-time.Hour)})
	f.store.AddAppointment(calls.Appointment{ID: "a2", CreatedAt: testNow.Add(-8 * 24 * time.Hour)})

	d, err := f.service(Options{}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	h := d.Hero
	if h.Revenue != 175 || h.Orders != 3 || h.AverageOrderValue != 58.33 {
		t.Fatalf("unexpected revenue rollup: %+v", h)
	}
	if h.RevenueChange != 75 || h.OrdersChange != 50 {
		t.Fatalf("unexpected deltas: %+v", h)
	}
	if h.AverageOrderValueChange != 16.7 {
		t.Fatalf("expected AOV change 16.7, got %v", h.AverageOrderValueChange)
	}
	// Current: 3 converted / 6 completed = 50%; previous: 1 / 2 = 50%.
	if h.ConvertedCalls != 3 || h.ConversionRate != 50 || h.ConversionChange != 0 {
		t.Fatalf("unexpected conversion: %+v", h)
	}

	op := d.Operational
	if op.TotalCalls != 10 || op.CompletedCalls != 6 || op.ResolvedCalls != 4 {
		t.Fatalf("unexpected call counts: %+v", op)
	}
	if op.ResolutionRate != 66.7 || op.AverageCallDuration != 60 {
		t.Fatalf("unexpected rates: %+v", op)
	}
	if op.TotalChats != 1 || op.TotalAppointments != 1 {
		t.Fatalf("unexpected chat/appointment counts: %+v", op)
	}
}

func TestComputeDashboard_ResolutionRateCountsCompletedOnly(t *testing.T) {
	f := newFixture(t)
	c := f.caller("+14805550101", "Ann", "Lee", "")
	start := testNow.Add(-time.Hour)
	f.session(c.ID, start, calls.CallStatusCompleted, intent.LabelInfoRequest, 60)
	f.session(c.ID, start, calls.CallStatusCompleted, intent.LabelOther, 60)
	// Resolved but still on the line: not part of the rate.
	f.session(c.ID, start, calls.CallStatusInProgress, intent.LabelTransfer, 0)

	d, err := f.service(Options{}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if op := d.Operational; op.ResolvedCalls != 1 || op.ResolutionRate != 50 {
		t.Fatalf("expected 1 resolved of 2 completed (50%%), got %+v", op)
	}
}

func TestComputeDashboard_DistributionsAndRankings(t *testing.T) {
	f := newFixture(t)
	_, ss := seedFunnel(f)
	bob := f.caller("+14805550102", "", "", "")
	bobSess := f.session(bob.ID, testNow.Add(-20*time.Minute), calls.CallStatusCompleted, intent.LabelVendor, 10)
	f.order(bob.ID, &bobSess, orders.TypeCatering, orders.StatusConfirmed, 500, testNow.Add(-10*time.Minute))
	f.order(bob.ID, nil, orders.TypeCatering, orders.StatusCancelled, 80, testNow.Add(-5*time.Minute))

	_, _ = f.store.AppendMessage(context.Background(), calls.Message{SessionID: ss[0].ID, Role: calls.RoleSystem, Content: "Call initiated from +1000", Timestamp: ss[0].StartTime})
	_, _ = f.store.AppendMessage(context.Background(), calls.Message{SessionID: ss[0].ID, Role: calls.RoleUser, Content: "hours?", Timestamp: ss[0].StartTime.Add(time.Second)})

	d, err := f.service(Options{}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if d.OrderTypes[0].Type != orders.TypeCatering || d.OrderTypes[0].Count != 2 || d.OrderTypes[0].Revenue != 500 {
		t.Fatalf("unexpected order types: %+v", d.OrderTypes)
	}
	if d.Intents[0].Intent != intent.LabelInfoRequest || d.Intents[0].Count != 4 {
		t.Fatalf("unexpected intents: %+v", d.Intents)
	}
	for _, share := range d.Intents {
		if share.Intent == "" {
			t.Fatalf("unclassified sessions must not appear in the intent distribution")
		}
	}

	if len(d.TopCallers) != 2 || d.TopCallers[0].CallerID != bob.ID || d.TopCallers[0].Revenue != 500 {
		t.Fatalf("unexpected top callers: %+v", d.TopCallers)
	}
	if d.TopCallers[1].Name != "Jane Smith" || d.TopCallers[1].Company != "Acme" || d.TopCallers[1].Orders != 3 {
		t.Fatalf("unexpected second caller: %+v", d.TopCallers[1])
	}

	if len(d.RecentOrders) != 5 || d.RecentOrders[0].Status != orders.StatusCancelled || d.RecentOrders[0].CallerName != bob.PhoneNumber {
		t.Fatalf("unexpected recent orders: %+v", d.RecentOrders)
	}

	if len(d.RecentCalls) != 10 {
		t.Fatalf("expected 10 recent calls, got %d", len(d.RecentCalls))
	}
	if d.RecentCalls[0].SessionID != bobSess.ID || d.RecentCalls[0].Summary != "No conversation recorded" {
		t.Fatalf("unexpected first recent call: %+v", d.RecentCalls[0])
	}
	if d.RecentCalls[0].OrderTotal == nil || *d.RecentCalls[0].OrderTotal != 500 {
		t.Fatalf("expected linked order total 500, got %v", d.RecentCalls[0].OrderTotal)
	}
	janeCall := d.RecentCalls[1]
	if janeCall.SessionID != ss[0].ID || janeCall.Caller != "Jane Smith" {
		t.Fatalf("unexpected second recent call: %+v", janeCall)
	}
	if janeCall.Summary != "2 messages exchanged" || janeCall.Transcript != "SYSTEM: Call initiated from +1000\nUSER: hours?" {
		t.Fatalf("unexpected transcript %q / %q", janeCall.Summary, janeCall.Transcript)
	}
}

func TestComputeDashboard_TimelineAndHourly(t *testing.T) {
	f := newFixture(t)
	c := f.caller("+1", "", "", "")
	day1 := time.Date(2025, 6, 14, 9, 15, 0, 0, time.UTC)
	day3 := time.Date(2025, 6, 12, 17, 45, 0, 0, time.UTC)
	s1 := f.session(c.ID, day1, calls.CallStatusCompleted, intent.LabelOther, 10)
	f.session(c.ID, day1.Add(time.Hour), calls.CallStatusCompleted, intent.LabelOther, 10)
	s3 := f.session(c.ID, day3, calls.CallStatusCompleted, intent.LabelOther, 10)
	f.order(c.ID, &s1, orders.TypePickup, orders.StatusCompleted, 20, day1.Add(5*time.Minute))
	f.order(c.ID, &s3, orders.TypePickup, orders.StatusCompleted, 30, time.Date(2025, 6, 12, 23, 30, 0, 0, time.UTC))

	d, err := f.service(Options{}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(d.Timeline) != 2 {
		t.Fatalf("expected 2 sparse days, got %+v", d.Timeline)
	}
	if d.Timeline[0].Date != "2025-06-12" || d.Timeline[0].Revenue != 30 || d.Timeline[1].Calls != 2 || d.Timeline[1].Orders != 1 {
		t.Fatalf("unexpected timeline: %+v", d.Timeline)
	}
	if d.Hourly[9].Calls != 1 || d.Hourly[10].Calls != 1 || d.Hourly[17].Calls != 1 {
		t.Fatalf("unexpected hourly calls: %+v", d.Hourly)
	}
	if d.Hourly[9].Orders != 1 || d.Hourly[23].Orders != 1 || d.Hourly[17].Orders != 0 {
		t.Fatalf("orders are bucketed by creation hour: %+v", d.Hourly)
	}

	filled, err := f.service(Options{ZeroFill: true}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(filled.Timeline) != 8 {
		t.Fatalf("expected 8 calendar days touched by a 7-day window, got %d", len(filled.Timeline))
	}
	var callsN, ordersN int
	var rev float64
	for _, b := range filled.Timeline {
		callsN += b.Calls
		ordersN += b.Orders
		rev += b.Revenue
	}
	if callsN != 3 || ordersN != 2 || rev != 50 {
		t.Fatalf("zero-fill must preserve totals: calls=%d orders=%d revenue=%v", callsN, ordersN, rev)
	}
}

func TestComputeDashboard_LocationShiftsBuckets(t *testing.T) {
	f := newFixture(t)
	c := f.caller("+1", "", "", "")
	f.session(c.ID, time.Date(2025, 6, 14, 3, 0, 0, 0, time.UTC), calls.CallStatusCompleted, intent.LabelOther, 10)

	phoenix := time.FixedZone("MST", -7*60*60)
	d, err := f.service(Options{Location: phoenix}).ComputeDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Hourly[20].Calls != 1 || d.Timeline[0].Date != "2025-06-13" {
		t.Fatalf("expected bucketing in MST: hourly=%+v timeline=%+v", d.Hourly[20], d.Timeline)
	}
}

type failingRepo struct{ *storage.MemoryStore }

func (failingRepo) CountAppointments(context.Context, time.Time, time.Time) (int, error) {
	return 0, errors.New("db down")
}

func TestComputeDashboard_PropagatesReadErrors(t *testing.T) {
	svc := NewService(failingRepo{storage.NewMemoryStore()}, Options{}, logger.Nop())
	if _, err := svc.ComputeDashboard(context.Background(), 7); err == nil {
		t.Fatalf("expected read error")
	}
}

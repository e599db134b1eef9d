package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"receptionist/internal/calls"
	"receptionist/internal/intent"
	"receptionist/internal/orders"
	"receptionist/internal/telemetry"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const (
	MinWindowDays     = 1
	MaxWindowDays     = 365
	DefaultWindowDays = 7

	topCallersLimit   = 10
	recentOrdersLimit = 15
	recentCallsLimit  = 10
)

// Repository abstracts data access for reporting.
//
// Range reads are half-open on the record's own timestamp:
// sessions on start_time, orders on created_at, chats on start_time, appointments on created_at.
type Repository interface {
	ListSessions(ctx context.Context, from, to time.Time) ([]calls.Session, error)
	ListOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error)
	// ListOrdersForSessions returns every order linked to one of ids, regardless of creation time.
	ListOrdersForSessions(ctx context.Context, ids []calls.SessionID) ([]orders.Order, error)
	CountChatSessions(ctx context.Context, from, to time.Time) (int, error)
	CountAppointments(ctx context.Context, from, to time.Time) (int, error)
	GetCallers(ctx context.Context, ids []string) (map[string]calls.Caller, error)
	// ListMessages returns the messages of ids grouped by session, each group timestamp-ordered.
	ListMessages(ctx context.Context, ids []calls.SessionID) (map[calls.SessionID][]calls.Message, error)
}

type Options struct {
	// Location is used for day and hour bucketing. Defaults to UTC.
	Location *time.Location
	// ZeroFill emits a timeline entry for every day of the window, not only active days.
	ZeroFill bool
}

type Service struct {
	repo Repository
	opts Options
	log  *slog.Logger

	clock func() time.Time
}

func NewService(repo Repository, opts Options, log *slog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, opts: opts, log: log, clock: time.Now}
}

// WithClock overrides the clock (tests).
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Windows returns the current window [now-days, now) and the immediately preceding one.
func Windows(now time.Time, days int) (current, previous TimeRange) {
	span := time.Duration(days) * 24 * time.Hour
	current = TimeRange{From: now.Add(-span), To: now}
	previous = TimeRange{From: now.Add(-2 * span), To: now.Add(-span)}
	return current, previous
}

type snapshot struct {
	sessions     []calls.Session
	prevSessions []calls.Session
	orders       []orders.Order
	prevOrders   []orders.Order
	chats        int
	appointments int

	linked     []orders.Order
	prevLinked []orders.Order
	callers    map[string]calls.Caller
	messages   map[calls.SessionID][]calls.Message
}

// ComputeDashboard aggregates everything stored for the trailing windowDays.
// Boundaries are computed once; every sub-aggregate sees the same windows.
func (s *Service) ComputeDashboard(ctx context.Context, windowDays int) (Dashboard, error) {
	if windowDays < MinWindowDays || windowDays > MaxWindowDays {
		return Dashboard{}, fmt.Errorf("%w: window days must be within %d..%d", ErrInvalidRequest, MinWindowDays, MaxWindowDays)
	}
	if s.repo == nil {
		return Dashboard{}, errors.New("reporting: repository not configured")
	}
	start := time.Now()
	defer func() { telemetry.DashboardLatency.Observe(time.Since(start).Seconds()) }()

	now := s.clock().UTC()
	cur, prev := Windows(now, windowDays)

	snap, err := s.load(ctx, cur, prev)
	if err != nil {
		return Dashboard{}, err
	}

	linkedBySession := groupBySession(snap.linked)
	prevLinkedBySession := groupBySession(snap.prevLinked)

	d := Dashboard{
		WindowDays:  windowDays,
		GeneratedAt: now,
		Current:     cur,
		Previous:    prev,
	}
	d.Hero = heroMetrics(snap, linkedBySession, prevLinkedBySession)
	d.Operational = operationalMetrics(snap)
	d.Funnel = funnel(snap.sessions, linkedBySession)
	d.FunnelConsistent = FunnelConsistent(d.Funnel)
	if !d.FunnelConsistent {
		s.log.Warn("conversion funnel is not monotonic", "funnel", d.Funnel, "window_days", windowDays)
	}
	d.Timeline = s.timeline(snap.sessions, linkedBySession, cur)
	d.Hourly = s.hourly(snap.sessions, snap.orders)
	d.OrderTypes = orderTypes(snap.orders)
	d.Intents = intents(snap.sessions)
	d.TopCallers = topCallers(snap.orders, snap.callers)
	d.RecentOrders = recentOrders(snap.orders, snap.callers)
	d.RecentCalls = recentCalls(snap.sessions, snap.callers, snap.messages, linkedBySession)
	return d, nil
}

// load runs the independent reads concurrently, then the reads keyed by their results.
func (s *Service) load(ctx context.Context, cur, prev TimeRange) (snapshot, error) {
	var snap snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.sessions, err = s.repo.ListSessions(gctx, cur.From, cur.To)
		return wrap("list current sessions", err)
	})
	g.Go(func() (err error) {
		snap.prevSessions, err = s.repo.ListSessions(gctx, prev.From, prev.To)
		return wrap("list previous sessions", err)
	})
	g.Go(func() (err error) {
		snap.orders, err = s.repo.ListOrders(gctx, cur.From, cur.To)
		return wrap("list current orders", err)
	})
	g.Go(func() (err error) {
		snap.prevOrders, err = s.repo.ListOrders(gctx, prev.From, prev.To)
		return wrap("list previous orders", err)
	})
	g.Go(func() (err error) {
		snap.chats, err = s.repo.CountChatSessions(gctx, cur.From, cur.To)
		return wrap("count chat sessions", err)
	})
	g.Go(func() (err error) {
		snap.appointments, err = s.repo.CountAppointments(gctx, cur.From, cur.To)
		return wrap("count appointments", err)
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}

	recent := mostRecentSessions(snap.sessions, recentCallsLimit)
	recentIDs := make([]calls.SessionID, 0, len(recent))
	for _, rs := range recent {
		recentIDs = append(recentIDs, rs.ID)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.linked, err = s.repo.ListOrdersForSessions(gctx, sessionIDs(snap.sessions))
		return wrap("list orders for current sessions", err)
	})
	g.Go(func() (err error) {
		snap.prevLinked, err = s.repo.ListOrdersForSessions(gctx, sessionIDs(snap.prevSessions))
		return wrap("list orders for previous sessions", err)
	})
	g.Go(func() (err error) {
		snap.callers, err = s.repo.GetCallers(gctx, callerIDs(snap.orders, recent))
		return wrap("get callers", err)
	})
	g.Go(func() (err error) {
		snap.messages, err = s.repo.ListMessages(gctx, recentIDs)
		return wrap("list messages", err)
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("reporting: %s: %w", op, err)
}

// PctChange is (current-previous)/previous*100 rounded to one decimal.
// From a zero baseline it is 100 when anything happened and 0 otherwise.
func PctChange(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return round1((current - previous) / previous * 100)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

type revenue struct {
	sum   float64
	count int
}

func (r revenue) avg() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

func rollup(os []orders.Order) revenue {
	var r revenue
	for _, o := range os {
		if o.IsCancelled() {
			continue
		}
		r.sum += o.Total
		r.count++
	}
	return r
}

func countStatus(ss []calls.Session, st calls.CallStatus) int {
	n := 0
	for _, s := range ss {
		if s.Status == st {
			n++
		}
	}
	return n
}

func converted(ss []calls.Session, linked map[calls.SessionID][]orders.Order) int {
	n := 0
	for _, s := range ss {
		if len(linked[s.ID]) > 0 {
			n++
		}
	}
	return n
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

func heroMetrics(snap snapshot, linked, prevLinked map[calls.SessionID][]orders.Order) HeroMetrics {
	cur := rollup(snap.orders)
	prev := rollup(snap.prevOrders)

	convertedNow := converted(snap.sessions, linked)
	convertedPrev := converted(snap.prevSessions, prevLinked)
	convNow := rate(convertedNow, countStatus(snap.sessions, calls.CallStatusCompleted))
	convPrev := rate(convertedPrev, countStatus(snap.prevSessions, calls.CallStatusCompleted))

	return HeroMetrics{
		Revenue:                 round2(cur.sum),
		RevenueChange:           PctChange(cur.sum, prev.sum),
		Orders:                  cur.count,
		OrdersChange:            PctChange(float64(cur.count), float64(prev.count)),
		AverageOrderValue:       round2(cur.avg()),
		AverageOrderValueChange: PctChange(cur.avg(), prev.avg()),
		ConvertedCalls:          convertedNow,
		ConversionRate:          round1(convNow),
		ConversionChange:        PctChange(convNow, convPrev),
	}
}

func operationalMetrics(snap snapshot) OperationalMetrics {
	out := OperationalMetrics{
		TotalCalls:        len(snap.sessions),
		TotalChats:        snap.chats,
		TotalAppointments: snap.appointments,
	}
	totalDuration := 0
	for _, s := range snap.sessions {
		if s.Status != calls.CallStatusCompleted {
			continue
		}
		out.CompletedCalls++
		totalDuration += s.Duration()
		if s.Resolved {
			out.ResolvedCalls++
		}
	}
	out.ResolutionRate = round1(rate(out.ResolvedCalls, out.CompletedCalls))
	if out.CompletedCalls > 0 {
		out.AverageCallDuration = int(math.Round(float64(totalDuration) / float64(out.CompletedCalls)))
	}

	var tto, n int
	for _, o := range snap.orders {
		if o.TimeToOrderSeconds != nil {
			tto += *o.TimeToOrderSeconds
			n++
		}
	}
	if n > 0 {
		out.AverageTimeToOrder = round1(float64(tto) / float64(n))
	}
	return out
}

func funnel(ss []calls.Session, linked map[calls.SessionID][]orders.Order) []FunnelStage {
	var completed, classified, withOrder, fulfilled int
	for _, s := range ss {
		if s.Status == calls.CallStatusCompleted {
			completed++
			if s.Classified() {
				classified++
			}
		}
		if os := linked[s.ID]; len(os) > 0 {
			withOrder++
			for _, o := range os {
				if o.IsFulfilled() {
					fulfilled++
				}
			}
		}
	}
	return []FunnelStage{
		{Stage: StageTotalCalls, Count: len(ss)},
		{Stage: StageCompletedCalls, Count: completed},
		{Stage: StageClassifiedCalls, Count: classified},
		{Stage: StageCallsWithOrder, Count: withOrder},
		{Stage: StageFulfilledOrders, Count: fulfilled},
	}
}

// FunnelConsistent reports whether no stage exceeds the one before it.
func FunnelConsistent(stages []FunnelStage) bool {
	for i := 1; i < len(stages); i++ {
		if stages[i].Count > stages[i-1].Count {
			return false
		}
	}
	return true
}

func (s *Service) timeline(ss []calls.Session, linked map[calls.SessionID][]orders.Order, cur TimeRange) []DailyBucket {
	type acc struct {
		calls   int
		revenue revenue
	}
	byDay := map[string]*acc{}
	get := func(day string) *acc {
		a, ok := byDay[day]
		if !ok {
			a = &acc{}
			byDay[day] = a
		}
		return a
	}

	for _, sess := range ss {
		a := get(sess.StartTime.In(s.opts.Location).Format(time.DateOnly))
		a.calls++
		r := rollup(linked[sess.ID])
		a.revenue.sum += r.sum
		a.revenue.count += r.count
	}

	if s.opts.ZeroFill {
		from := cur.From.In(s.opts.Location)
		day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, s.opts.Location)
		for ; day.Before(cur.To); day = day.AddDate(0, 0, 1) {
			get(day.Format(time.DateOnly))
		}
	}

	out := make([]DailyBucket, 0, len(byDay))
	for day, a := range byDay {
		out = append(out, DailyBucket{Date: day, Calls: a.calls, Orders: a.revenue.count, Revenue: round2(a.revenue.sum)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (s *Service) hourly(ss []calls.Session, os []orders.Order) []HourlyBucket {
	out := make([]HourlyBucket, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, sess := range ss {
		out[sess.StartTime.In(s.opts.Location).Hour()].Calls++
	}
	for _, o := range os {
		out[o.CreatedAt.In(s.opts.Location).Hour()].Orders++
	}
	return out
}

func orderTypes(os []orders.Order) []OrderTypeShare {
	idx := map[orders.Type]int{}
	var out []OrderTypeShare
	for _, o := range os {
		i, ok := idx[o.Type]
		if !ok {
			i = len(out)
			idx[o.Type] = i
			out = append(out, OrderTypeShare{Type: o.Type})
		}
		out[i].Count++
		if !o.IsCancelled() {
			out[i].Revenue += o.Total
		}
	}
	for i := range out {
		out[i].Revenue = round2(out[i].Revenue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func intents(ss []calls.Session) []IntentShare {
	counts := map[intent.Label]int{}
	for _, s := range ss {
		if s.Classified() {
			counts[s.Intent]++
		}
	}
	out := make([]IntentShare, 0, len(counts))
	for l, n := range counts {
		out = append(out, IntentShare{Intent: l, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Intent < out[j].Intent
	})
	return out
}

func callerName(c calls.Caller, fallback string) string {
	if name := c.DisplayName(); name != "" {
		return name
	}
	if c.PhoneNumber != "" {
		return c.PhoneNumber
	}
	return fallback
}

func topCallers(os []orders.Order, callers map[string]calls.Caller) []CallerRanking {
	byCaller := map[string]*revenue{}
	for _, o := range os {
		if o.IsCancelled() || o.CallerID == "" {
			continue
		}
		r, ok := byCaller[o.CallerID]
		if !ok {
			r = &revenue{}
			byCaller[o.CallerID] = r
		}
		r.sum += o.Total
		r.count++
	}

	out := make([]CallerRanking, 0, len(byCaller))
	for id, r := range byCaller {
		c := callers[id]
		out = append(out, CallerRanking{
			CallerID:     id,
			Name:         c.DisplayName(),
			Company:      c.Company,
			PhoneNumber:  c.PhoneNumber,
			Orders:       r.count,
			Revenue:      round2(r.sum),
			AverageOrder: round2(r.avg()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].CallerID < out[j].CallerID
	})
	if len(out) > topCallersLimit {
		out = out[:topCallersLimit]
	}
	return out
}

func recentOrders(os []orders.Order, callers map[string]calls.Caller) []RecentOrder {
	sorted := append([]orders.Order(nil), os...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > recentOrdersLimit {
		sorted = sorted[:recentOrdersLimit]
	}
	out := make([]RecentOrder, 0, len(sorted))
	for _, o := range sorted {
		out = append(out, RecentOrder{
			ID:         o.ID,
			CallerID:   o.CallerID,
			CallerName: callerName(callers[o.CallerID], "Unknown"),
			Type:       o.Type,
			Status:     o.Status,
			Total:      round2(o.Total),
			GuestCount: o.GuestCount,
			CreatedAt:  o.CreatedAt,
		})
	}
	return out
}

func mostRecentSessions(ss []calls.Session, n int) []calls.Session {
	sorted := append([]calls.Session(nil), ss...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.After(sorted[j].StartTime) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func recentCalls(ss []calls.Session, callers map[string]calls.Caller, msgs map[calls.SessionID][]calls.Message, linked map[calls.SessionID][]orders.Order) []RecentCall {
	recent := mostRecentSessions(ss, recentCallsLimit)
	out := make([]RecentCall, 0, len(recent))
	for _, s := range recent {
		transcript := msgs[s.ID]
		rc := RecentCall{
			SessionID:    s.ID,
			CallID:       s.CallID,
			Caller:       callerName(callers[s.CallerID], s.PhoneNumber),
			PhoneNumber:  s.PhoneNumber,
			Status:       s.Status,
			Intent:       s.Intent,
			Resolved:     s.Resolved,
			StartTime:    s.StartTime,
			Duration:     s.DurationSeconds,
			MessageCount: len(transcript),
			Summary:      Summary(len(transcript)),
			Transcript:   Transcript(transcript),
		}
		if os := linked[s.ID]; len(os) > 0 {
			var total float64
			for _, o := range os {
				total += o.Total
			}
			total = round2(total)
			rc.OrderTotal = &total
		}
		out = append(out, rc)
	}
	return out
}

// Summary is the one-line description of a call transcript.
func Summary(messages int) string {
	if messages == 0 {
		return "No conversation recorded"
	}
	return fmt.Sprintf("%d messages exchanged", messages)
}

// Transcript renders messages as "ROLE: content" lines.
func Transcript(msgs []calls.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func groupBySession(os []orders.Order) map[calls.SessionID][]orders.Order {
	out := map[calls.SessionID][]orders.Order{}
	for _, o := range os {
		if o.SessionID == nil {
			continue
		}
		out[*o.SessionID] = append(out[*o.SessionID], o)
	}
	return out
}

func sessionIDs(ss []calls.Session) []calls.SessionID {
	out := make([]calls.SessionID, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.ID)
	}
	return out
}

func callerIDs(os []orders.Order, ss []calls.Session) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, o := range os {
		add(o.CallerID)
	}
	for _, s := range ss {
		add(s.CallerID)
	}
	return out
}

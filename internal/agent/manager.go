package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/risk"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// Outcome classifies how a tick ended.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeSubmitted Outcome = "submitted"
	OutcomeRejected  Outcome = "rejected"
	OutcomePending   Outcome = "pending"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeFailed    Outcome = "failed"
)

// Alert event names passed to the Alerter.
const (
	EventCircuitBreaker  = "circuit_breaker"
	EventVerdictRejected = "verdict_rejected"
	EventRevision        = "revision_adopted"
	EventError           = "error"
)

// TickReport describes one pass through research, trading and risk.
type TickReport struct {
	Symbol   string              `json:"symbol"`
	Revision int64               `json:"revision"`
	At       time.Time           `json:"at"`
	Outcome  Outcome             `json:"outcome"`
	Signals  []domain.Signal     `json:"signals,omitempty"`
	Intent   *domain.OrderIntent `json:"intent,omitempty"`
	Verdict  *domain.Verdict     `json:"verdict,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// EventSink receives decisions, revisions and fills as they happen. Calls
// are made from the manager goroutine and must return promptly.
type EventSink interface {
	OnDecision(ctx context.Context, rep TickReport)
	OnRevision(ctx context.Context, cfg domain.StrategyConfig)
	OnFill(ctx context.Context, fill domain.Fill, pos domain.Position)
}

// Alerter forwards operator notifications. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// FillRecorder persists applied fills.
type FillRecorder interface {
	InsertFill(ctx context.Context, fill domain.Fill) error
}

// Config bounds the manager loop.
type Config struct {
	Symbols []string
	// TickInterval drives ticks on a timer. Zero ticks on feed updates.
	TickInterval  time.Duration
	TickTimeout   time.Duration
	SubmitTimeout time.Duration
	// PendingTTL drops a pending order whose terminal report has not
	// arrived in time. Zero waits indefinitely.
	PendingTTL time.Duration
}

// PendingOrder is a submitted intent awaiting confirmation. Until it is
// terminal, its unfilled quantity is reserved against the risk limits.
type PendingOrder struct {
	IntentID   string            `json:"intent_id"`
	Symbol     string            `json:"symbol"`
	Side       domain.Side       `json:"side"`
	Quantity   float64           `json:"quantity"`
	Filled     float64           `json:"filled"`
	Price      float64           `json:"price"`
	ReduceOnly bool              `json:"reduce_only"`
	DecidedAt  time.Time         `json:"decided_at"`
	State      domain.OrderState `json:"state"`
	Since      time.Time         `json:"since"`
}

// reservation is the unfilled remainder of p as an intent.
func (p PendingOrder) reservation() domain.OrderIntent {
	return domain.OrderIntent{
		ID:         p.IntentID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   p.Quantity - p.Filled,
		Price:      p.Price,
		ReduceOnly: p.ReduceOnly,
	}
}

// Status is a point-in-time view of manager health.
type Status struct {
	Running     bool              `json:"running"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	Uptime      string            `json:"uptime,omitempty"`
	Revision    int64             `json:"revision"`
	ConfigName  string            `json:"config_name"`
	Ticks       map[Outcome]int64 `json:"ticks"`
	Fills       int64             `json:"fills"`
	Duplicates  int64             `json:"duplicate_fills"`
	Expired     int64             `json:"expired_orders"`
	Pending     []PendingOrder    `json:"pending"`
	LastTickAt  time.Time         `json:"last_tick_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	LastErrorAt time.Time         `json:"last_error_at,omitempty"`
}

// Manager sequences research, trading and risk for each tick and routes
// approved intents to execution. Book mutations happen only on the goroutine
// running Run (or the caller of Tick and HandleReport when driven directly).
type Manager struct {
	cfg    Config
	feed   domain.MarketDataFeed
	exec   domain.ExecutionClient
	book   *risk.Book
	limits *risk.LimitsHolder
	active atomic.Pointer[strategy.Compiled]
	logger *slog.Logger

	sink    EventSink
	alerter Alerter
	fills   FillRecorder

	resetCh chan struct{}
	now     func() time.Time

	mu        sync.Mutex
	pending   map[string]PendingOrder // by symbol
	intents   map[string]string       // intent id -> symbol
	traded    map[string]time.Time    // symbol -> decision time of last submit
	ticks     map[Outcome]int64
	nFills    int64
	nDupes    int64
	nExpired  int64
	lastTick  time.Time
	lastErr   string
	lastErrAt time.Time
	started   time.Time
	running   bool
}

// NewManager wires a manager. A revision must be installed with Publish or
// Adopt before Tick or Run.
func NewManager(cfg Config, feed domain.MarketDataFeed, exec domain.ExecutionClient, book *risk.Book, limits *risk.LimitsHolder, logger *slog.Logger) *Manager {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 5 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		feed:    feed,
		exec:    exec,
		book:    book,
		limits:  limits,
		logger:  logger.With(slog.String("component", "agent_manager")),
		resetCh: make(chan struct{}, 1),
		now:     time.Now,
		pending: make(map[string]PendingOrder),
		intents: make(map[string]string),
		traded:  make(map[string]time.Time),
		ticks:   make(map[Outcome]int64),
	}
}

// SetEventSink sets the receiver of decisions, revisions and fills.
func (m *Manager) SetEventSink(s EventSink) { m.sink = s }

// SetAlerter enables operator notifications.
func (m *Manager) SetAlerter(a Alerter) { m.alerter = a }

// SetFillRecorder enables fill persistence.
func (m *Manager) SetFillRecorder(f FillRecorder) { m.fills = f }

// Book returns the live portfolio book for read-only snapshots.
func (m *Manager) Book() *risk.Book { return m.book }

// Limits returns the risk limits holder.
func (m *Manager) Limits() *risk.LimitsHolder { return m.limits }

// Active returns the active compiled revision, or nil.
func (m *Manager) Active() *strategy.Compiled { return m.active.Load() }

// Publish compiles cfg and installs it as the next revision. The new
// revision is picked up by the next tick; a tick in flight keeps the one it
// loaded.
func (m *Manager) Publish(ctx context.Context, cfg domain.StrategyConfig) (int64, error) {
	cfg = cfg.Clone()
	cfg.CreatedAt = m.now().UTC()
	compiled, err := strategy.Compile(cfg)
	if err != nil {
		return 0, fmt.Errorf("agent: publish: %w", err)
	}
	for {
		cur := m.active.Load()
		rev := int64(1)
		if cur != nil {
			rev = cur.Revision() + 1
		}
		next := compiled.WithRevision(rev)
		if m.active.CompareAndSwap(cur, next) {
			m.announceRevision(ctx, next)
			return rev, nil
		}
	}
}

// Adopt installs a stored revision as-is. It fails with
// domain.ErrRevisionStale unless cfg.Revision is newer than the active one.
func (m *Manager) Adopt(ctx context.Context, cfg domain.StrategyConfig) error {
	compiled, err := strategy.Compile(cfg)
	if err != nil {
		return fmt.Errorf("agent: adopt: %w", err)
	}
	cur := m.active.Load()
	if cur != nil && cfg.Revision <= cur.Revision() {
		return fmt.Errorf("agent: adopt revision %d (active %d): %w", cfg.Revision, cur.Revision(), domain.ErrRevisionStale)
	}
	if !m.active.CompareAndSwap(cur, compiled) {
		return fmt.Errorf("agent: adopt revision %d: %w", cfg.Revision, domain.ErrRevisionStale)
	}
	m.announceRevision(ctx, compiled)
	return nil
}

func (m *Manager) announceRevision(ctx context.Context, c *strategy.Compiled) {
	m.logger.InfoContext(ctx, "strategy revision active",
		slog.String("config", c.Name()),
		slog.Int64("revision", c.Revision()),
		slog.Int("strategies", len(c.Instances())),
	)
	if m.sink != nil {
		m.sink.OnRevision(ctx, c.Config())
	}
	m.alert(ctx, EventRevision, "Strategy revision active",
		fmt.Sprintf("%s revision %d", c.Name(), c.Revision()))
}

// RequestReset asks the run loop to start a new risk day, re-arming the
// circuit breaker. It does not block.
func (m *Manager) RequestReset() {
	select {
	case m.resetCh <- struct{}{}:
	default:
	}
}

// Tick runs one decision pass for symbol. The revision and limits are read
// once at the start and used for the whole tick. Errors wrapping
// domain.ErrFatal must stop the caller; any other error only abandoned
// this tick.
func (m *Manager) Tick(ctx context.Context, symbol string) (rep TickReport, err error) {
	compiled := m.active.Load()
	limits := m.limits.Load()
	rep = TickReport{Symbol: symbol, At: m.now().UTC(), Outcome: OutcomeIdle}
	if compiled == nil {
		rep.Outcome = OutcomeFailed
		err = fmt.Errorf("agent: tick %s: no active revision: %w", symbol, domain.ErrFatal)
		m.finish(ctx, &rep, err)
		return rep, err
	}
	rep.Revision = compiled.Revision()
	m.expirePending(ctx)

	var inFlight string
	defer func() {
		if r := recover(); r != nil {
			if inFlight != "" {
				m.clearPending(inFlight)
			}
			rep.Outcome = OutcomeFailed
			err = fmt.Errorf("agent: tick %s: panic: %v", symbol, r)
		}
		m.finish(ctx, &rep, err)
	}()

	fctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	snap, err := m.feed.Snapshot(fctx, symbol)
	cancel()
	if err != nil {
		rep.Outcome = OutcomeAbandoned
		return rep, fmt.Errorf("agent: tick %s: snapshot: %w", symbol, err)
	}
	if snap.Gap {
		rep.Outcome = OutcomeAbandoned
		return rep, fmt.Errorf("agent: tick %s: %w at %s", symbol, domain.ErrDataGap, snap.Timestamp.Format(time.RFC3339))
	}
	if !snap.Timestamp.IsZero() {
		rep.At = snap.Timestamp
		if m.book.RollDay(snap.Timestamp) {
			m.logger.InfoContext(ctx, "risk day rolled", slog.Time("day", risk.DayOf(snap.Timestamp)))
		}
	}

	m.book.Mark(symbol, snap.Bar.Close)
	portfolio := m.book.Snapshot()

	rep.Signals = Generate(snap, compiled)
	intent, ok := DecideAt(rep.Signals, portfolio, compiled, snap.Timestamp)
	if !ok {
		return rep, nil
	}
	rep.Intent = &intent

	if m.isPending(intent.Symbol) {
		rep.Outcome = OutcomePending
		return rep, nil
	}
	// A timer tick can see the same bar again. Its intent has the id of the
	// one already submitted on that bar, so the bar is not traded twice.
	if m.tradedAt(intent.Symbol, intent.CreatedAt) {
		return rep, nil
	}

	verdict := risk.Evaluate(intent, risk.WithPending(portfolio, m.reservations()), limits)
	rep.Verdict = &verdict
	log := m.logger.With(
		slog.String("symbol", intent.Symbol),
		slog.String("intent_id", intent.ID),
		slog.String("side", string(intent.Side)),
		slog.Int64("revision", compiled.Revision()),
	)
	switch verdict.Kind {
	case domain.VerdictRejected:
		rep.Outcome = OutcomeRejected
		log.WarnContext(ctx, "intent rejected by risk",
			slog.String("reason", string(verdict.Reason)),
			slog.String("limit", verdict.Limit),
			slog.String("detail", verdict.Detail),
			slog.Float64("quantity", intent.Quantity),
		)
		if verdict.Reason == domain.ReasonDailyLoss {
			m.alert(ctx, EventVerdictRejected, "Intent rejected", fmt.Sprintf("%s %s: %s", intent.Symbol, verdict.Limit, verdict.Detail))
		}
		return rep, nil
	case domain.VerdictResized:
		log.InfoContext(ctx, "intent resized by risk",
			slog.String("limit", verdict.Limit),
			slog.Float64("from", verdict.OriginalQuantity),
			slog.Float64("to", verdict.Intent.Quantity),
		)
	}

	final := verdict.Intent
	m.markPending(final)
	inFlight = final.ID

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	err = m.exec.Submit(sctx, final)
	cancel()
	if err != nil {
		m.clearPending(final.ID)
		inFlight = ""
		rep.Outcome = OutcomeAbandoned
		if errors.Is(err, domain.ErrDuplicateIntent) {
			m.markTraded(final)
		}
		return rep, fmt.Errorf("agent: tick %s: submit %s: %w", symbol, final.ID, err)
	}
	inFlight = ""
	m.markTraded(final)
	rep.Outcome = OutcomeSubmitted
	log.InfoContext(ctx, "intent submitted",
		slog.Float64("quantity", final.Quantity),
		slog.Float64("price", final.Price),
		slog.Bool("reduce_only", final.ReduceOnly),
	)
	return rep, nil
}

func (m *Manager) finish(ctx context.Context, rep *TickReport, err error) {
	if err != nil {
		rep.Error = err.Error()
		lvl := slog.LevelWarn
		if errors.Is(err, domain.ErrFatal) || rep.Outcome == OutcomeFailed {
			lvl = slog.LevelError
		}
		m.logger.Log(ctx, lvl, "tick ended early",
			slog.String("symbol", rep.Symbol),
			slog.String("outcome", string(rep.Outcome)),
			slog.String("error", err.Error()),
		)
	}
	m.mu.Lock()
	m.ticks[rep.Outcome]++
	m.lastTick = rep.At
	if err != nil {
		m.lastErr = err.Error()
		m.lastErrAt = m.now().UTC()
	}
	m.mu.Unlock()

	if m.sink != nil && rep.Outcome != OutcomeIdle {
		m.sink.OnDecision(ctx, *rep)
	}
}

// HandleReport applies an execution report. Fills go to the book, where a
// repeated fill id is detected and ignored. Terminal reports clear the
// pending order for their intent.
func (m *Manager) HandleReport(ctx context.Context, report domain.ExecutionReport) error {
	log := m.logger.With(
		slog.String("intent_id", report.IntentID),
		slog.String("status", string(report.Status)),
	)

	order, known := m.pendingOrder(report.IntentID)
	if !known {
		log.WarnContext(ctx, "report for unknown intent")
	}

	var applyErr error
	switch report.Status {
	case domain.ReportFilled, domain.ReportPartial:
		if report.Fill == nil {
			applyErr = fmt.Errorf("agent: report %s: %s without fill", report.IntentID, report.Status)
			break
		}
		fill := *report.Fill
		if known && fill.DecidedAt.IsZero() {
			fill.DecidedAt = order.DecidedAt
		}
		var applied bool
		applied, applyErr = m.applyFill(ctx, fill)
		if applied && report.Status == domain.ReportPartial {
			m.notePartial(report.IntentID, fill.Quantity)
		}
	case domain.ReportRejected:
		log.WarnContext(ctx, "order rejected by venue", slog.String("reason", report.Reason))
	default:
		applyErr = fmt.Errorf("agent: report %s: unknown status %q", report.IntentID, report.Status)
	}

	if report.Terminal() {
		m.clearPending(report.IntentID)
	}
	if applyErr == nil && !known && report.Fill == nil {
		return fmt.Errorf("agent: report %s: %w", report.IntentID, domain.ErrUnknownIntent)
	}
	return applyErr
}

// applyFill reports whether the fill changed the book.
func (m *Manager) applyFill(ctx context.Context, fill domain.Fill) (bool, error) {
	res, err := m.book.ApplyFill(fill, m.limits.Load())
	if errors.Is(err, domain.ErrDuplicateFill) {
		m.mu.Lock()
		m.nDupes++
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "duplicate fill ignored", slog.String("fill_id", fill.ID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("agent: apply fill: %w", err)
	}
	m.mu.Lock()
	m.nFills++
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "fill applied",
		slog.String("fill_id", fill.ID),
		slog.String("symbol", fill.Symbol),
		slog.String("side", string(fill.Side)),
		slog.Float64("quantity", fill.Quantity),
		slog.Float64("price", fill.Price),
		slog.Float64("realized_pnl", res.RealizedPnL),
	)
	if m.fills != nil {
		sctx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
		if err := m.fills.InsertFill(sctx, fill); err != nil {
			m.logger.WarnContext(ctx, "persist fill failed", slog.String("fill_id", fill.ID), slog.String("error", err.Error()))
		}
		cancel()
	}
	if m.sink != nil {
		m.sink.OnFill(ctx, fill, res.Position)
	}
	if res.Breach {
		m.logger.ErrorContext(ctx, "exposure above limits after fill",
			slog.String("fill_id", fill.ID),
			slog.String("symbol", fill.Symbol),
		)
	}
	if res.Tripped {
		st := m.book.Snapshot()
		m.logger.WarnContext(ctx, "circuit breaker tripped",
			slog.String("reason", st.Breaker.Reason),
			slog.Float64("daily_realized_pnl", st.DailyRealizedPnL),
		)
		m.alert(ctx, EventCircuitBreaker, "Circuit breaker tripped",
			fmt.Sprintf("reason=%s daily_pnl=%.2f", st.Breaker.Reason, st.DailyRealizedPnL))
	}
	return true, nil
}

// Run drives ticks, reports and daily resets from one goroutine until ctx
// is cancelled or a fatal error occurs.
func (m *Manager) Run(ctx context.Context) error {
	if m.active.Load() == nil {
		return fmt.Errorf("agent: run: no active revision: %w", domain.ErrFatal)
	}
	m.mu.Lock()
	m.running = true
	m.started = m.now().UTC()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	symbols := make(map[string]bool, len(m.cfg.Symbols))
	for _, s := range m.cfg.Symbols {
		symbols[s] = true
	}

	var timer <-chan time.Time
	var updates <-chan string
	if m.cfg.TickInterval > 0 {
		t := time.NewTicker(m.cfg.TickInterval)
		defer t.Stop()
		timer = t.C
	} else {
		updates = m.feed.Updates()
	}
	reports := m.exec.Reports()

	m.logger.InfoContext(ctx, "agent manager started",
		slog.Any("symbols", m.cfg.Symbols),
		slog.Duration("tick_interval", m.cfg.TickInterval),
	)
	defer m.logger.Info("agent manager stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer:
			for _, sym := range m.cfg.Symbols {
				if _, err := m.Tick(ctx, sym); errors.Is(err, domain.ErrFatal) {
					return err
				}
			}

		case sym, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !symbols[sym] {
				continue
			}
			if _, err := m.Tick(ctx, sym); errors.Is(err, domain.ErrFatal) {
				return err
			}

		case r, ok := <-reports:
			if !ok {
				reports = nil
				continue
			}
			if err := m.HandleReport(ctx, r); err != nil && !errors.Is(err, domain.ErrUnknownIntent) {
				m.logger.ErrorContext(ctx, "handle report failed", slog.String("error", err.Error()))
			}

		case <-m.resetCh:
			m.book.ResetDaily(m.now())
			m.logger.InfoContext(ctx, "risk day reset by operator")
		}
	}
}

// Status reports counters and pending orders.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:     m.running,
		StartedAt:   m.started,
		Ticks:       make(map[Outcome]int64, len(m.ticks)),
		Fills:       m.nFills,
		Duplicates:  m.nDupes,
		Expired:     m.nExpired,
		LastTickAt:  m.lastTick,
		LastError:   m.lastErr,
		LastErrorAt: m.lastErrAt,
	}
	if m.running {
		st.Uptime = m.now().UTC().Sub(m.started).Round(time.Second).String()
	}
	for k, v := range m.ticks {
		st.Ticks[k] = v
	}
	for _, p := range m.pending {
		st.Pending = append(st.Pending, p)
	}
	sort.Slice(st.Pending, func(i, j int) bool { return st.Pending[i].Symbol < st.Pending[j].Symbol })
	if c := m.active.Load(); c != nil {
		st.Revision = c.Revision()
		st.ConfigName = c.Name()
	}
	return st
}

func (m *Manager) isPending(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[symbol]
	return ok
}

func (m *Manager) pendingOrder(intentID string) (PendingOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sym, ok := m.intents[intentID]
	if !ok {
		return PendingOrder{}, false
	}
	p, ok := m.pending[sym]
	return p, ok && p.IntentID == intentID
}

// reservations lists the unfilled remainder of every pending order.
func (m *Manager) reservations() []domain.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderIntent, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.reservation())
	}
	return out
}

func (m *Manager) markPending(in domain.OrderIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[in.Symbol] = PendingOrder{
		IntentID:   in.ID,
		Symbol:     in.Symbol,
		Side:       in.Side,
		Quantity:   in.Quantity,
		Price:      in.Price,
		ReduceOnly: in.ReduceOnly,
		DecidedAt:  in.CreatedAt,
		State:      domain.OrderPending,
		Since:      m.now().UTC(),
	}
	m.intents[in.ID] = in.Symbol
}

func (m *Manager) notePartial(intentID string, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sym, ok := m.intents[intentID]
	if !ok {
		return
	}
	p := m.pending[sym]
	p.State = domain.OrderPartial
	p.Filled = math.Min(p.Quantity, p.Filled+qty)
	m.pending[sym] = p
}

func (m *Manager) markTraded(in domain.OrderIntent) {
	if in.CreatedAt.IsZero() {
		return
	}
	m.mu.Lock()
	m.traded[in.Symbol] = in.CreatedAt
	m.mu.Unlock()
}

func (m *Manager) tradedAt(symbol string, at time.Time) bool {
	if at.IsZero() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.traded[symbol]
	return ok && last.Equal(at)
}

// expirePending drops pending orders older than PendingTTL. A late report
// for an expired order still applies its fill.
func (m *Manager) expirePending(ctx context.Context) {
	if m.cfg.PendingTTL <= 0 {
		return
	}
	now := m.now().UTC()
	m.mu.Lock()
	var expired []PendingOrder
	for sym, p := range m.pending {
		if now.Sub(p.Since) >= m.cfg.PendingTTL {
			delete(m.pending, sym)
			delete(m.intents, p.IntentID)
			m.nExpired++
			expired = append(expired, p)
		}
	}
	m.mu.Unlock()
	for _, p := range expired {
		m.logger.WarnContext(ctx, "pending order expired without terminal report",
			slog.String("intent_id", p.IntentID),
			slog.String("symbol", p.Symbol),
			slog.Time("since", p.Since),
		)
	}
}

func (m *Manager) clearPending(intentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sym, ok := m.intents[intentID]
	if !ok {
		return
	}
	delete(m.intents, intentID)
	if p, ok := m.pending[sym]; ok && p.IntentID == intentID {
		delete(m.pending, sym)
	}
}

func (m *Manager) alert(ctx context.Context, event, title, message string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

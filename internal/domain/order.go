package domain

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderIntent is a proposed order. The trading agent drafts it, the risk
// evaluator may shrink its quantity, and only an approved or resized intent
// reaches the execution client.
type OrderIntent struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Type     OrderType `json:"type"`
	Quantity float64   `json:"quantity"`
	// Price is the reference price for market orders and the limit otherwise.
	Price      float64   `json:"price"`
	LotSize    float64   `json:"lot_size"`
	Signal     SignalRef `json:"signal"`
	Exposure   float64   `json:"exposure"` // proposed notional, Quantity * Price
	ReduceOnly bool      `json:"reduce_only,omitempty"`
	Revision   int64     `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notional returns Quantity * Price.
func (o OrderIntent) Notional() float64 {
	return o.Quantity * o.Price
}

// VerdictKind classifies a risk decision.
type VerdictKind string

const (
	VerdictApproved VerdictKind = "approved"
	VerdictResized  VerdictKind = "resized"
	VerdictRejected VerdictKind = "rejected"
)

// RejectReason names the check that rejected or resized an intent.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonInvalidIntent     RejectReason = "invalid_intent"
	ReasonPositionLimit     RejectReason = "position_limit"
	ReasonAggregateExposure RejectReason = "aggregate_exposure"
	ReasonDailyLoss         RejectReason = "daily_loss"
	ReasonMaxPositions      RejectReason = "max_positions"
	ReasonTradeFrequency    RejectReason = "trade_frequency"
	ReasonTradeInterval     RejectReason = "trade_interval"
)

// Verdict is the outcome of one risk evaluation. Intent is the final intent:
// unchanged when approved, with a reduced quantity when resized, and the
// original proposal when rejected.
type Verdict struct {
	Kind             VerdictKind  `json:"kind"`
	Intent           OrderIntent  `json:"intent"`
	OriginalQuantity float64      `json:"original_quantity"`
	Reason           RejectReason `json:"reason,omitempty"`
	Limit            string       `json:"limit,omitempty"`
	Detail           string       `json:"detail,omitempty"`
}

// Passed reports whether the intent may be sent to execution.
func (v Verdict) Passed() bool {
	return v.Kind == VerdictApproved || v.Kind == VerdictResized
}

// Fill is one confirmed execution. ID is the idempotence key for apply-fill.
type Fill struct {
	ID       string    `json:"id"`
	IntentID string    `json:"intent_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Fee      float64   `json:"fee"`
	Time     time.Time `json:"time"`

	// DecidedAt is the decision time of the intent being filled. When set,
	// the trade-interval clock runs on it instead of Time.
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// ReportStatus is the execution client's asynchronous answer for an intent.
type ReportStatus string

const (
	ReportFilled   ReportStatus = "filled"
	ReportPartial  ReportStatus = "partial"
	ReportRejected ReportStatus = "rejected"
)

// ExecutionReport carries one status update for a submitted intent.
type ExecutionReport struct {
	IntentID string       `json:"intent_id"`
	Status   ReportStatus `json:"status"`
	Fill     *Fill        `json:"fill,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Terminal reports whether no further reports follow for the intent.
func (r ExecutionReport) Terminal() bool {
	return r.Status == ReportFilled || r.Status == ReportRejected
}

// OrderState tracks a submitted intent awaiting confirmation.
type OrderState string

const (
	// OrderPending means submitted with no confirmation yet. It is neither
	// success nor failure.
	OrderPending  OrderState = "pending"
	OrderPartial  OrderState = "partial"
	OrderFilled   OrderState = "filled"
	OrderRejected OrderState = "rejected"
)

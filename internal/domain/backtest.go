package domain

import "time"

// SimulatedTrade is one fill produced by the backtest fill model.
type SimulatedTrade struct {
	ID          string      `json:"id"`
	IntentID    string      `json:"intent_id"`
	Time        time.Time   `json:"time"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	Fee         float64     `json:"fee"`
	RealizedPnL float64     `json:"realized_pnl"`
	Verdict     VerdictKind `json:"verdict"`
	StrategyID  string      `json:"strategy_id"`
}

// EquityPoint is the marked equity after a bar closed.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// BacktestMetrics summarises one run. ProfitFactor is 0 when undefined.
type BacktestMetrics struct {
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	FinalEquity    float64 `json:"final_equity"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Sharpe         float64 `json:"sharpe"`
	TradeCount     int     `json:"trade_count"`
	ClosedTrades   int     `json:"closed_trades"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	AverageWin     float64 `json:"average_win"`
	AverageLoss    float64 `json:"average_loss"`
	LargestWin     float64 `json:"largest_win"`
	LargestLoss    float64 `json:"largest_loss"`
	Fees           float64 `json:"fees"`
}

// BacktestSettings records every knob that influenced a run.
type BacktestSettings struct {
	InitialCapital float64    `json:"initial_capital"`
	SlippageBps    float64    `json:"slippage_bps"`
	FeeBps         float64    `json:"fee_bps"`
	WindowSize     int        `json:"window_size"`
	PeriodsPerYear float64    `json:"periods_per_year"`
	Seed           uint64     `json:"seed"`
	Limits         RiskLimits `json:"limits"`
}

// VerdictCounts tallies risk decisions taken during a run.
type VerdictCounts struct {
	Approved int `json:"approved"`
	Resized  int `json:"resized"`
	Rejected int `json:"rejected"`
}

// BacktestResult is the immutable outcome of one backtest run.
type BacktestResult struct {
	ID         string           `json:"id"`
	ConfigName string           `json:"config_name"`
	Revision   int64            `json:"revision"`
	ConfigHash string           `json:"config_hash"`
	Config     StrategyConfig   `json:"config"`
	Symbol     string           `json:"symbol"`
	Interval   string           `json:"interval"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Bars       int              `json:"bars"`
	Settings   BacktestSettings `json:"settings"`
	Metrics    BacktestMetrics  `json:"metrics"`
	Verdicts   VerdictCounts    `json:"verdicts"`
	Trades     []SimulatedTrade `json:"trades"`
	Equity     []EquityPoint    `json:"equity"`
}

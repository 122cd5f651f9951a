// Package executor turns approved intents into venue orders and reports
// their fills back asynchronously.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/platform/binance"
)

// OrderPlacer is the venue surface the live executor needs. The binance
// client implements it.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, req binance.OrderRequest) (binance.OrderResponse, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (binance.OrderResponse, error)
}

// RateLimitKey is the limiter key for order placement.
const RateLimitKey = "binance:orders"

// Live submits market orders to the venue. Submit only queues the intent;
// the Run loop places it and emits reports, so an order whose placement
// times out is reconciled by client order id instead of being guessed at.
type Live struct {
	placer  OrderPlacer
	limiter domain.RateLimiter
	dedup   *Dedup
	queue   chan domain.OrderIntent
	reports chan domain.ExecutionReport
	logger  *slog.Logger

	placeTimeout    time.Duration
	cleanupInterval time.Duration
}

// NewLive creates a live executor. limiter may be nil.
func NewLive(placer OrderPlacer, limiter domain.RateLimiter, logger *slog.Logger) *Live {
	return &Live{
		placer:          placer,
		limiter:         limiter,
		dedup:           NewDedup(10 * time.Minute),
		queue:           make(chan domain.OrderIntent, 64),
		reports:         make(chan domain.ExecutionReport, 256),
		logger:          logger.With(slog.String("component", "live_executor")),
		placeTimeout:    15 * time.Second,
		cleanupInterval: 30 * time.Second,
	}
}

// Reports returns the report channel.
func (l *Live) Reports() <-chan domain.ExecutionReport { return l.reports }

// Submit accepts intent for placement. A repeated intent id fails with
// domain.ErrDuplicateIntent; no second order or report is produced.
func (l *Live) Submit(ctx context.Context, intent domain.OrderIntent) error {
	if l.dedup.IsDuplicate(intent.ID) {
		l.logger.WarnContext(ctx, "duplicate intent refused", slog.String("intent_id", intent.ID))
		return fmt.Errorf("executor: submit %s: %w", intent.ID, domain.ErrDuplicateIntent)
	}
	select {
	case l.queue <- intent:
		return nil
	case <-ctx.Done():
		l.dedup.Forget(intent.ID)
		return fmt.Errorf("executor: submit %s: %w: queue full: %w", intent.ID, domain.ErrTransient, ctx.Err())
	}
}

// Run places queued intents until ctx is cancelled.
func (l *Live) Run(ctx context.Context) error {
	l.logger.Info("executor started")
	defer l.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(l.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent := <-l.queue:
			l.process(ctx, intent)
		case <-cleanupTicker.C:
			l.dedup.Cleanup()
		}
	}
}

func (l *Live) process(ctx context.Context, intent domain.OrderIntent) {
	log := l.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
	)

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx, RateLimitKey); err != nil {
			log.WarnContext(ctx, "rate limiter wait failed", slog.String("error", err.Error()))
			l.emit(ctx, domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportRejected, Reason: "rate limited"})
			return
		}
	}

	req, err := orderRequest(intent)
	if err != nil {
		log.WarnContext(ctx, "intent not placeable", slog.String("error", err.Error()))
		l.emit(ctx, domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportRejected, Reason: err.Error()})
		return
	}

	pctx, cancel := context.WithTimeout(ctx, l.placeTimeout)
	resp, err := l.placer.PlaceMarketOrder(pctx, req)
	cancel()
	if err != nil && ambiguous(err) {
		log.WarnContext(ctx, "order placement ambiguous, reconciling", slog.String("error", err.Error()))
		qctx, qcancel := context.WithTimeout(ctx, l.placeTimeout)
		resp, err = l.placer.QueryOrder(qctx, intent.Symbol, req.ClientOrderID)
		qcancel()
	}
	if err != nil {
		log.ErrorContext(ctx, "order placement failed", slog.String("error", err.Error()))
		l.emit(ctx, domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportRejected, Reason: err.Error()})
		return
	}

	log.InfoContext(ctx, "order placed",
		slog.Int64("order_id", resp.OrderID),
		slog.String("status", resp.Status),
		slog.String("executed_qty", resp.ExecutedQty),
	)
	for _, r := range reportsFor(intent, resp) {
		l.emit(ctx, r)
	}
}

func (l *Live) emit(ctx context.Context, r domain.ExecutionReport) {
	select {
	case l.reports <- r:
	case <-ctx.Done():
	}
}

// ambiguous reports whether the order may or may not have reached the book.
func ambiguous(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// orderRequest maps an intent to a MARKET order. Opening buys are sent as
// a quote amount so the executed notional never exceeds the approved one;
// everything else is sent as a base quantity floored to the lot.
func orderRequest(intent domain.OrderIntent) (binance.OrderRequest, error) {
	req := binance.OrderRequest{
		Symbol:        intent.Symbol,
		Side:          strings.ToUpper(string(intent.Side)),
		ClientOrderID: intent.ID,
	}
	if intent.Side == domain.SideBuy && !intent.ReduceOnly {
		quote := decimal.NewFromFloat(intent.Quantity * intent.Price).Truncate(2)
		if !quote.IsPositive() {
			return binance.OrderRequest{}, fmt.Errorf("quote amount %s not positive", quote)
		}
		req.QuoteOrderQty = quote.StringFixed(2)
		return req, nil
	}
	qty := domain.FormatQuantity(intent.Quantity, intent.LotSize)
	if v, _ := strconv.ParseFloat(qty, 64); v <= 0 {
		return binance.OrderRequest{}, fmt.Errorf("quantity %s not positive", qty)
	}
	req.Quantity = qty
	return req, nil
}

// reportsFor converts venue fills into reports. Every fill but the last is
// partial; the last is final when the order is FILLED. An order that ended
// short of FILLED closes with a rejected report.
func reportsFor(intent domain.OrderIntent, resp binance.OrderResponse) []domain.ExecutionReport {
	var out []domain.ExecutionReport
	for _, f := range resp.Fills {
		price, _ := strconv.ParseFloat(f.Price, 64)
		qty, _ := strconv.ParseFloat(f.Qty, 64)
		if qty <= 0 || price <= 0 {
			continue
		}
		fill := domain.Fill{
			ID:       fmt.Sprintf("binance-%s-%d", resp.Symbol, f.TradeID),
			IntentID: intent.ID,
			Symbol:   intent.Symbol,
			Side:     intent.Side,
			Quantity: qty,
			Price:    price,
			Fee:      feeInQuote(intent.Symbol, f, price),
			Time:     time.UnixMilli(resp.TransactTime).UTC(),
		}
		out = append(out, domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportPartial, Fill: &fill})
	}

	switch resp.Status {
	case binance.StatusFilled:
		if n := len(out); n > 0 {
			out[n-1].Status = domain.ReportFilled
			return out
		}
		return append(out, domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportRejected, Reason: "filled without fills"})
	case binance.StatusNew, binance.StatusPartiallyFilled:
		return out
	default:
		return append(out, domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportRejected, Reason: strings.ToLower(resp.Status)})
	}
}

// feeInQuote converts a commission into the quote currency. Commission in
// any third asset is not converted and counts as zero.
func feeInQuote(symbol string, f binance.OrderFill, price float64) float64 {
	c, err := strconv.ParseFloat(f.Commission, 64)
	if err != nil || c == 0 || f.CommissionAsset == "" {
		return 0
	}
	switch {
	case strings.HasSuffix(symbol, f.CommissionAsset):
		return c
	case strings.HasPrefix(symbol, f.CommissionAsset):
		return c * price
	default:
		return 0
	}
}


package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/platform/binance"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func intent(side domain.Side, qty, price float64) domain.OrderIntent {
	return domain.OrderIntent{
		ID: "0d6f1a52-8c1e-5b7a-9c64-2f8b1e7d3a90", Symbol: "BTCUSDT", Side: side,
		Type: domain.OrderTypeMarket, Quantity: qty, Price: price, LotSize: 0.0001,
	}
}

func TestPaperFillsWithSlippage(t *testing.T) {
	p := NewPaper(10, 5, discard())
	in := intent(domain.SideBuy, 0.5, 100)
	if err := p.Submit(context.Background(), in); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := <-p.Reports()
	if r.Status != domain.ReportFilled || r.Fill == nil {
		t.Fatalf("report = %+v", r)
	}
	if math.Abs(r.Fill.Price-100.1) > 1e-9 || r.Fill.Quantity != 0.5 {
		t.Fatalf("fill = %+v", r.Fill)
	}
	if math.Abs(r.Fill.Fee-0.5*100.1*5/10000) > 1e-12 {
		t.Fatalf("fee = %v", r.Fill.Fee)
	}

	if err := p.Submit(context.Background(), in); !errors.Is(err, domain.ErrDuplicateIntent) {
		t.Fatalf("resubmit = %v, want ErrDuplicateIntent", err)
	}
	select {
	case r := <-p.Reports():
		t.Fatalf("duplicate intent produced %+v", r)
	default:
	}
}

func TestPaperFillAtDecisionTime(t *testing.T) {
	p := NewPaper(0, 0, discard())
	decided := time.Date(2021, 7, 1, 13, 0, 0, 0, time.UTC)
	in := intent(domain.SideBuy, 1, 100)
	in.CreatedAt = decided
	if err := p.Submit(context.Background(), in); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r := <-p.Reports(); !r.Fill.Time.Equal(decided) {
		t.Fatalf("fill time = %v, want %v", r.Fill.Time, decided)
	}
}

func TestPaperFillIDIsStable(t *testing.T) {
	a, b := NewPaper(0, 0, discard()), NewPaper(0, 0, discard())
	in := intent(domain.SideSell, 1, 50)
	_ = a.Submit(context.Background(), in)
	_ = b.Submit(context.Background(), in)
	if (<-a.Reports()).Fill.ID != (<-b.Reports()).Fill.ID {
		t.Fatal("fill ids differ for the same intent")
	}
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	if d.IsDuplicate("a") {
		t.Fatal("first sighting is a duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sighting not detected")
	}
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	if d.IsDuplicate("a") {
		t.Fatal("expired id still a duplicate")
	}
}

func TestOrderRequest(t *testing.T) {
	req, err := orderRequest(intent(domain.SideBuy, 0.5, 501))
	if err != nil {
		t.Fatalf("orderRequest: %v", err)
	}
	if req.QuoteOrderQty != "250.50" || req.Quantity != "" || req.Side != "BUY" {
		t.Fatalf("buy = %+v", req)
	}

	sell := intent(domain.SideSell, 0.00259, 100000)
	req, err = orderRequest(sell)
	if err != nil {
		t.Fatalf("orderRequest: %v", err)
	}
	if req.Quantity != "0.0025" || req.QuoteOrderQty != "" {
		t.Fatalf("sell = %+v", req)
	}

	if _, err := orderRequest(intent(domain.SideSell, 0.00001, 100)); err == nil {
		t.Fatal("sub-lot quantity accepted")
	}
}

func TestReportsFor(t *testing.T) {
	in := intent(domain.SideBuy, 0.002, 100000)
	resp := binance.OrderResponse{
		Symbol: "BTCUSDT", Status: binance.StatusFilled, TransactTime: 1700000000000,
		Fills: []binance.OrderFill{
			{Price: "100000", Qty: "0.001", Commission: "0.1", CommissionAsset: "USDT", TradeID: 1},
			{Price: "100010", Qty: "0.001", Commission: "0.000001", CommissionAsset: "BTC", TradeID: 2},
		},
	}
	reps := reportsFor(in, resp)
	if len(reps) != 2 || reps[0].Status != domain.ReportPartial || reps[1].Status != domain.ReportFilled {
		t.Fatalf("reports = %+v", reps)
	}
	if reps[0].Fill.Fee != 0.1 || math.Abs(reps[1].Fill.Fee-0.10001) > 1e-9 {
		t.Fatalf("fees = %v, %v", reps[0].Fill.Fee, reps[1].Fill.Fee)
	}
	if reps[0].Fill.ID == reps[1].Fill.ID {
		t.Fatal("fill ids collide")
	}

	resp.Status = binance.StatusExpired
	resp.Fills = resp.Fills[:1]
	reps = reportsFor(in, resp)
	if len(reps) != 2 || reps[0].Status != domain.ReportPartial || reps[1].Status != domain.ReportRejected {
		t.Fatalf("expired = %+v", reps)
	}
}

type stubPlacer struct {
	placeErr error
	queried  bool
	resp     binance.OrderResponse
}

func (s *stubPlacer) PlaceMarketOrder(context.Context, binance.OrderRequest) (binance.OrderResponse, error) {
	if s.placeErr != nil {
		return binance.OrderResponse{}, s.placeErr
	}
	return s.resp, nil
}

func (s *stubPlacer) QueryOrder(context.Context, string, string) (binance.OrderResponse, error) {
	s.queried = true
	return s.resp, nil
}

func runLive(t *testing.T, placer *stubPlacer, in domain.OrderIntent) domain.ExecutionReport {
	t.Helper()
	l := NewLive(placer, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	if err := l.Submit(ctx, in); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case r := <-l.Reports():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no report")
	}
	return domain.ExecutionReport{}
}

func TestLiveReconcilesAmbiguousPlacement(t *testing.T) {
	placer := &stubPlacer{
		placeErr: domain.ErrTransient,
		resp: binance.OrderResponse{Symbol: "BTCUSDT", Status: binance.StatusFilled,
			Fills: []binance.OrderFill{{Price: "100", Qty: "1", TradeID: 5}}},
	}
	r := runLive(t, placer, intent(domain.SideSell, 1, 100))
	if !placer.queried {
		t.Fatal("ambiguous placement was not reconciled")
	}
	if r.Status != domain.ReportFilled || r.Fill.Quantity != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestLiveRejectsOnVenueError(t *testing.T) {
	placer := &stubPlacer{placeErr: errors.New("binance: HTTP 400: insufficient balance (-2010)")}
	r := runLive(t, placer, intent(domain.SideSell, 1, 100))
	if placer.queried || r.Status != domain.ReportRejected {
		t.Fatalf("queried = %v report = %+v", placer.queried, r)
	}
}

func TestLiveRefusesDuplicateIntent(t *testing.T) {
	l := NewLive(&stubPlacer{}, nil, discard())
	in := intent(domain.SideBuy, 1, 100)
	if err := l.Submit(context.Background(), in); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := l.Submit(context.Background(), in); !errors.Is(err, domain.ErrDuplicateIntent) {
		t.Fatalf("resubmit = %v, want ErrDuplicateIntent", err)
	}
	if n := len(l.queue); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}
}

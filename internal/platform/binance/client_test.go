package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/crypto"
	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func TestKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`[[1700000000000,"100.0","110.0","95.0","105.5","12.5",1700003599999,"0",1,"0","0","0"],
			[1700003600000,"105.5","106","104","104.25","3",1700007199999,"0",1,"0","0","0"]]`))
	}))
	defer srv.Close()

	bars, err := NewClient(srv.URL).Klines(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d", len(bars))
	}
	if !bars[0].Time.Equal(time.UnixMilli(1700000000000)) || bars[0].Close != 105.5 || bars[1].Volume != 3 {
		t.Fatalf("bars = %+v", bars)
	}
}

func TestPlaceMarketOrderIsSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("method %s key %q", r.Method, r.Header.Get("X-MBX-APIKEY"))
		}
		raw := r.URL.RawQuery
		idx := len(raw) - len("&signature=") - 64
		if idx < 0 || crypto.Sign("secret", raw[:idx]) != r.URL.Query().Get("signature") {
			t.Errorf("bad signature on %q", raw)
		}
		if r.URL.Query().Get("quoteOrderQty") != "250.00" {
			t.Errorf("quoteOrderQty = %q", r.URL.Query().Get("quoteOrderQty"))
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"c1","status":"FILLED","executedQty":"0.0025",
			"fills":[{"price":"100000","qty":"0.0025","commission":"0.1","commissionAsset":"USDT","tradeId":9}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetCredentials("key", "secret")
	resp, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "BUY", QuoteOrderQty: "250.00", ClientOrderID: "c1"})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if resp.Status != StatusFilled || len(resp.Fills) != 1 || resp.Fills[0].TradeID != 9 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSignedWithoutCredentials(t *testing.T) {
	_, err := NewClient("http://unused").QueryOrder(context.Background(), "BTCUSDT", "x")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	cases := []struct {
		code int
		body string
		want error
	}{
		{429, `{"code":-1003,"msg":"too many"}`, domain.ErrRateLimited},
		{401, `{"code":-2015,"msg":"bad key"}`, domain.ErrUnauthorized},
		{400, `{"code":-2013,"msg":"Order does not exist."}`, domain.ErrNotFound},
		{503, ``, domain.ErrTransient},
	}
	for _, tc := range cases {
		if err := checkStatus(tc.code, []byte(tc.body)); !errors.Is(err, tc.want) {
			t.Errorf("%d: err = %v, want %v", tc.code, err, tc.want)
		}
	}
	if err := checkStatus(200, nil); err != nil {
		t.Errorf("200: %v", err)
	}
}

func TestHandleMessageDeliversClosedKlines(t *testing.T) {
	var got []domain.Bar
	s := NewKlineStream("wss://x/stream", []string{"BTCUSDT"}, "1m", func(sym string, b domain.Bar) {
		if sym != "BTCUSDT" {
			t.Errorf("symbol = %s", sym)
		}
		got = append(got, b)
	})
	open := `{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"9","x":false}}}`
	closed := `{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"9","x":true}}}`
	s.handleMessage([]byte(open))
	s.handleMessage([]byte("not json"))
	s.handleMessage([]byte(closed))
	if len(got) != 1 || got[0].Close != 2 || got[0].High != 3 {
		t.Fatalf("got = %+v", got)
	}
	if s.URL() != "wss://x/stream?streams=btcusdt@kline_1m" {
		t.Fatalf("URL = %s", s.URL())
	}
}

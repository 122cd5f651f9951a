package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// APIError is the error body Binance returns on non-2xx responses.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// OrderRequest is a MARKET order. Exactly one of Quantity or QuoteOrderQty
// is set; both are pre-formatted decimal strings.
type OrderRequest struct {
	Symbol        string
	Side          string // "BUY" or "SELL"
	Quantity      string
	QuoteOrderQty string
	ClientOrderID string
}

// OrderFill is one execution inside an order response.
type OrderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// OrderResponse is the FULL response type for a new or queried order.
type OrderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	TransactTime        int64       `json:"transactTime"`
	Status              string      `json:"status"`
	Side                string      `json:"side"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Fills               []OrderFill `json:"fills"`
}

// Order statuses used by the executor.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// SymbolFilters holds the trading filters the executor needs.
type SymbolFilters struct {
	Symbol      string
	StepSize    float64
	TickSize    float64
	MinNotional float64
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			TickSize    string `json:"tickSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// parseKlines converts the REST array-of-arrays kline payload into bars.
// Field order: open time, open, high, low, close, volume, close time, ...
func parseKlines(body []byte) ([]domain.Bar, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	bars := make([]domain.Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		bars = append(bars, domain.Bar{
			Time:   time.UnixMilli(openMs).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return bars, nil
}

// klineEvent is the combined-stream kline message.
type klineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			Start    int64  `json:"t"`
			End      int64  `json:"T"`
			Interval string `json:"i"`
			Open     string `json:"o"`
			Close    string `json:"c"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// toBar converts a stream kline. ok is false for malformed values.
func (e klineEvent) toBar() (domain.Bar, bool) {
	k := e.Data.Kline
	parse := func(s string) (float64, bool) {
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}
	o, ok1 := parse(k.Open)
	h, ok2 := parse(k.High)
	l, ok3 := parse(k.Low)
	c, ok4 := parse(k.Close)
	v, ok5 := parse(k.Volume)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return domain.Bar{}, false
	}
	return domain.Bar{Time: time.UnixMilli(k.Start).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v}, true
}

// Package binance is a minimal Binance spot REST and stream client.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/crypto"
	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// MaxKlines is the per-request kline limit.
const MaxKlines = 1000

// Client is the REST client for the Binance spot API.
type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	recvWindow time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a REST client for baseURL, e.g. "https://api.binance.com".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: 5 * time.Second,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// SetCredentials configures the API key and secret for signed endpoints.
func (c *Client) SetCredentials(apiKey, secret string) {
	c.apiKey = apiKey
	c.secret = secret
}

// SetRecvWindow sets how long a signed request stays valid. Zero omits the
// parameter.
func (c *Client) SetRecvWindow(d time.Duration) { c.recvWindow = d }

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) { c.httpClient = h }

// Klines returns up to limit bars with open times in [start, end].
func (c *Client) Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if limit <= 0 || limit > MaxKlines {
		limit = MaxKlines
	}
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}
	bars, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s: %w", symbol, err)
	}
	return bars, nil
}

// Filters returns the lot, tick and notional filters for symbol.
func (c *Client) Filters(ctx context.Context, symbol string) (SymbolFilters, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return SymbolFilters{}, fmt.Errorf("binance: exchange info %s: %w", symbol, err)
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolFilters{}, fmt.Errorf("binance: decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := SymbolFilters{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				out.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			case "PRICE_FILTER":
				out.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "NOTIONAL", "MIN_NOTIONAL":
				out.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		return out, nil
	}
	return SymbolFilters{}, fmt.Errorf("binance: exchange info %s: %w", symbol, domain.ErrNotFound)
}

// PlaceMarketOrder submits a MARKET order and returns the FULL response.
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	if req.QuoteOrderQty != "" {
		params.Set("quoteOrderQty", req.QuoteOrderQty)
	} else {
		params.Set("quantity", req.Quantity)
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("binance: place order %s: %w", req.ClientOrderID, err)
	}
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	return resp, nil
}

// QueryOrder looks an order up by its client order id.
func (c *Client) QueryOrder(ctx context.Context, symbol, clientOrderID string) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	body, err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("binance: query order %s: %w", clientOrderID, err)
	}
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("binance: decode order: %w", err)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends a request. Signed requests carry timestamp, recvWindow and an
// HMAC-SHA256 signature over the encoded query.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		if c.apiKey == "" || c.secret == "" {
			return nil, fmt.Errorf("%w: api credentials not configured", domain.ErrUnauthorized)
		}
		query = crypto.SignQuery(c.secret, params, c.now(), c.recvWindow)
	}

	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrTransient, err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		return fmt.Errorf("%w: %s (%d)", domain.ErrRateLimited, apiErr.Msg, apiErr.Code)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s (%d)", domain.ErrUnauthorized, apiErr.Msg, apiErr.Code)
	case statusCode == http.StatusNotFound || apiErr.Code == -2013:
		return fmt.Errorf("%w: %s (%d)", domain.ErrNotFound, apiErr.Msg, apiErr.Code)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, apiErr.Msg)
	default:
		return fmt.Errorf("binance: HTTP %d: %s (%d)", statusCode, apiErr.Msg, apiErr.Code)
	}
}

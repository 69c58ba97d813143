package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// BaseURL is the production USDT-M futures API endpoint.
	BaseURL = "https://fapi.binance.com"
	// TestnetURL is the futures testnet endpoint.
	TestnetURL = "https://testnet.binancefuture.com"

	recvWindow     = "10000"
	requestTimeout = 30 * time.Second
)

// transientDelays is the backoff schedule for transient failures: five
// attempts spaced by these gaps, roughly 225 s of wall time in total.
var transientDelays = []time.Duration{
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// RESTClient is the signed HTTP client for the USDT-M futures REST API.
type RESTClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rateLimiter
	log        zerolog.Logger

	// onAlarm is invoked when a transient error survives the full backoff
	// schedule. Wired to the audit alarm stream by the composition root.
	onAlarm func(msg string)
}

// NewRESTClient builds a client for the production or testnet endpoint.
// Keys are trimmed; stray whitespace breaks the request signature.
func NewRESTClient(apiKey, secretKey string, testnet bool, log zerolog.Logger) *RESTClient {
	baseURL := BaseURL
	if testnet {
		baseURL = TestnetURL
	}
	return &RESTClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    newRateLimiter(log),
		log:        log,
	}
}

// SetAlarmHook registers the callback for retry-exhaustion alarms.
func (c *RESTClient) SetAlarmHook(fn func(msg string)) { c.onAlarm = fn }

// ==================== ACCOUNT ====================

// GetAccount retrieves the futures account summary.
func (c *RESTClient) GetAccount() (*AccountInfo, error) {
	resp, err := c.signedRequest(http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	var info AccountInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	return &info, nil
}

// GetPositions retrieves all position-risk rows, including flat ones.
func (c *RESTClient) GetPositions() ([]Position, error) {
	resp, err := c.signedRequest(http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	var positions []Position
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	return positions, nil
}

// GetPosition retrieves the position row for one symbol. In hedge mode the
// endpoint returns two rows; the one with a non-zero amount wins.
func (c *RESTClient) GetPosition(symbol string) (*Position, error) {
	if symbol == "" {
		return nil, fmt.Errorf("validation: symbol is required")
	}
	resp, err := c.signedRequest(http.MethodGet, "/fapi/v2/positionRisk", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch position %s: %w", symbol, err)
	}
	var positions []Position
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("parse position %s: %w", symbol, err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("no position row for %s", symbol)
	}
	for i := range positions {
		if positions[i].PositionAmt != 0 {
			return &positions[i], nil
		}
	}
	return &positions[0], nil
}

// SetLeverage sets the leverage for a symbol.
func (c *RESTClient) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	if symbol == "" || leverage < 1 || leverage > 125 {
		return nil, fmt.Errorf("validation: bad leverage params %s/%d", symbol, leverage)
	}
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	resp, err := c.signedRequest(http.MethodPost, "/fapi/v1/leverage", params)
	if err != nil {
		return nil, fmt.Errorf("set leverage: %w", err)
	}
	var lr LeverageResponse
	if err := json.Unmarshal(resp, &lr); err != nil {
		return nil, fmt.Errorf("parse leverage response: %w", err)
	}
	return &lr, nil
}

// ==================== ORDERS ====================

// CreateOrder places a new order.
func (c *RESTClient) CreateOrder(params OrderParams) (*OrderResponse, error) {
	if params.Symbol == "" || params.Side == "" || params.Type == "" {
		return nil, fmt.Errorf("validation: symbol, side and type are required")
	}
	if params.Quantity <= 0 {
		return nil, fmt.Errorf("validation: quantity must be positive")
	}
	if params.Type == OrderTypeLimit && params.Price <= 0 {
		return nil, fmt.Errorf("validation: LIMIT order requires a price")
	}

	req := map[string]string{
		"symbol":   params.Symbol,
		"side":     string(params.Side),
		"type":     string(params.Type),
		"quantity": strconv.FormatFloat(params.Quantity, 'f', -1, 64),
	}
	if params.Price > 0 {
		req["price"] = strconv.FormatFloat(params.Price, 'f', -1, 64)
	}
	if params.StopPrice > 0 {
		req["stopPrice"] = strconv.FormatFloat(params.StopPrice, 'f', -1, 64)
	}
	if params.TimeInForce != "" {
		req["timeInForce"] = string(params.TimeInForce)
	} else if params.Type == OrderTypeLimit {
		req["timeInForce"] = string(TimeInForceGTC)
	}
	if params.ReduceOnly {
		req["reduceOnly"] = "true"
	}
	if params.NewClientOrderID != "" {
		req["newClientOrderId"] = params.NewClientOrderID
	}

	resp, err := c.signedRequest(http.MethodPost, "/fapi/v1/order", req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	var orderResp OrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	return &orderResp, nil
}

// CancelOrder cancels an open order.
func (c *RESTClient) CancelOrder(symbol string, orderID int64) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}
	if _, err := c.signedRequest(http.MethodDelete, "/fapi/v1/order", params); err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return nil
}

// GetOrder retrieves one order by id.
func (c *RESTClient) GetOrder(symbol string, orderID int64) (*Order, error) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}
	resp, err := c.signedRequest(http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("fetch order %d: %w", orderID, err)
	}
	var order Order
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return &order, nil
}

// GetOpenOrders retrieves open orders; empty symbol means all symbols.
func (c *RESTClient) GetOpenOrders(symbol string) ([]Order, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	resp, err := c.signedRequest(http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	var orders []Order
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}
	return orders, nil
}

// ==================== MARKET DATA ====================

// GetTicker retrieves 24 hour statistics for one symbol.
func (c *RESTClient) GetTicker(symbol string) (*Ticker, error) {
	resp, err := c.publicRequest("/fapi/v1/ticker/24hr", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch ticker: %w", err)
	}
	var ticker Ticker
	if err := json.Unmarshal(resp, &ticker); err != nil {
		return nil, fmt.Errorf("parse ticker: %w", err)
	}
	return &ticker, nil
}

// GetOrderBook retrieves a depth snapshot.
func (c *RESTClient) GetOrderBook(symbol string, limit int) (*OrderBook, error) {
	resp, err := c.publicRequest("/fapi/v1/depth", map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch depth: %w", err)
	}
	var book OrderBook
	if err := json.Unmarshal(resp, &book); err != nil {
		return nil, fmt.Errorf("parse depth: %w", err)
	}
	return &book, nil
}

// GetKlines retrieves OHLCV candles.
func (c *RESTClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	resp, err := c.publicRequest("/fapi/v1/klines", map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}

	var raw [][]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}
	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 11 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:            asInt64(row[0]),
			Open:                asFloat(row[1]),
			High:                asFloat(row[2]),
			Low:                 asFloat(row[3]),
			Close:               asFloat(row[4]),
			Volume:              asFloat(row[5]),
			CloseTime:           asInt64(row[6]),
			QuoteAssetVolume:    asFloat(row[7]),
			NumberOfTrades:      int(asInt64(row[8])),
			TakerBuyBaseVolume:  asFloat(row[9]),
			TakerBuyQuoteVolume: asFloat(row[10]),
		})
	}
	return klines, nil
}

// GetFundingRate retrieves funding-rate history, newest last.
func (c *RESTClient) GetFundingRate(symbol string, limit int) ([]FundingRate, error) {
	resp, err := c.publicRequest("/fapi/v1/fundingRate", map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch funding rates: %w", err)
	}
	var rates []FundingRate
	if err := json.Unmarshal(resp, &rates); err != nil {
		return nil, fmt.Errorf("parse funding rates: %w", err)
	}
	return rates, nil
}

// GetPremiumIndex retrieves the live mark price and predicted funding rate.
func (c *RESTClient) GetPremiumIndex(symbol string) (*PremiumIndex, error) {
	resp, err := c.publicRequest("/fapi/v1/premiumIndex", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch premium index: %w", err)
	}
	var pi PremiumIndex
	if err := json.Unmarshal(resp, &pi); err != nil {
		return nil, fmt.Errorf("parse premium index: %w", err)
	}
	return &pi, nil
}

// GetOpenInterest retrieves the outstanding contract total.
func (c *RESTClient) GetOpenInterest(symbol string) (*OpenInterest, error) {
	resp, err := c.publicRequest("/fapi/v1/openInterest", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch open interest: %w", err)
	}
	var oi OpenInterest
	if err := json.Unmarshal(resp, &oi); err != nil {
		return nil, fmt.Errorf("parse open interest: %w", err)
	}
	return &oi, nil
}

// GetExchangeInfo retrieves symbol metadata and filters.
func (c *RESTClient) GetExchangeInfo() (*ExchangeInfo, error) {
	resp, err := c.publicRequest("/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	var info ExchangeInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return nil, fmt.Errorf("parse exchange info: %w", err)
	}
	return &info, nil
}

// ==================== REQUEST PLUMBING ====================

func (c *RESTClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedRequest performs an authenticated request with the transient-retry
// schedule. The timestamp is refreshed on every attempt so a long backoff
// never produces a stale signature.
func (c *RESTClient) signedRequest(method, endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if !c.limiter.acquire(endpoint, requestTimeout) {
			return nil, &transportError{op: "rate limit", err: fmt.Errorf("circuit open for %s", endpoint)}
		}

		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		values.Set("recvWindow", recvWindow)
		query := values.Encode()
		query += "&signature=" + c.sign(query)

		var reqURL string
		var bodyReader io.Reader
		if method == http.MethodGet || method == http.MethodDelete {
			reqURL = c.baseURL + endpoint + "?" + query
		} else {
			reqURL = c.baseURL + endpoint
			bodyReader = strings.NewReader(query)
		}

		req, err := http.NewRequest(method, reqURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
		if bodyReader != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		body, err := c.execute(req, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt >= len(transientDelays) {
			break
		}
		delay := transientDelays[attempt]
		c.log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt+1).
			Dur("retry_in", delay).Msg("transient exchange error, retrying")
		time.Sleep(delay)
	}

	c.alarm(fmt.Sprintf("exchange request %s %s failed after %d attempts: %v",
		method, endpoint, len(transientDelays)+1, lastErr))
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// publicRequest performs an unauthenticated GET with the same retry policy.
func (c *RESTClient) publicRequest(endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if !c.limiter.acquire(endpoint, requestTimeout) {
			return nil, &transportError{op: "rate limit", err: fmt.Errorf("circuit open for %s", endpoint)}
		}

		reqURL := c.baseURL + endpoint
		if len(params) > 0 {
			values := url.Values{}
			for k, v := range params {
				values.Set(k, v)
			}
			reqURL += "?" + values.Encode()
		}

		req, err := http.NewRequest(http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		body, err := c.execute(req, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt >= len(transientDelays) {
			break
		}
		delay := transientDelays[attempt]
		c.log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt+1).
			Dur("retry_in", delay).Msg("transient exchange error, retrying")
		time.Sleep(delay)
	}

	c.alarm(fmt.Sprintf("exchange request GET %s failed after %d attempts: %v",
		endpoint, len(transientDelays)+1, lastErr))
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// execute runs one HTTP round trip and maps failures to the error taxonomy.
func (c *RESTClient) execute(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{op: req.Method + " " + endpoint, err: err}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &transportError{op: "read body " + endpoint, err: err}
	}

	if used := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); used != "" {
		if w, err := strconv.Atoi(used); err == nil {
			c.limiter.observeUsedWeight(w)
		}
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	apiErr := &APIError{HTTPStatus: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 || apiErr.Code == -1003 {
		c.limiter.tripCircuit(parseBanUntil(apiErr.Message))
	}
	return nil, apiErr
}

func (c *RESTClient) alarm(msg string) {
	c.log.Error().Msg(msg)
	if c.onAlarm != nil {
		c.onAlarm(msg)
	}
}

// parseBanUntil extracts the ban timestamp from messages shaped like
// "... banned until 1766824120342".
func parseBanUntil(msg string) int64 {
	var banUntil int64
	if _, err := fmt.Sscanf(msg, "%*[^0-9]%d", &banUntil); err != nil {
		return 0
	}
	now := time.Now()
	if banUntil > now.UnixMilli() && banUntil < now.Add(24*time.Hour).UnixMilli() {
		return banUntil
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

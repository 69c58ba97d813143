package binance

import (
	"fmt"
	"sync"
)

// MockClient is an in-memory Client for tests and dry runs. MARKET orders
// fill immediately against the configured ticker and mutate the position
// book; LIMIT orders rest as NEW until LimitFills is set.
type MockClient struct {
	mu sync.Mutex

	Account    AccountInfo
	Positions  map[string]*Position
	Tickers    map[string]*Ticker
	Books      map[string]*OrderBook
	Klines     map[string][]Kline // keyed symbol + "/" + interval
	Funding    map[string][]FundingRate
	Premium    map[string]*PremiumIndex
	Interest   map[string]*OpenInterest
	Exchange   *ExchangeInfo
	openOrders map[int64]*Order
	nextID     int64

	// LimitFills makes resting LIMIT orders report FILLED on the next poll.
	LimitFills bool

	// Error injection.
	CreateOrderErr error
	LeverageErr    error

	// Call records for assertions.
	CreatedOrders  []OrderParams
	CanceledOrders []int64
	LeverageCalls  []string
}

// NewMockClient returns a mock with empty books.
func NewMockClient() *MockClient {
	return &MockClient{
		Positions:  make(map[string]*Position),
		Tickers:    make(map[string]*Ticker),
		Books:      make(map[string]*OrderBook),
		Klines:     make(map[string][]Kline),
		Funding:    make(map[string][]FundingRate),
		Premium:    make(map[string]*PremiumIndex),
		Interest:   make(map[string]*OpenInterest),
		openOrders: make(map[int64]*Order),
		nextID:     1000,
	}
}

func (m *MockClient) GetAccount() (*AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.Account
	return &acct, nil
}

func (m *MockClient) GetPositions() ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.Positions))
	for _, p := range m.Positions {
		out = append(out, *p)
	}
	return out, nil
}

func (m *MockClient) GetPosition(symbol string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Positions[symbol]; ok {
		cp := *p
		return &cp, nil
	}
	return &Position{Symbol: symbol}, nil
}

func (m *MockClient) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageCalls = append(m.LeverageCalls, fmt.Sprintf("%s:%d", symbol, leverage))
	if m.LeverageErr != nil {
		return nil, m.LeverageErr
	}
	return &LeverageResponse{Symbol: symbol, Leverage: leverage}, nil
}

func (m *MockClient) CreateOrder(params OrderParams) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateOrderErr != nil {
		return nil, m.CreateOrderErr
	}

	m.nextID++
	id := m.nextID
	m.CreatedOrders = append(m.CreatedOrders, params)

	order := &Order{
		OrderID:       id,
		Symbol:        params.Symbol,
		ClientOrderID: params.NewClientOrderID,
		Type:          string(params.Type),
		Side:          string(params.Side),
		Price:         params.Price,
		StopPrice:     params.StopPrice,
		OrigQty:       params.Quantity,
		ReduceOnly:    params.ReduceOnly,
		Status:        string(OrderStatusNew),
	}

	if params.Type == OrderTypeMarket {
		last := 0.0
		if t, ok := m.Tickers[params.Symbol]; ok {
			last = t.LastPrice
		}
		order.Status = string(OrderStatusFilled)
		order.AvgPrice = last
		order.ExecutedQty = params.Quantity
		m.applyFill(params, last)
	} else {
		m.openOrders[id] = order
	}

	return &OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		Status:        order.Status,
		ClientOrderID: order.ClientOrderID,
		Price:         order.Price,
		AvgPrice:      order.AvgPrice,
		OrigQty:       order.OrigQty,
		ExecutedQty:   order.ExecutedQty,
		Type:          order.Type,
		ReduceOnly:    order.ReduceOnly,
		Side:          order.Side,
		StopPrice:     order.StopPrice,
	}, nil
}

// applyFill adjusts the signed position for a filled entry. Protective
// types don't touch the book; they only rest until triggered.
func (m *MockClient) applyFill(params OrderParams, price float64) {
	if params.Type == OrderTypeStopMarket || params.Type == OrderTypeTakeProfitMarket {
		return
	}
	delta := params.Quantity
	if params.Side == SideSell {
		delta = -delta
	}
	p, ok := m.Positions[params.Symbol]
	if !ok {
		p = &Position{Symbol: params.Symbol, EntryPrice: price, Leverage: 1}
		m.Positions[params.Symbol] = p
	}
	p.PositionAmt += delta
	if p.PositionAmt == 0 {
		delete(m.Positions, params.Symbol)
	}
}

func (m *MockClient) CancelOrder(symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CanceledOrders = append(m.CanceledOrders, orderID)
	if o, ok := m.openOrders[orderID]; ok {
		o.Status = string(OrderStatusCanceled)
		delete(m.openOrders, orderID)
		return nil
	}
	return &APIError{HTTPStatus: 400, Code: -2011, Message: "Unknown order sent."}
}

func (m *MockClient) GetOrder(symbol string, orderID int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.openOrders[orderID]
	if !ok {
		return nil, &APIError{HTTPStatus: 400, Code: -2013, Message: "Order does not exist."}
	}
	cp := *o
	if m.LimitFills && cp.Type == string(OrderTypeLimit) {
		cp.Status = string(OrderStatusFilled)
		cp.AvgPrice = cp.Price
		cp.ExecutedQty = cp.OrigQty
		delete(m.openOrders, orderID)
		m.applyFill(OrderParams{
			Symbol:   cp.Symbol,
			Side:     OrderSide(cp.Side),
			Type:     OrderType(cp.Type),
			Quantity: cp.OrigQty,
		}, cp.Price)
	}
	return &cp, nil
}

func (m *MockClient) GetOpenOrders(symbol string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out, nil
}

// RestOrder inserts a resting order directly, for reconciler tests.
func (m *MockClient) RestOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.OrderID == 0 {
		m.nextID++
		o.OrderID = m.nextID
	}
	m.openOrders[o.OrderID] = &o
}

func (m *MockClient) GetTicker(symbol string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Tickers[symbol]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, fmt.Errorf("mock: no ticker for %s", symbol)
}

func (m *MockClient) GetOrderBook(symbol string, limit int) (*OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Books[symbol]; ok {
		return b, nil
	}
	return &OrderBook{}, nil
}

func (m *MockClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := m.Klines[symbol+"/"+interval]
	if len(ks) > limit && limit > 0 {
		ks = ks[len(ks)-limit:]
	}
	return ks, nil
}

func (m *MockClient) GetFundingRate(symbol string, limit int) ([]FundingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Funding[symbol], nil
}

func (m *MockClient) GetPremiumIndex(symbol string) (*PremiumIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Premium[symbol]; ok {
		return p, nil
	}
	return &PremiumIndex{Symbol: symbol}, nil
}

func (m *MockClient) GetOpenInterest(symbol string) (*OpenInterest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if oi, ok := m.Interest[symbol]; ok {
		return oi, nil
	}
	return &OpenInterest{Symbol: symbol}, nil
}

func (m *MockClient) GetExchangeInfo() (*ExchangeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Exchange != nil {
		return m.Exchange, nil
	}
	return &ExchangeInfo{}, nil
}

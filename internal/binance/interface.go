package binance

// Client is the exchange adapter surface the rest of the agent depends on.
// RESTClient implements it against the live API; MockClient backs tests and
// dry runs.
type Client interface {
	GetAccount() (*AccountInfo, error)
	GetPositions() ([]Position, error)
	GetPosition(symbol string) (*Position, error)
	SetLeverage(symbol string, leverage int) (*LeverageResponse, error)

	CreateOrder(params OrderParams) (*OrderResponse, error)
	CancelOrder(symbol string, orderID int64) error
	GetOrder(symbol string, orderID int64) (*Order, error)
	GetOpenOrders(symbol string) ([]Order, error)

	GetTicker(symbol string) (*Ticker, error)
	GetOrderBook(symbol string, limit int) (*OrderBook, error)
	GetKlines(symbol, interval string, limit int) ([]Kline, error)
	GetFundingRate(symbol string, limit int) ([]FundingRate, error)
	GetPremiumIndex(symbol string) (*PremiumIndex, error)
	GetOpenInterest(symbol string) (*OpenInterest, error)
	GetExchangeInfo() (*ExchangeInfo, error)
}

var _ Client = (*RESTClient)(nil)
var _ Client = (*MockClient)(nil)

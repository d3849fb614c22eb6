// Package alpaca implements the Broker interface on top of the official
// Alpaca trading and market-data SDK.
package alpaca

import (
	"context"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradepilot/pkg/broker"
)

const (
	liveBaseURL  = "https://api.alpaca.markets"
	paperBaseURL = "https://paper-api.alpaca.markets"

	maxStockLeverage = 2
)

func init() {
	broker.Register(broker.Info{
		ID:          "alpaca",
		Name:        "Alpaca",
		Description: "Regulated US broker for stocks, options and spot crypto",
		AssetClasses: []broker.AssetClass{
			broker.AssetStock,
			broker.AssetOption,
			broker.AssetCrypto,
		},
		Capabilities: capabilities,
		PaperTrading: true,
		Website:      "https://alpaca.markets",
	}, func(creds broker.Credentials) (broker.Broker, error) {
		return New(creds), nil
	})
}

var capabilities = broker.Capabilities{
	Options:           true,
	CryptoLeverage:    false,
	ShortSelling:      true,
	MaxCryptoLeverage: 1,
	MaxStockLeverage:  maxStockLeverage,
}

// tradingAPI is the slice of the Alpaca trading client this adapter uses.
// Narrowed so tests can substitute a fake.
type tradingAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	ClosePosition(symbol string, req alpaca.ClosePositionRequest) (*alpaca.Order, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	CancelOrder(orderID string) error
	GetClock() (*alpaca.Clock, error)
}

// dataAPI is the slice of the market-data client this adapter uses.
type dataAPI interface {
	GetLatestCryptoBar(symbol string, req marketdata.GetLatestCryptoBarRequest) (*marketdata.CryptoBar, error)
	GetLatestQuote(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// Broker trades stocks and spot crypto through Alpaca.
type Broker struct {
	trading tradingAPI
	data    dataAPI
	clock   func() time.Time
}

// Option customises the adapter, primarily for tests.
type Option func(*Broker)

// WithClients substitutes the trading and data clients.
func WithClients(trading tradingAPI, data dataAPI) Option {
	return func(b *Broker) {
		if trading != nil {
			b.trading = trading
		}
		if data != nil {
			b.data = data
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(b *Broker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New constructs an Alpaca adapter. Paper credentials route to the paper
// endpoint; market data always uses the shared data plane.
func New(creds broker.Credentials, opts ...Option) *Broker {
	base := liveBaseURL
	if creds.Paper {
		base = paperBaseURL
	}
	b := &Broker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    creds.Key,
			APISecret: creds.Secret,
			BaseURL:   base,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    creds.Key,
			APISecret: creds.Secret,
		}),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) Name() string { return "alpaca" }

func (b *Broker) Capabilities() broker.Capabilities { return capabilities }

// NormalizeSymbol maps crypto input like "btc" or "BTCUSD" to Alpaca's
// slash form "BTC/USD"; equities are simply uppercased. Idempotent.
func (b *Broker) NormalizeSymbol(symbol string, class broker.AssetClass) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if class != broker.AssetCrypto {
		return s
	}
	if strings.Contains(s, "/") {
		return s
	}
	s = strings.ReplaceAll(s, "-", "")
	if strings.HasSuffix(s, "USDT") {
		s = strings.TrimSuffix(s, "USDT")
	} else {
		s = strings.TrimSuffix(s, "USD")
	}
	return s + "/USD"
}

func (b *Broker) GetAccount(ctx context.Context) (*broker.Account, error) {
	acct, err := b.trading.GetAccount()
	if err != nil {
		return nil, convertErr(err)
	}
	return &broker.Account{
		Cash:             acct.Cash.InexactFloat64(),
		PortfolioValue:   acct.PortfolioValue.InexactFloat64(),
		BuyingPower:      acct.BuyingPower.InexactFloat64(),
		Currency:         acct.Currency,
		PatternDayTrader: acct.PatternDayTrader,
		DaytradeCount:    int(acct.DaytradeCount),
		TradingBlocked:   acct.TradingBlocked,
		AccountBlocked:   acct.AccountBlocked,
		ShortingEnabled:  acct.ShortingEnabled,
		AsOf:             b.clock(),
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	raw, err := b.trading.GetPositions()
	if err != nil {
		return nil, convertErr(err)
	}
	positions := make([]broker.Position, 0, len(raw))
	for i := range raw {
		p := &raw[i]
		qty := p.Qty.InexactFloat64()
		positions = append(positions, broker.Position{
			Symbol:          p.Symbol,
			Qty:             qty,
			Side:            p.Side,
			AssetClass:      broker.AssetClass(p.AssetClass),
			AvgEntryPrice:   p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:    deref(p.CurrentPrice),
			MarketValue:     deref(p.MarketValue),
			UnrealizedPL:    deref(p.UnrealizedPL),
			UnrealizedPLPct: deref(p.UnrealizedPLPC) * 100,
			Leverage:        1,
		})
	}
	return positions, nil
}

func (b *Broker) ClosePosition(ctx context.Context, req broker.CloseRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Symbol class is inferred from the open position so "btc" and "AAPL"
	// both resolve correctly.
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetStock)
	if strings.Contains(req.Symbol, "/") || looksLikeCrypto(req.Symbol) {
		symbol = b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)
	}

	closeReq := alpaca.ClosePositionRequest{}
	if req.Qty != 0 {
		closeReq.Qty = decimal.NewFromFloat(req.Qty)
	} else {
		closeReq.Percentage = decimal.NewFromFloat(req.Percentage)
	}

	// Alpaca's positions API uses the slashless crypto form.
	order, err := b.trading.ClosePosition(strings.ReplaceAll(symbol, "/", ""), closeReq)
	if err != nil {
		return nil, convertErr(err)
	}
	return convertOrder(order), nil
}

func (b *Broker) GetCryptoPrice(ctx context.Context, symbol string) (*broker.Bar, error) {
	symbol = b.NormalizeSymbol(symbol, broker.AssetCrypto)
	bar, err := b.data.GetLatestCryptoBar(symbol, marketdata.GetLatestCryptoBarRequest{})
	if err != nil {
		return nil, convertErr(err)
	}
	return &broker.Bar{
		Symbol: symbol,
		Time:   bar.Timestamp,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}, nil
}

// PlaceCryptoOrder submits a spot crypto order. Alpaca offers no crypto
// leverage, so any request above 1x is rejected before the network call.
func (b *Broker) PlaceCryptoOrder(ctx context.Context, req broker.CryptoOrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Leverage > 1 {
		return nil, &broker.CapabilityError{Broker: "alpaca", Feature: "leverage trading"}
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)

	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.GTC,
	}
	if req.Qty > 0 {
		qty := decimal.NewFromFloat(req.Qty)
		placeReq.Qty = &qty
	} else {
		notional := decimal.NewFromFloat(req.Notional)
		placeReq.Notional = &notional
	}

	order, err := b.trading.PlaceOrder(placeReq)
	if err != nil {
		return nil, convertErr(err)
	}
	return convertOrder(order), nil
}

func (b *Broker) PlaceStockOrder(ctx context.Context, req broker.StockOrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetStock)

	tif := alpaca.Day
	if req.TimeInForce != "" {
		tif = alpaca.TimeInForce(req.TimeInForce)
	}
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.OrderType(req.Type),
		TimeInForce: tif,
	}
	if req.Qty > 0 {
		qty := decimal.NewFromFloat(req.Qty)
		placeReq.Qty = &qty
	} else {
		notional := decimal.NewFromFloat(req.Notional)
		placeReq.Notional = &notional
	}
	if req.LimitPrice > 0 {
		limit := decimal.NewFromFloat(req.LimitPrice)
		placeReq.LimitPrice = &limit
	}
	if req.StopPrice > 0 {
		stop := decimal.NewFromFloat(req.StopPrice)
		placeReq.StopPrice = &stop
	}

	order, err := b.trading.PlaceOrder(placeReq)
	if err != nil {
		return nil, convertErr(err)
	}
	return convertOrder(order), nil
}

func (b *Broker) GetStockQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	symbol = b.NormalizeSymbol(symbol, broker.AssetStock)
	quote, err := b.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, convertErr(err)
	}
	return &broker.Quote{
		Symbol:   symbol,
		BidPrice: quote.BidPrice,
		BidSize:  float64(quote.BidSize),
		AskPrice: quote.AskPrice,
		AskSize:  float64(quote.AskSize),
		Time:     quote.Timestamp,
	}, nil
}

func (b *Broker) GetBars(ctx context.Context, req broker.BarsRequest) ([]broker.Bar, error) {
	timeframe := mapTimeframe(req.Timeframe)
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	lookback := req.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	start := b.clock().Add(-lookback)

	if req.Class == broker.AssetCrypto {
		symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)
		raw, err := b.data.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame:  timeframe,
			Start:      start,
			TotalLimit: limit,
		})
		if err != nil {
			return nil, convertErr(err)
		}
		bars := make([]broker.Bar, 0, len(raw))
		for _, bar := range raw {
			bars = append(bars, broker.Bar{
				Symbol: symbol,
				Time:   bar.Timestamp,
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: bar.Volume,
			})
		}
		return bars, nil
	}

	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetStock)
	raw, err := b.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  timeframe,
		Start:      start,
		TotalLimit: limit,
	})
	if err != nil {
		return nil, convertErr(err)
	}
	bars := make([]broker.Bar, 0, len(raw))
	for _, bar := range raw {
		bars = append(bars, broker.Bar{
			Symbol: symbol,
			Time:   bar.Timestamp,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: float64(bar.Volume),
		})
	}
	return bars, nil
}

func (b *Broker) GetOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	status := string(filter)
	if status == "" {
		status = string(broker.OrdersOpen)
	}
	raw, err := b.trading.GetOrders(alpaca.GetOrdersRequest{Status: status, Limit: 100})
	if err != nil {
		return nil, convertErr(err)
	}
	orders := make([]broker.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, *convertOrder(&raw[i]))
	}
	return orders, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.trading.CancelOrder(orderID); err != nil {
		return convertErr(err)
	}
	return nil
}

func (b *Broker) CancelAllOrders(ctx context.Context) (int, error) {
	open, err := b.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return 0, convertErr(err)
	}
	cancelled := 0
	for i := range open {
		if err := b.trading.CancelOrder(open[i].ID); err != nil {
			return cancelled, convertErr(err)
		}
		cancelled++
	}
	return cancelled, nil
}

func (b *Broker) GetMarketStatus(ctx context.Context) (*broker.MarketStatus, error) {
	clock, err := b.trading.GetClock()
	if err != nil {
		return nil, convertErr(err)
	}
	return &broker.MarketStatus{
		Open:      clock.IsOpen,
		Time:      clock.Timestamp,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// convertErr maps SDK failures onto the shared error taxonomy.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*alpaca.APIError); ok {
		return &broker.UpstreamError{
			Broker:  "alpaca",
			Status:  apiErr.StatusCode,
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
	}
	return err
}

func convertOrder(o *alpaca.Order) *broker.Order {
	if o == nil {
		return nil
	}
	return &broker.Order{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Qty:            deref(o.Qty),
		Notional:       deref(o.Notional),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Status:         o.Status,
		FilledQty:      o.FilledQty.InexactFloat64(),
		FilledAvgPrice: deref(o.FilledAvgPrice),
		CreatedAt:      o.CreatedAt,
	}
}

func mapTimeframe(timeframe string) marketdata.TimeFrame {
	switch strings.ToLower(timeframe) {
	case "", "1min":
		return marketdata.OneMin
	case "5min":
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case "15min":
		return marketdata.NewTimeFrame(15, marketdata.Min)
	case "1hour":
		return marketdata.OneHour
	case "4hour":
		return marketdata.NewTimeFrame(4, marketdata.Hour)
	case "1day":
		return marketdata.OneDay
	default:
		return marketdata.OneDay
	}
}

func looksLikeCrypto(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	for _, base := range []string{"BTC", "ETH", "SOL", "DOGE", "AVAX", "LINK", "LTC", "BCH", "UNI", "AAVE"} {
		if s == base || s == base+"USD" || s == base+"USDT" {
			return true
		}
	}
	return false
}

func deref(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

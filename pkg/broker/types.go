// Package broker defines the venue-agnostic trading surface shared by all
// brokerage adapters, plus the factory used to construct them.
package broker

import (
	"fmt"
	"time"
)

// AssetClass distinguishes the instrument families brokers may support.
type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetStock  AssetClass = "us_equity"
	AssetOption AssetClass = "option"
)

// Order sides and types use the venue-neutral lowercase spellings.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Credentials carry the API key material for one venue. Immutable after
// adapter construction; Paper selects the venue's sandbox endpoints.
type Credentials struct {
	Key    string
	Secret string
	Paper  bool
}

// Capabilities describes what a venue statically supports. Values never
// change for the lifetime of an adapter.
type Capabilities struct {
	Options           bool
	CryptoLeverage    bool
	ShortSelling      bool
	MaxCryptoLeverage int
	MaxStockLeverage  int
}

// Account is a point-in-time snapshot of account state. Never cached;
// every GetAccount call reflects the venue's current view.
type Account struct {
	Cash             float64   `json:"cash"`
	PortfolioValue   float64   `json:"portfolio_value"`
	BuyingPower      float64   `json:"buying_power"`
	Currency         string    `json:"currency"`
	PatternDayTrader bool      `json:"pattern_day_trader"`
	DaytradeCount    int       `json:"daytrade_count"`
	TradingBlocked   bool      `json:"trading_blocked"`
	AccountBlocked   bool      `json:"account_blocked"`
	ShortingEnabled  bool      `json:"shorting_enabled"`
	AsOf             time.Time `json:"as_of"`
}

// Position is an open holding. Qty is signed: negative for shorts, so
// sign(Qty) always agrees with Side.
type Position struct {
	Symbol          string     `json:"symbol"`
	Qty             float64    `json:"qty"`
	Side            string     `json:"side"`
	AssetClass      AssetClass `json:"asset_class"`
	AvgEntryPrice   float64    `json:"avg_entry_price"`
	CurrentPrice    float64    `json:"current_price"`
	MarketValue     float64    `json:"market_value"`
	UnrealizedPL    float64    `json:"unrealized_pl"`
	UnrealizedPLPct float64    `json:"unrealized_plpc"`
	Leverage        int        `json:"leverage"`
}

// Order describes a submitted order as reported by the venue.
type Order struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Qty            float64   `json:"qty"`
	Notional       float64   `json:"notional,omitempty"`
	Type           string    `json:"type"`
	TimeInForce    string    `json:"time_in_force,omitempty"`
	Status         string    `json:"status"`
	FilledQty      float64   `json:"filled_qty"`
	FilledAvgPrice float64   `json:"filled_avg_price"`
	Leverage       int       `json:"leverage,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Quote is a top-of-book snapshot for an equity symbol.
type Quote struct {
	Symbol   string    `json:"symbol"`
	BidPrice float64   `json:"bid_price"`
	BidSize  float64   `json:"bid_size"`
	AskPrice float64   `json:"ask_price"`
	AskSize  float64   `json:"ask_size"`
	Time     time.Time `json:"time"`
}

// Bar is one OHLCV candle.
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketStatus reports whether the venue's primary market is open.
// Crypto venues trade continuously and report Open with zero next times.
type MarketStatus struct {
	Open      bool      `json:"is_open"`
	Time      time.Time `json:"timestamp"`
	NextOpen  time.Time `json:"next_open,omitempty"`
	NextClose time.Time `json:"next_close,omitempty"`
}

// OrderFilter selects which orders GetOrders returns.
type OrderFilter string

const (
	OrdersOpen   OrderFilter = "open"
	OrdersClosed OrderFilter = "closed"
	OrdersAll    OrderFilter = "all"
)

// CloseRequest asks to reduce or close an open position. Exactly one of
// Qty or Percentage must be set; Percentage 100 closes the full position.
type CloseRequest struct {
	Symbol     string
	Qty        float64
	Percentage float64
}

// Validate enforces the exactly-one-of rule before any network call.
func (r CloseRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "symbol is required"}
	}
	hasQty := r.Qty != 0
	hasPct := r.Percentage != 0
	if hasQty == hasPct {
		return &ValidationError{Field: "qty", Reason: "provide exactly one of qty or percentage"}
	}
	if hasQty && r.Qty < 0 {
		return &ValidationError{Field: "qty", Reason: "qty must be positive"}
	}
	if hasPct && (r.Percentage <= 0 || r.Percentage > 100) {
		return &ValidationError{Field: "percentage", Reason: "percentage must be in (0, 100]"}
	}
	return nil
}

// CryptoOrderRequest places a crypto order. Exactly one of Qty or
// Notional sizes the order; Leverage 0 means the venue default (1x).
type CryptoOrderRequest struct {
	Symbol   string
	Side     string
	Qty      float64
	Notional float64
	Leverage int
}

// Validate checks request shape; leverage ceilings are enforced by the
// caller against Capabilities before any network I/O.
func (r CryptoOrderRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "symbol is required"}
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("side must be %q or %q", SideBuy, SideSell)}
	}
	hasQty := r.Qty > 0
	hasNotional := r.Notional > 0
	if hasQty == hasNotional {
		return &ValidationError{Field: "qty", Reason: "provide exactly one of qty or notional"}
	}
	if r.Leverage < 0 {
		return &ValidationError{Field: "leverage", Reason: "leverage cannot be negative"}
	}
	return nil
}

// StockOrderRequest places an equity order on venues that support stocks.
type StockOrderRequest struct {
	Symbol      string
	Side        string
	Qty         float64
	Notional    float64
	Type        string
	TimeInForce string
	LimitPrice  float64
	StopPrice   float64
}

// Validate checks order shape including the price fields each order type
// requires.
func (r StockOrderRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "symbol is required"}
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("side must be %q or %q", SideBuy, SideSell)}
	}
	hasQty := r.Qty > 0
	hasNotional := r.Notional > 0
	if hasQty == hasNotional {
		return &ValidationError{Field: "qty", Reason: "provide exactly one of qty or notional"}
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return &ValidationError{Field: "limit_price", Reason: "limit orders require limit_price"}
		}
	case OrderTypeStop:
		if r.StopPrice <= 0 {
			return &ValidationError{Field: "stop_price", Reason: "stop orders require stop_price"}
		}
	case OrderTypeStopLimit:
		if r.LimitPrice <= 0 || r.StopPrice <= 0 {
			return &ValidationError{Field: "stop_price", Reason: "stop_limit orders require limit_price and stop_price"}
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported order type %q", r.Type)}
	}
	switch r.TimeInForce {
	case "", "day", "gtc", "ioc", "fok":
	default:
		return &ValidationError{Field: "time_in_force", Reason: fmt.Sprintf("unsupported time in force %q", r.TimeInForce)}
	}
	return nil
}

// BarsRequest fetches historical candles for a symbol.
type BarsRequest struct {
	Symbol    string
	Class     AssetClass
	Timeframe string
	Lookback  time.Duration
	Limit     int
}

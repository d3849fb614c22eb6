package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradepilot/pkg/broker"
)

const maxLeverage = 125

func init() {
	broker.Register(broker.Info{
		ID:          "binance",
		Name:        "Binance Futures",
		Description: "Crypto derivatives exchange with leverage up to 125x",
		AssetClasses: []broker.AssetClass{
			broker.AssetCrypto,
		},
		Capabilities: capabilities,
		PaperTrading: true,
		Website:      "https://www.binance.com",
	}, func(creds broker.Credentials) (broker.Broker, error) {
		return New(creds)
	})
}

var capabilities = broker.Capabilities{
	CryptoLeverage:    true,
	ShortSelling:      true,
	MaxCryptoLeverage: maxLeverage,
}

// Broker trades USD-M perpetual futures on Binance.
type Broker struct {
	client *client

	// Serializes leverage changes with the orders that depend on them.
	orderMu sync.Mutex
}

// New constructs a Binance futures adapter.
func New(creds broker.Credentials, opts ...ClientOption) (*Broker, error) {
	if creds.Key == "" || creds.Secret == "" {
		return nil, &broker.ValidationError{Field: "credentials", Reason: "binance requires api key and secret"}
	}
	return &Broker{client: newClient(creds, opts...)}, nil
}

func (b *Broker) Name() string { return "binance" }

func (b *Broker) Capabilities() broker.Capabilities { return capabilities }

// NormalizeSymbol maps operator input like "btc/usd" to Binance's native
// "BTCUSDT" form. Idempotent for already-normalized input.
func (b *Broker) NormalizeSymbol(symbol string, class broker.AssetClass) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	if strings.HasSuffix(s, "USD") {
		return s + "T"
	}
	return s + "USDT"
}

type accountResponse struct {
	TotalWalletBalance string `json:"totalWalletBalance"`
	TotalMarginBalance string `json:"totalMarginBalance"`
	AvailableBalance   string `json:"availableBalance"`
}

func (b *Broker) GetAccount(ctx context.Context) (*broker.Account, error) {
	var resp accountResponse
	if err := b.client.signedRequest(ctx, http.MethodGet, "/fapi/v2/account", nil, &resp); err != nil {
		return nil, err
	}
	return &broker.Account{
		Cash:            parseFloat(resp.TotalWalletBalance),
		PortfolioValue:  parseFloat(resp.TotalMarginBalance),
		BuyingPower:     parseFloat(resp.AvailableBalance),
		Currency:        "USDT",
		ShortingEnabled: true,
		AsOf:            b.client.clock(),
	}, nil
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var risks []positionRisk
	if err := b.client.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, &risks); err != nil {
		return nil, err
	}

	positions := make([]broker.Position, 0, len(risks))
	for _, r := range risks {
		qty := parseFloat(r.PositionAmt)
		if qty == 0 {
			continue
		}
		side := "long"
		if qty < 0 {
			side = "short"
		}
		entry := parseFloat(r.EntryPrice)
		mark := parseFloat(r.MarkPrice)
		pl := parseFloat(r.UnrealizedProfit)
		plPct := 0.0
		if cost := abs(qty) * entry; cost > 0 {
			plPct = pl / cost * 100
		}
		positions = append(positions, broker.Position{
			Symbol:          r.Symbol,
			Qty:             qty,
			Side:            side,
			AssetClass:      broker.AssetCrypto,
			AvgEntryPrice:   entry,
			CurrentPrice:    mark,
			MarketValue:     abs(qty) * mark,
			UnrealizedPL:    pl,
			UnrealizedPLPct: plPct,
			Leverage:        int(parseFloat(r.Leverage)),
		})
	}
	return positions, nil
}

func (b *Broker) ClosePosition(ctx context.Context, req broker.CloseRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)

	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	var current *broker.Position
	for i := range positions {
		if positions[i].Symbol == symbol {
			current = &positions[i]
			break
		}
	}
	if current == nil {
		return nil, &broker.ValidationError{Field: "symbol", Reason: fmt.Sprintf("no open position for %s", symbol)}
	}

	qty := req.Qty
	if req.Percentage != 0 {
		qty = abs(current.Qty) * req.Percentage / 100
	}
	side := broker.SideSell
	if current.Qty < 0 {
		side = broker.SideBuy
	}

	b.orderMu.Lock()
	defer b.orderMu.Unlock()
	return b.submitOrder(ctx, symbol, side, qty, true)
}

func (b *Broker) GetCryptoPrice(ctx context.Context, symbol string) (*broker.Bar, error) {
	symbol = b.NormalizeSymbol(symbol, broker.AssetCrypto)
	bars, err := b.klines(ctx, symbol, "1m", 1)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &broker.UpstreamError{Broker: "binance", Status: http.StatusNotFound, Message: "no bar data for " + symbol}
	}
	bar := bars[len(bars)-1]
	return &bar, nil
}

func (b *Broker) PlaceCryptoOrder(ctx context.Context, req broker.CryptoOrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Leverage > maxLeverage {
		return nil, &broker.LeverageError{Broker: "binance", Requested: req.Leverage, Max: maxLeverage}
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)

	qty := req.Qty
	if req.Notional > 0 {
		bar, err := b.GetCryptoPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if bar.Close <= 0 {
			return nil, &broker.UpstreamError{Broker: "binance", Status: http.StatusBadGateway, Message: "zero price for " + symbol}
		}
		qty = roundQty(req.Notional / bar.Close)
	}

	// Leverage must be applied to the symbol before the order, and no
	// other order may interleave the pair.
	b.orderMu.Lock()
	defer b.orderMu.Unlock()

	leverage := req.Leverage
	if leverage > 0 {
		if err := b.setLeverage(ctx, symbol, leverage); err != nil {
			return nil, err
		}
	} else {
		leverage = 1
	}

	order, err := b.submitOrder(ctx, symbol, req.Side, qty, false)
	if err != nil {
		return nil, err
	}
	order.Leverage = leverage
	order.Notional = req.Notional
	return order, nil
}

// PlaceStockOrder always fails: Binance futures lists no equities.
func (b *Broker) PlaceStockOrder(ctx context.Context, req broker.StockOrderRequest) (*broker.Order, error) {
	return nil, &broker.CapabilityError{Broker: "binance", Feature: "stock trading"}
}

func (b *Broker) GetStockQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return nil, &broker.CapabilityError{Broker: "binance", Feature: "stock quotes"}
}

func (b *Broker) GetBars(ctx context.Context, req broker.BarsRequest) ([]broker.Bar, error) {
	if req.Class != "" && req.Class != broker.AssetCrypto {
		return nil, &broker.CapabilityError{Broker: "binance", Feature: "bars for " + string(req.Class)}
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	return b.klines(ctx, symbol, mapInterval(req.Timeframe), limit)
}

type orderInfo struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	TimeInForce string `json:"timeInForce"`
	UpdateTime  int64  `json:"updateTime"`
	Time        int64  `json:"time"`
}

func (b *Broker) GetOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	path := "/fapi/v1/openOrders"
	if filter == broker.OrdersClosed || filter == broker.OrdersAll {
		path = "/fapi/v1/allOrders"
	}
	var raw []orderInfo
	if err := b.client.signedRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	orders := make([]broker.Order, 0, len(raw))
	for _, o := range raw {
		converted := convertOrder(&o)
		if filter == broker.OrdersClosed && converted.Status == "NEW" {
			continue
		}
		orders = append(orders, *converted)
	}
	return orders, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	open, err := b.openOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range open {
		if strconv.FormatInt(o.OrderID, 10) == orderID {
			params := url.Values{}
			params.Set("symbol", o.Symbol)
			params.Set("orderId", orderID)
			return b.client.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
		}
	}
	return &broker.ValidationError{Field: "order_id", Reason: "no open order with id " + orderID}
}

func (b *Broker) CancelAllOrders(ctx context.Context) (int, error) {
	open, err := b.openOrders(ctx)
	if err != nil {
		return 0, err
	}
	symbols := make(map[string]struct{}, len(open))
	for _, o := range open {
		symbols[o.Symbol] = struct{}{}
	}
	for symbol := range symbols {
		params := url.Values{}
		params.Set("symbol", symbol)
		if err := b.client.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, nil); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// GetMarketStatus reports the perpetual futures market, which trades
// around the clock.
func (b *Broker) GetMarketStatus(ctx context.Context) (*broker.MarketStatus, error) {
	return &broker.MarketStatus{Open: true, Time: b.client.clock()}, nil
}

func (b *Broker) openOrders(ctx context.Context) ([]orderInfo, error) {
	var raw []orderInfo
	if err := b.client.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *Broker) setLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return b.client.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil)
}

func (b *Broker) submitOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (*broker.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	var resp orderInfo
	if err := b.client.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}
	return convertOrder(&resp), nil
}

func (b *Broker) klines(ctx context.Context, symbol, interval string, limit int) ([]broker.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	// Kline rows are positional arrays:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]any
	if err := b.client.publicRequest(ctx, "/fapi/v1/klines", params, &rows); err != nil {
		return nil, err
	}

	bars := make([]broker.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		bars = append(bars, broker.Bar{
			Symbol: symbol,
			Time:   time.UnixMilli(int64(openTime)).UTC(),
			Open:   parseAnyFloat(row[1]),
			High:   parseAnyFloat(row[2]),
			Low:    parseAnyFloat(row[3]),
			Close:  parseAnyFloat(row[4]),
			Volume: parseAnyFloat(row[5]),
		})
	}
	return bars, nil
}

func convertOrder(o *orderInfo) *broker.Order {
	created := o.Time
	if created == 0 {
		created = o.UpdateTime
	}
	return &broker.Order{
		ID:             strconv.FormatInt(o.OrderID, 10),
		Symbol:         o.Symbol,
		Side:           strings.ToLower(o.Side),
		Qty:            parseFloat(o.OrigQty),
		Type:           strings.ToLower(o.Type),
		TimeInForce:    strings.ToLower(o.TimeInForce),
		Status:         o.Status,
		FilledQty:      parseFloat(o.ExecutedQty),
		FilledAvgPrice: parseFloat(o.AvgPrice),
		CreatedAt:      time.UnixMilli(created).UTC(),
	}
}

func mapInterval(timeframe string) string {
	switch strings.ToLower(timeframe) {
	case "", "1min":
		return "1m"
	case "5min":
		return "5m"
	case "15min":
		return "15m"
	case "1hour":
		return "1h"
	case "4hour":
		return "4h"
	case "1day":
		return "1d"
	default:
		return strings.ToLower(timeframe)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseAnyFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	default:
		return 0
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// roundQty truncates order quantity to three decimals, the common step
// size for USD-M futures majors.
func roundQty(qty float64) float64 {
	return float64(int64(qty*1000)) / 1000
}

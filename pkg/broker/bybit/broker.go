package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradepilot/pkg/broker"
)

const maxLeverage = 100

func init() {
	broker.Register(broker.Info{
		ID:          "bybit",
		Name:        "Bybit",
		Description: "Crypto derivatives exchange with leverage up to 100x",
		AssetClasses: []broker.AssetClass{
			broker.AssetCrypto,
		},
		Capabilities: capabilities,
		PaperTrading: true,
		Website:      "https://www.bybit.com",
	}, func(creds broker.Credentials) (broker.Broker, error) {
		return New(creds)
	})
}

var capabilities = broker.Capabilities{
	CryptoLeverage:    true,
	ShortSelling:      true,
	MaxCryptoLeverage: maxLeverage,
}

// Broker trades USDT perpetuals on Bybit.
type Broker struct {
	client *client

	// Serializes leverage changes with the orders that depend on them.
	orderMu sync.Mutex
}

// New constructs a Bybit adapter.
func New(creds broker.Credentials, opts ...ClientOption) (*Broker, error) {
	if creds.Key == "" || creds.Secret == "" {
		return nil, &broker.ValidationError{Field: "credentials", Reason: "bybit requires api key and secret"}
	}
	return &Broker{client: newClient(creds, opts...)}, nil
}

func (b *Broker) Name() string { return "bybit" }

func (b *Broker) Capabilities() broker.Capabilities { return capabilities }

// NormalizeSymbol maps operator input like "eth/usd" to Bybit's native
// "ETHUSDT" form. Idempotent for already-normalized input.
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

type walletBalance struct {
	Equity           number `json:"equity"`
	WalletBalance    number `json:"wallet_balance"`
	AvailableBalance number `json:"available_balance"`
}

func (b *Broker) GetAccount(ctx context.Context) (*broker.Account, error) {
	var balances map[string]walletBalance
	err := b.client.signedRequest(ctx, http.MethodGet, "/v2/private/wallet/balance", map[string]string{"coin": "USDT"}, &balances)
	if err != nil {
		return nil, err
	}
	usdt := balances["USDT"]
	return &broker.Account{
		Cash:            float64(usdt.WalletBalance),
		PortfolioValue:  float64(usdt.Equity),
		BuyingPower:     float64(usdt.AvailableBalance),
		Currency:        "USDT",
		ShortingEnabled: true,
		AsOf:            b.client.clock(),
	}, nil
}

type positionEntry struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          number `json:"size"`
	EntryPrice    number `json:"entry_price"`
	PositionValue number `json:"position_value"`
	UnrealisedPnl number `json:"unrealised_pnl"`
	Leverage      number `json:"leverage"`
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var entries []positionEntry
	if err := b.client.signedRequest(ctx, http.MethodGet, "/private/linear/position/list", nil, &entries); err != nil {
		return nil, err
	}

	positions := make([]broker.Position, 0, len(entries))
	for _, e := range entries {
		size := float64(e.Size)
		if size == 0 {
			continue
		}
		qty := size
		side := "long"
		if strings.EqualFold(e.Side, "Sell") {
			qty = -size
			side = "short"
		}
		entry := float64(e.EntryPrice)
		pl := float64(e.UnrealisedPnl)
		plPct := 0.0
		if cost := size * entry; cost > 0 {
			plPct = pl / cost * 100
		}
		current := entry
		if size > 0 && float64(e.PositionValue) > 0 {
			current = float64(e.PositionValue) / size
		}
		positions = append(positions, broker.Position{
			Symbol:          e.Symbol,
			Qty:             qty,
			Side:            side,
			AssetClass:      broker.AssetCrypto,
			AvgEntryPrice:   entry,
			CurrentPrice:    current,
			MarketValue:     float64(e.PositionValue),
			UnrealizedPL:    pl,
			UnrealizedPLPct: plPct,
			Leverage:        int(e.Leverage),
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
	side := "Sell"
	orderSide := broker.SideSell
	if current.Qty < 0 {
		side = "Buy"
		orderSide = broker.SideBuy
	}

	b.orderMu.Lock()
	defer b.orderMu.Unlock()

	order, err := b.submitOrder(ctx, symbol, side, qty, true)
	if err != nil {
		return nil, err
	}
	order.Side = orderSide
	return order, nil
}

func (b *Broker) GetCryptoPrice(ctx context.Context, symbol string) (*broker.Bar, error) {
	symbol = b.NormalizeSymbol(symbol, broker.AssetCrypto)
	bars, err := b.kline(ctx, symbol, "1", 1)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &broker.UpstreamError{Broker: "bybit", Status: http.StatusNotFound, Message: "no bar data for " + symbol}
	}
	bar := bars[len(bars)-1]
	return &bar, nil
}

func (b *Broker) PlaceCryptoOrder(ctx context.Context, req broker.CryptoOrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Leverage > maxLeverage {
		return nil, &broker.LeverageError{Broker: "bybit", Requested: req.Leverage, Max: maxLeverage}
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)

	qty := req.Qty
	if req.Notional > 0 {
		bar, err := b.GetCryptoPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if bar.Close <= 0 {
			return nil, &broker.UpstreamError{Broker: "bybit", Status: http.StatusBadGateway, Message: "zero price for " + symbol}
		}
		qty = roundQty(req.Notional / bar.Close)
	}
	side := "Buy"
	if req.Side == broker.SideSell {
		side = "Sell"
	}

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

	order, err := b.submitOrder(ctx, symbol, side, qty, false)
	if err != nil {
		return nil, err
	}
	order.Leverage = leverage
	order.Notional = req.Notional
	return order, nil
}

// PlaceStockOrder always fails: Bybit lists no equities.
func (b *Broker) PlaceStockOrder(ctx context.Context, req broker.StockOrderRequest) (*broker.Order, error) {
	return nil, &broker.CapabilityError{Broker: "bybit", Feature: "stock trading"}
}

func (b *Broker) GetStockQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return nil, &broker.CapabilityError{Broker: "bybit", Feature: "stock quotes"}
}

func (b *Broker) GetBars(ctx context.Context, req broker.BarsRequest) ([]broker.Bar, error) {
	if req.Class != "" && req.Class != broker.AssetCrypto {
		return nil, &broker.CapabilityError{Broker: "bybit", Feature: "bars for " + string(req.Class)}
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	return b.kline(ctx, symbol, mapInterval(req.Timeframe), limit)
}

type orderEntry struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         number `json:"qty"`
	Price       number `json:"price"`
	OrderType   string `json:"order_type"`
	OrderStatus string `json:"order_status"`
	TimeInForce string `json:"time_in_force"`
	CumExecQty  number `json:"cum_exec_qty"`
	CreatedTime string `json:"created_time"`
}

func (b *Broker) GetOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	var result struct {
		Data []orderEntry `json:"data"`
	}
	if err := b.client.signedRequest(ctx, http.MethodGet, "/private/linear/order/list", nil, &result); err != nil {
		return nil, err
	}

	orders := make([]broker.Order, 0, len(result.Data))
	for _, o := range result.Data {
		open := isOpenStatus(o.OrderStatus)
		if filter == broker.OrdersOpen && !open {
			continue
		}
		if filter == broker.OrdersClosed && open {
			continue
		}
		orders = append(orders, *convertOrder(&o))
	}
	return orders, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	open, err := b.openOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range open {
		if o.OrderID == orderID {
			params := map[string]string{"symbol": o.Symbol, "order_id": orderID}
			return b.client.signedRequest(ctx, http.MethodPost, "/private/linear/order/cancel", params, nil)
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
		params := map[string]string{"symbol": symbol}
		if err := b.client.signedRequest(ctx, http.MethodPost, "/private/linear/order/cancel-all", params, nil); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// GetMarketStatus reports the perpetual market, which trades around the
// clock.
func (b *Broker) GetMarketStatus(ctx context.Context) (*broker.MarketStatus, error) {
	return &broker.MarketStatus{Open: true, Time: b.client.clock()}, nil
}

func (b *Broker) openOrders(ctx context.Context) ([]orderEntry, error) {
	var result struct {
		Data []orderEntry `json:"data"`
	}
	if err := b.client.signedRequest(ctx, http.MethodGet, "/private/linear/order/list", nil, &result); err != nil {
		return nil, err
	}
	open := make([]orderEntry, 0, len(result.Data))
	for _, o := range result.Data {
		if isOpenStatus(o.OrderStatus) {
			open = append(open, o)
		}
	}
	return open, nil
}

func (b *Broker) setLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]string{
		"symbol":        symbol,
		"buy_leverage":  strconv.Itoa(leverage),
		"sell_leverage": strconv.Itoa(leverage),
	}
	err := b.client.signedRequest(ctx, http.MethodPost, "/private/linear/position/set-leverage", params, nil)
	// 34036: leverage not modified. Same setting already in place.
	var uerr *broker.UpstreamError
	if err != nil && errors.As(err, &uerr) && uerr.Code == 34036 {
		return nil
	}
	return err
}

func (b *Broker) submitOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (*broker.Order, error) {
	params := map[string]string{
		"symbol":           symbol,
		"side":             side,
		"order_type":       "Market",
		"qty":              strconv.FormatFloat(qty, 'f', -1, 64),
		"time_in_force":    "GoodTillCancel",
		"reduce_only":      strconv.FormatBool(reduceOnly),
		"close_on_trigger": strconv.FormatBool(reduceOnly),
	}
	var resp orderEntry
	if err := b.client.signedRequest(ctx, http.MethodPost, "/private/linear/order/create", params, &resp); err != nil {
		return nil, err
	}
	return convertOrder(&resp), nil
}

type klineRow struct {
	OpenTime int64  `json:"open_time"`
	Open     number `json:"open"`
	High     number `json:"high"`
	Low      number `json:"low"`
	Close    number `json:"close"`
	Volume   number `json:"volume"`
}

func (b *Broker) kline(ctx context.Context, symbol, interval string, limit int) ([]broker.Bar, error) {
	from := b.client.clock().Add(-time.Duration(limit) * intervalDuration(interval)).Unix()
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("from", strconv.FormatInt(from, 10))
	params.Set("limit", strconv.Itoa(limit))

	var rows []klineRow
	if err := b.client.publicRequest(ctx, "/public/linear/kline", params, &rows); err != nil {
		return nil, err
	}

	bars := make([]broker.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, broker.Bar{
			Symbol: symbol,
			Time:   time.Unix(row.OpenTime, 0).UTC(),
			Open:   float64(row.Open),
			High:   float64(row.High),
			Low:    float64(row.Low),
			Close:  float64(row.Close),
			Volume: float64(row.Volume),
		})
	}
	return bars, nil
}

func convertOrder(o *orderEntry) *broker.Order {
	created, _ := time.Parse(time.RFC3339, o.CreatedTime)
	return &broker.Order{
		ID:          o.OrderID,
		Symbol:      o.Symbol,
		Side:        strings.ToLower(o.Side),
		Qty:         float64(o.Qty),
		Type:        strings.ToLower(o.OrderType),
		TimeInForce: o.TimeInForce,
		Status:      o.OrderStatus,
		FilledQty:   float64(o.CumExecQty),
		CreatedAt:   created,
	}
}

func isOpenStatus(status string) bool {
	switch status {
	case "Created", "New", "PartiallyFilled", "PendingCancel":
		return true
	default:
		return false
	}
}

func mapInterval(timeframe string) string {
	switch strings.ToLower(timeframe) {
	case "", "1min":
		return "1"
	case "5min":
		return "5"
	case "15min":
		return "15"
	case "1hour":
		return "60"
	case "4hour":
		return "240"
	case "1day":
		return "D"
	default:
		return timeframe
	}
}

func intervalDuration(interval string) time.Duration {
	if interval == "D" {
		return 24 * time.Hour
	}
	if minutes, err := strconv.Atoi(interval); err == nil && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return time.Minute
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// roundQty truncates order quantity to three decimals.
func roundQty(qty float64) float64 {
	return float64(int64(qty*1000)) / 1000
}

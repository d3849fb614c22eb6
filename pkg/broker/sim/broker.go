// Package sim is a paper-trading venue that keeps account state, positions
// and prices in memory. It backs tests and offline runs.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradepilot/pkg/broker"
)

const (
	defaultInitialCash   = 100000.0
	defaultFallbackPrice = 100.0
	maxLeverage          = 50
)

func init() {
	broker.Register(broker.Info{
		ID:          "sim",
		Name:        "Simulator",
		Description: "In-memory paper venue for tests and offline runs",
		AssetClasses: []broker.AssetClass{
			broker.AssetCrypto,
			broker.AssetStock,
		},
		Capabilities: capabilities,
		PaperTrading: true,
	}, func(creds broker.Credentials) (broker.Broker, error) {
		return New(), nil
	})
}

var capabilities = broker.Capabilities{
	CryptoLeverage:    true,
	ShortSelling:      true,
	MaxCryptoLeverage: maxLeverage,
	MaxStockLeverage:  maxLeverage,
}

type positionState struct {
	symbol   string
	class    broker.AssetClass
	qty      float64 // positive long, negative short
	entry    float64
	leverage int
}

// Broker is the in-memory paper venue.
type Broker struct {
	mu sync.Mutex

	cash      float64
	marks     map[string]float64
	positions map[string]*positionState
	orders    []broker.Order
	nextOrder int
	marketOn  bool
	clock     func() time.Time
}

// New constructs a simulator with default cash.
func New() *Broker {
	return &Broker{
		cash:      defaultInitialCash,
		marks:     make(map[string]float64),
		positions: make(map[string]*positionState),
		nextOrder: 1,
		marketOn:  true,
		clock:     time.Now,
	}
}

// SetMarkPrice sets the reference price used for fills and valuations.
func (b *Broker) SetMarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[b.NormalizeSymbol(symbol, broker.AssetCrypto)] = price
}

// SetMarketOpen toggles the simulated market clock.
func (b *Broker) SetMarketOpen(open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marketOn = open
}

// SetCash overrides the cash balance, letting tests model unfunded
// accounts.
func (b *Broker) SetCash(cash float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = cash
}

func (b *Broker) Name() string { return "sim" }

func (b *Broker) Capabilities() broker.Capabilities { return capabilities }

// NormalizeSymbol uppercases and strips separators, mirroring the
// derivatives venues. Idempotent.
func (b *Broker) NormalizeSymbol(symbol string, class broker.AssetClass) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

func (b *Broker) GetAccount(ctx context.Context) (*broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		equity += p.qty * b.markLocked(p.symbol)
	}
	return &broker.Account{
		Cash:            b.cash,
		PortfolioValue:  equity,
		BuyingPower:     b.cash,
		Currency:        "USD",
		ShortingEnabled: true,
		AsOf:            b.clock(),
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.qty == 0 {
			continue
		}
		mark := b.markLocked(p.symbol)
		side := "long"
		if p.qty < 0 {
			side = "short"
		}
		pl := (mark - p.entry) * p.qty
		plPct := 0.0
		if cost := abs(p.qty) * p.entry; cost > 0 {
			plPct = pl / cost * 100
		}
		positions = append(positions, broker.Position{
			Symbol:          p.symbol,
			Qty:             p.qty,
			Side:            side,
			AssetClass:      p.class,
			AvgEntryPrice:   p.entry,
			CurrentPrice:    mark,
			MarketValue:     abs(p.qty) * mark,
			UnrealizedPL:    pl,
			UnrealizedPLPct: plPct,
			Leverage:        p.leverage,
		})
	}
	return positions, nil
}

func (b *Broker) ClosePosition(ctx context.Context, req broker.CloseRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || p.qty == 0 {
		return nil, &broker.ValidationError{Field: "symbol", Reason: fmt.Sprintf("no open position for %s", symbol)}
	}
	qty := req.Qty
	if req.Percentage != 0 {
		qty = abs(p.qty) * req.Percentage / 100
	}
	if qty > abs(p.qty) {
		return nil, &broker.ValidationError{Field: "qty", Reason: "close quantity exceeds position size"}
	}
	side := broker.SideSell
	fillQty := -qty
	if p.qty < 0 {
		side = broker.SideBuy
		fillQty = qty
	}
	mark := b.markLocked(symbol)
	b.cash += (mark - p.entry) * qty * sign(p.qty)
	p.qty += fillQty
	if p.qty == 0 {
		delete(b.positions, symbol)
	}
	return b.recordOrderLocked(symbol, side, qty, "market", 0), nil
}

func (b *Broker) GetCryptoPrice(ctx context.Context, symbol string) (*broker.Bar, error) {
	symbol = b.NormalizeSymbol(symbol, broker.AssetCrypto)
	b.mu.Lock()
	mark := b.markLocked(symbol)
	now := b.clock()
	b.mu.Unlock()
	return &broker.Bar{Symbol: symbol, Time: now, Open: mark, High: mark, Low: mark, Close: mark}, nil
}

func (b *Broker) PlaceCryptoOrder(ctx context.Context, req broker.CryptoOrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Leverage > maxLeverage {
		return nil, &broker.LeverageError{Broker: "sim", Requested: req.Leverage, Max: maxLeverage}
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetCrypto)

	b.mu.Lock()
	defer b.mu.Unlock()

	mark := b.markLocked(symbol)
	qty := req.Qty
	if req.Notional > 0 {
		qty = req.Notional / mark
	}
	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	b.applyFillLocked(symbol, broker.AssetCrypto, req.Side, qty, mark, leverage)
	order := b.recordOrderLocked(symbol, req.Side, qty, "market", leverage)
	order.Notional = req.Notional
	return order, nil
}

func (b *Broker) PlaceStockOrder(ctx context.Context, req broker.StockOrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	symbol := b.NormalizeSymbol(req.Symbol, broker.AssetStock)

	b.mu.Lock()
	defer b.mu.Unlock()

	mark := b.markLocked(symbol)
	qty := req.Qty
	if req.Notional > 0 {
		qty = req.Notional / mark
	}
	b.applyFillLocked(symbol, broker.AssetStock, req.Side, qty, mark, 1)
	return b.recordOrderLocked(symbol, req.Side, qty, req.Type, 0), nil
}

func (b *Broker) GetStockQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	symbol = b.NormalizeSymbol(symbol, broker.AssetStock)
	b.mu.Lock()
	mark := b.markLocked(symbol)
	now := b.clock()
	b.mu.Unlock()
	return &broker.Quote{Symbol: symbol, BidPrice: mark, AskPrice: mark, Time: now}, nil
}

func (b *Broker) GetBars(ctx context.Context, req broker.BarsRequest) ([]broker.Bar, error) {
	bar, err := b.GetCryptoPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	return []broker.Bar{*bar}, nil
}

func (b *Broker) GetOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Simulated fills are immediate, so only closed/all filters return
	// anything.
	if filter == broker.OrdersOpen {
		return nil, nil
	}
	out := make([]broker.Order, len(b.orders))
	copy(out, b.orders)
	return out, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	return &broker.ValidationError{Field: "order_id", Reason: "no open order with id " + orderID}
}

func (b *Broker) CancelAllOrders(ctx context.Context) (int, error) {
	return 0, nil
}

func (b *Broker) GetMarketStatus(ctx context.Context) (*broker.MarketStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &broker.MarketStatus{Open: b.marketOn, Time: b.clock()}, nil
}

func (b *Broker) markLocked(symbol string) float64 {
	if mark, ok := b.marks[symbol]; ok && mark > 0 {
		return mark
	}
	return defaultFallbackPrice
}

func (b *Broker) applyFillLocked(symbol string, class broker.AssetClass, side string, qty, price float64, leverage int) {
	signed := qty
	if side == broker.SideSell {
		signed = -qty
	}
	p, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = &positionState{symbol: symbol, class: class, qty: signed, entry: price, leverage: leverage}
		return
	}
	if sameSign(p.qty, signed) {
		total := abs(p.qty) + qty
		p.entry = (abs(p.qty)*p.entry + qty*price) / total
		p.qty += signed
		p.leverage = leverage
		return
	}
	// Opposite side reduces and may flip.
	closed := min(abs(p.qty), qty)
	b.cash += (price - p.entry) * closed * sign(p.qty)
	newQty := p.qty + signed
	if newQty == 0 {
		delete(b.positions, symbol)
		return
	}
	if !sameSign(newQty, p.qty) {
		p.entry = price
		p.leverage = leverage
	}
	p.qty = newQty
}

func (b *Broker) recordOrderLocked(symbol, side string, qty float64, orderType string, leverage int) *broker.Order {
	order := broker.Order{
		ID:             strconv.Itoa(b.nextOrder),
		Symbol:         symbol,
		Side:           side,
		Qty:            qty,
		Type:           orderType,
		Status:         "filled",
		FilledQty:      qty,
		FilledAvgPrice: b.markLocked(symbol),
		Leverage:       leverage,
		CreatedAt:      b.clock(),
	}
	b.nextOrder++
	b.orders = append(b.orders, order)
	return &order
}

func sameSign(a, b float64) bool { return a >= 0 && b >= 0 || a <= 0 && b <= 0 }

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

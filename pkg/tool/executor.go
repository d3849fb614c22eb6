package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradepilot/internal/notes"
	"tradepilot/pkg/broker"
)

const (
	defaultOrderStatus = broker.OrdersOpen
	defaultTimeframe   = "1Day"
	defaultBarLimit    = 30
)

// Executor runs registered tools against one broker and one notes store.
// Execute is the trust boundary between the model and the venues: it
// validates and gates every call, and it never returns a Go error. All
// failures come back as a serialized {"error": ...} payload so the
// conversation can continue.
type Executor struct {
	broker broker.Broker
	notes  *notes.Store
}

// NewExecutor builds an executor bound to a broker and a notes store.
func NewExecutor(b broker.Broker, n *notes.Store) *Executor {
	return &Executor{broker: b, notes: n}
}

// Broker returns the broker this executor dispatches to.
func (e *Executor) Broker() broker.Broker { return e.broker }

// Execute runs the named tool and returns its serialized result. Unknown
// tools, invalid arguments, venue failures and panics all produce an
// error payload rather than an error value.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	defer func() {
		if r := recover(); r != nil {
			logx.WithContext(ctx).Errorf("tool %s panicked: %v", name, r)
			result = errorResult(fmt.Sprintf("internal error executing %s: %v", name, r))
		}
	}()

	start := time.Now()
	result = e.dispatch(ctx, name, args)
	logx.WithContext(ctx).Infof("tool %s executed in %s", name, time.Since(start))
	return result
}

func (e *Executor) dispatch(ctx context.Context, name string, args map[string]any) string {
	switch name {
	case "get_account":
		return e.getAccount(ctx)
	case "get_all_positions":
		return e.getAllPositions(ctx)
	case "close_position":
		return e.closePosition(ctx, args)
	case "get_crypto_latest_bar":
		return e.getCryptoLatestBar(ctx, args)
	case "place_crypto_order":
		return e.placeCryptoOrder(ctx, args)
	case "place_stock_order":
		return e.placeStockOrder(ctx, args)
	case "get_stock_quote":
		return e.getStockQuote(ctx, args)
	case "get_stock_bars":
		return e.getStockBars(ctx, args)
	case "get_orders":
		return e.getOrders(ctx, args)
	case "cancel_order":
		return e.cancelOrder(ctx, args)
	case "cancel_all_orders":
		return e.cancelAllOrders(ctx)
	case "get_market_clock":
		return e.getMarketClock(ctx)
	case "read_trading_memory":
		return e.readMemory()
	case "write_trading_memory":
		return e.writeMemory(args)
	case "append_trading_memory":
		return e.appendMemory(args)
	case "edit_trading_memory_lines":
		return e.editMemoryLines(args)
	case "clear_trading_memory":
		return e.clearMemory()
	default:
		return errorResult(fmt.Sprintf("unknown tool %q", name))
	}
}

func (e *Executor) getAccount(ctx context.Context) string {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(account)
}

func (e *Executor) getAllPositions(ctx context.Context) string {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return errorResult(err.Error())
	}
	if positions == nil {
		positions = []broker.Position{}
	}
	return jsonResult(positions)
}

func (e *Executor) closePosition(ctx context.Context, args map[string]any) string {
	req := broker.CloseRequest{
		Symbol:     stringArg(args, "symbol"),
		Qty:        numberArg(args, "qty"),
		Percentage: numberArg(args, "percentage"),
	}
	order, err := e.broker.ClosePosition(ctx, req)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{
		"success":  true,
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"qty":      order.Qty,
		"status":   order.Status,
	})
}

func (e *Executor) getCryptoLatestBar(ctx context.Context, args map[string]any) string {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return errorResult("symbol is required")
	}
	bar, err := e.broker.GetCryptoPrice(ctx, symbol)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(bar)
}

func (e *Executor) placeCryptoOrder(ctx context.Context, args map[string]any) string {
	req := broker.CryptoOrderRequest{
		Symbol:   stringArg(args, "symbol"),
		Side:     stringArg(args, "side"),
		Qty:      numberArg(args, "qty"),
		Notional: numberArg(args, "notional"),
		Leverage: intArg(args, "leverage"),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error())
	}

	// Leverage is gated here, before the adapter can touch the network.
	caps := e.broker.Capabilities()
	if req.Leverage > 1 {
		if !caps.CryptoLeverage {
			return errorResult(fmt.Sprintf(
				"%s doesn't support leverage trading. Switch to Bybit or Binance for leveraged crypto trading.",
				e.broker.Name()))
		}
		if req.Leverage > caps.MaxCryptoLeverage {
			leverr := &broker.LeverageError{Broker: e.broker.Name(), Max: caps.MaxCryptoLeverage, Requested: req.Leverage}
			return errorResult(leverr.Error())
		}
	}

	order, err := e.broker.PlaceCryptoOrder(ctx, req)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(order)
}

func (e *Executor) placeStockOrder(ctx context.Context, args map[string]any) string {
	req := broker.StockOrderRequest{
		Symbol:      stringArg(args, "symbol"),
		Side:        stringArg(args, "side"),
		Qty:         numberArg(args, "qty"),
		Notional:    numberArg(args, "notional"),
		Type:        stringArg(args, "type"),
		TimeInForce: stringArg(args, "time_in_force"),
		LimitPrice:  numberArg(args, "limit_price"),
		StopPrice:   numberArg(args, "stop_price"),
	}
	if req.Type == "" {
		req.Type = broker.OrderTypeMarket
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "day"
	}
	order, err := e.broker.PlaceStockOrder(ctx, req)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(order)
}

func (e *Executor) getStockQuote(ctx context.Context, args map[string]any) string {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return errorResult("symbol is required")
	}
	quote, err := e.broker.GetStockQuote(ctx, symbol)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(quote)
}

func (e *Executor) getStockBars(ctx context.Context, args map[string]any) string {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return errorResult("symbol is required")
	}
	req := broker.BarsRequest{
		Symbol:    symbol,
		Class:     broker.AssetStock,
		Timeframe: stringArg(args, "timeframe"),
		Limit:     intArg(args, "limit"),
	}
	if req.Timeframe == "" {
		req.Timeframe = defaultTimeframe
	}
	if req.Limit <= 0 {
		req.Limit = defaultBarLimit
	}
	bars, err := e.broker.GetBars(ctx, req)
	if err != nil {
		return errorResult(err.Error())
	}
	if bars == nil {
		bars = []broker.Bar{}
	}
	return jsonResult(bars)
}

func (e *Executor) getOrders(ctx context.Context, args map[string]any) string {
	filter := broker.OrderFilter(stringArg(args, "status"))
	switch filter {
	case broker.OrdersOpen, broker.OrdersClosed, broker.OrdersAll:
	case "":
		filter = defaultOrderStatus
	default:
		return errorResult(fmt.Sprintf("invalid status %q, must be open, closed or all", filter))
	}
	orders, err := e.broker.GetOrders(ctx, filter)
	if err != nil {
		return errorResult(err.Error())
	}
	if orders == nil {
		orders = []broker.Order{}
	}
	return jsonResult(orders)
}

func (e *Executor) cancelOrder(ctx context.Context, args map[string]any) string {
	orderID := stringArg(args, "order_id")
	if orderID == "" {
		return errorResult("order_id is required")
	}
	if err := e.broker.CancelOrder(ctx, orderID); err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "order_id": orderID})
}

func (e *Executor) cancelAllOrders(ctx context.Context) string {
	count, err := e.broker.CancelAllOrders(ctx)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "cancelled": count})
}

func (e *Executor) getMarketClock(ctx context.Context) string {
	status, err := e.broker.GetMarketStatus(ctx)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(status)
}

func (e *Executor) readMemory() string {
	numbered, err := e.notes.Numbered()
	if err != nil {
		return errorResult(err.Error())
	}
	if numbered == "" {
		return "Trading memory is empty."
	}
	return numbered
}

func (e *Executor) writeMemory(args map[string]any) string {
	content, ok := args["content"].(string)
	if !ok {
		return errorResult("content is required")
	}
	if err := e.notes.Write(content); err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "message": "trading memory replaced"})
}

func (e *Executor) appendMemory(args map[string]any) string {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return errorResult("content is required")
	}
	if err := e.notes.Append(content); err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "message": "content appended to trading memory"})
}

func (e *Executor) editMemoryLines(args map[string]any) string {
	from := intArg(args, "from_line")
	to := intArg(args, "to_line")
	if from == 0 || to == 0 {
		return errorResult("from_line and to_line are required")
	}
	newContent := stringArg(args, "new_content")
	operation := stringArg(args, "operation")

	lineCount, err := e.notes.EditLines(from, to, newContent, operation)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{
		"success":    true,
		"line_count": lineCount,
	})
}

func (e *Executor) clearMemory() string {
	if err := e.notes.Clear(); err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "message": "trading memory cleared"})
}

func jsonResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("serialize result: %v", err))
	}
	return string(data)
}

func errorResult(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// Model-provided arguments arrive as decoded JSON, so numbers are
// float64 and anything may be missing or the wrong type. The accessors
// return zero values instead of failing.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func numberArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func intArg(args map[string]any, key string) int {
	return int(numberArg(args, key))
}

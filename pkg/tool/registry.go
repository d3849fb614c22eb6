// Package tool declares the trading tools exposed to the model and the
// executor that runs them against a broker.
package tool

import "tradepilot/pkg/llm"

var registry = []llm.ToolDefinition{
	{
		Name:        "get_account",
		Description: "Get account details: cash, portfolio value, buying power and trading status",
		Schema:      emptySchema(),
	},
	{
		Name:        "get_all_positions",
		Description: "Get all open positions with quantity, entry price and unrealized P/L",
		Schema:      emptySchema(),
	},
	{
		Name:        "close_position",
		Description: "Close a position fully or partially. Provide exactly one of qty or percentage; percentage=100 closes the full position.",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"symbol":     {Type: "string", Description: "Symbol of the position to close"},
				"qty":        {Type: "number", Description: "Quantity to close"},
				"percentage": {Type: "number", Description: "Percentage of the position to close (0-100]"},
			},
			Required: []string{"symbol"},
		},
	},
	{
		Name:        "get_crypto_latest_bar",
		Description: "Get the latest OHLCV bar for a crypto symbol",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"symbol": {Type: "string", Description: "Crypto symbol, e.g. BTC/USD or BTCUSDT"},
			},
			Required: []string{"symbol"},
		},
	},
	{
		Name:        "place_crypto_order",
		Description: "Place a market order for a crypto symbol. Size with exactly one of qty or notional. Leverage above 1x only works on venues that support it.",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"symbol":   {Type: "string", Description: "Crypto symbol"},
				"side":     {Type: "string", Enum: []string{"buy", "sell"}},
				"qty":      {Type: "number", Description: "Order quantity in base units"},
				"notional": {Type: "number", Description: "Order size in quote currency (USD)"},
				"leverage": {Type: "integer", Description: "Leverage multiplier (default 1)"},
			},
			Required: []string{"symbol", "side"},
		},
	},
	{
		Name:        "place_stock_order",
		Description: "Place an order for a US equity symbol. Only works during market hours on venues that trade stocks.",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"symbol":        {Type: "string", Description: "Stock symbol, e.g. AAPL"},
				"side":          {Type: "string", Enum: []string{"buy", "sell"}},
				"qty":           {Type: "number", Description: "Number of shares"},
				"notional":      {Type: "number", Description: "Dollar amount to trade (market orders only)"},
				"type":          {Type: "string", Enum: []string{"market", "limit", "stop", "stop_limit"}, Description: "Order type (default market)"},
				"time_in_force": {Type: "string", Enum: []string{"day", "gtc", "ioc", "fok"}, Description: "Time in force (default day)"},
				"limit_price":   {Type: "number", Description: "Limit price, required for limit and stop_limit orders"},
				"stop_price":    {Type: "number", Description: "Stop price, required for stop and stop_limit orders"},
			},
			Required: []string{"symbol", "side"},
		},
	},
	{
		Name:        "get_stock_quote",
		Description: "Get the latest bid/ask quote for a stock symbol",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"symbol": {Type: "string", Description: "Stock symbol"},
			},
			Required: []string{"symbol"},
		},
	},
	{
		Name:        "get_stock_bars",
		Description: "Get historical OHLCV bars for a stock symbol",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"symbol":    {Type: "string", Description: "Stock symbol"},
				"timeframe": {Type: "string", Enum: []string{"1Min", "5Min", "15Min", "1Hour", "1Day"}, Description: "Bar timeframe (default 1Day)"},
				"limit":     {Type: "integer", Description: "Number of bars (default 30)"},
			},
			Required: []string{"symbol"},
		},
	},
	{
		Name:        "get_orders",
		Description: "List orders filtered by status",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"status": {Type: "string", Enum: []string{"open", "closed", "all"}, Description: "Filter by status (default open)"},
			},
		},
	},
	{
		Name:        "cancel_order",
		Description: "Cancel an open order by its ID",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"order_id": {Type: "string", Description: "Order ID to cancel"},
			},
			Required: []string{"order_id"},
		},
	},
	{
		Name:        "cancel_all_orders",
		Description: "Cancel all open orders",
		Schema:      emptySchema(),
	},
	{
		Name:        "get_market_clock",
		Description: "Get current market status and next open/close times. Crypto trades continuously; stock orders only fill while the market is open.",
		Schema:      emptySchema(),
	},
	{
		Name: "read_trading_memory",
		Description: "Read the persistent trading memory file with 1-indexed line numbers. " +
			"Read this at the start of each analysis cycle; use the line numbers with edit_trading_memory_lines.",
		Schema: emptySchema(),
	},
	{
		Name: "write_trading_memory",
		Description: "Replace the entire trading memory file. Read the current content first, edit it inline " +
			"(remove closed positions, update exit strategies), then write the complete new content back.",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"content": {Type: "string", Description: "The complete new content of the memory file (Markdown)"},
			},
			Required: []string{"content"},
		},
	},
	{
		Name: "append_trading_memory",
		Description: "Append content to the end of the trading memory file. Use only for new positions or quick " +
			"observations; prefer write_trading_memory for edits so the file stays compact.",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"content": {Type: "string", Description: "Content to append"},
			},
			Required: []string{"content"},
		},
	},
	{
		Name: "edit_trading_memory_lines",
		Description: "Edit or delete specific lines of the trading memory file without rewriting it. " +
			"Lines are 1-indexed and the range is inclusive. Empty new_content deletes the range.",
		Schema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"from_line":   {Type: "integer", Description: "Starting line number (1-indexed)"},
				"to_line":     {Type: "integer", Description: "Ending line number (inclusive)"},
				"new_content": {Type: "string", Description: "New content; empty string deletes the lines"},
				"operation":   {Type: "string", Enum: []string{"replace", "delete", "insert_before"}, Description: "Operation type (default replace)"},
			},
			Required: []string{"from_line", "to_line"},
		},
	},
	{
		Name:        "clear_trading_memory",
		Description: "Erase the entire trading memory file. Use only after a major strategy overhaul.",
		Schema:      emptySchema(),
	},
}

// Definitions returns the full tool set in declaration order. The
// returned slice is shared; callers must not mutate it.
func Definitions() []llm.ToolDefinition {
	return registry
}

func emptySchema() llm.Schema {
	return llm.Schema{Type: "object", Properties: map[string]llm.Property{}}
}

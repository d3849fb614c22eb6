package broker

import "context"

// Broker exposes trading capabilities in a venue-agnostic fashion. All
// implementations must be safe for concurrent use.
type Broker interface {
	// Identity and static capabilities.
	Name() string
	Capabilities() Capabilities
	// NormalizeSymbol converts operator input into the venue's native
	// symbol form. Pure and idempotent: normalizing an already normalized
	// symbol returns it unchanged.
	NormalizeSymbol(symbol string, class AssetClass) string

	// Account information.
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)

	// Position management.
	ClosePosition(ctx context.Context, req CloseRequest) (*Order, error)

	// Order management.
	PlaceCryptoOrder(ctx context.Context, req CryptoOrderRequest) (*Order, error)
	PlaceStockOrder(ctx context.Context, req StockOrderRequest) (*Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) (int, error)

	// Market data.
	GetCryptoPrice(ctx context.Context, symbol string) (*Bar, error)
	GetStockQuote(ctx context.Context, symbol string) (*Quote, error)
	GetBars(ctx context.Context, req BarsRequest) ([]Bar, error)
	GetMarketStatus(ctx context.Context) (*MarketStatus, error)
}

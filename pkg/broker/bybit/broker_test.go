package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/pkg/broker"
)

func testBroker(t *testing.T, handler http.Handler) *Broker {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	b, err := New(
		broker.Credentials{Key: "test-key", Secret: "test-secret"},
		WithBaseURL(server.URL),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	)
	require.NoError(t, err)
	return b
}

func ok(result string) string {
	return `{"ret_code":0,"ret_msg":"OK","result":` + result + `}`
}

func TestNormalizeSymbolIdempotent(t *testing.T) {
	b := &Broker{}
	cases := map[string]string{
		"eth":     "ETHUSDT",
		"ETH/USD": "ETHUSDT",
		"ethusdt": "ETHUSDT",
		"BTC-USD": "BTCUSDT",
	}
	for in, want := range cases {
		got := b.NormalizeSymbol(in, broker.AssetCrypto)
		assert.Equal(t, want, got, "normalize %q", in)
		assert.Equal(t, want, b.NormalizeSymbol(got, broker.AssetCrypto))
	}
}

// The v2 signature covers the sorted key=value parameter string with sign
// itself excluded.
func verifySortedSign(t *testing.T, params map[string]string) {
	t.Helper()
	sig, okSig := params["sign"]
	require.True(t, okSig, "sign parameter missing")

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(k + "=" + params[k])
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(buf.Bytes())
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestGetAccountSignsSortedParams(t *testing.T) {
	b := testBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := make(map[string]string)
		for k, v := range r.URL.Query() {
			params[k] = v[0]
		}
		assert.Equal(t, "test-key", params["api_key"])
		assert.Equal(t, "1700000000000", params["timestamp"])
		assert.Equal(t, "5000", params["recv_window"])
		verifySortedSign(t, params)
		w.Write([]byte(ok(`{"USDT":{"equity":1100,"wallet_balance":"1000.5","available_balance":900.25}}`)))
	}))

	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000.5, acct.Cash, 1e-9)
	assert.InDelta(t, 1100, acct.PortfolioValue, 1e-9)
	assert.InDelta(t, 900.25, acct.BuyingPower, 1e-9)
}

func TestRetCodeMapsToUpstreamError(t *testing.T) {
	b := testBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ret_code":10003,"ret_msg":"invalid api key"}`))
	}))

	_, err := b.GetAccount(context.Background())
	var uerr *broker.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 10003, uerr.Code)
	assert.Contains(t, uerr.Message, "invalid api key")
}

func TestPlaceCryptoOrderLeverageRejectedBeforeNetwork(t *testing.T) {
	called := false
	b := testBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, err := b.PlaceCryptoOrder(context.Background(), broker.CryptoOrderRequest{
		Symbol: "ETH", Side: broker.SideBuy, Qty: 1, Leverage: 101,
	})
	var lerr *broker.LeverageError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, maxLeverage, lerr.Max)
	assert.False(t, called)
}

func TestPlaceCryptoOrderSetsLeverageFirst(t *testing.T) {
	var paths []string
	b := testBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var params map[string]string
		require.NoError(t, json.Unmarshal(body, &params))
		verifySortedSign(t, params)

		switch r.URL.Path {
		case "/private/linear/position/set-leverage":
			assert.Equal(t, "ETHUSDT", params["symbol"])
			assert.Equal(t, "20", params["buy_leverage"])
			assert.Equal(t, "20", params["sell_leverage"])
			w.Write([]byte(ok("null")))
		case "/private/linear/order/create":
			assert.Equal(t, "Buy", params["side"])
			assert.Equal(t, "Market", params["order_type"])
			w.Write([]byte(ok(`{"order_id":"abc-1","symbol":"ETHUSDT","side":"Buy","qty":1,"order_type":"Market","order_status":"Created","created_time":"2023-11-14T00:00:00Z"}`)))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := b.PlaceCryptoOrder(context.Background(), broker.CryptoOrderRequest{
		Symbol: "eth", Side: broker.SideBuy, Qty: 1, Leverage: 20,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/private/linear/position/set-leverage", "/private/linear/order/create"}, paths)
	assert.Equal(t, "abc-1", order.ID)
	assert.Equal(t, 20, order.Leverage)
}

func TestLeverageNotModifiedIsIgnored(t *testing.T) {
	b := testBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/private/linear/position/set-leverage":
			w.Write([]byte(`{"ret_code":34036,"ret_msg":"leverage not modified"}`))
		case "/private/linear/order/create":
			w.Write([]byte(ok(`{"order_id":"abc-2","symbol":"ETHUSDT","side":"Buy","qty":1,"order_type":"Market","order_status":"Created"}`)))
		}
	}))

	order, err := b.PlaceCryptoOrder(context.Background(), broker.CryptoOrderRequest{
		Symbol: "ETHUSDT", Side: broker.SideBuy, Qty: 1, Leverage: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-2", order.ID)
}

func TestClosePositionShortBuysBack(t *testing.T) {
	b := testBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/private/linear/position/list":
			w.Write([]byte(ok(`[{"symbol":"ETHUSDT","side":"Sell","size":2,"entry_price":3000,"position_value":6000,"unrealised_pnl":-50,"leverage":5}]`)))
		case "/private/linear/order/create":
			body, _ := io.ReadAll(r.Body)
			var params map[string]string
			require.NoError(t, json.Unmarshal(body, &params))
			assert.Equal(t, "Buy", params["side"])
			assert.Equal(t, "2", params["qty"])
			assert.Equal(t, "true", params["reduce_only"])
			w.Write([]byte(ok(`{"order_id":"c-1","symbol":"ETHUSDT","side":"Buy","qty":2,"order_type":"Market","order_status":"Created"}`)))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := b.ClosePosition(context.Background(), broker.CloseRequest{Symbol: "ETH", Percentage: 100})
	require.NoError(t, err)
	assert.Equal(t, broker.SideBuy, order.Side)
}

func TestStockOperationsUnsupported(t *testing.T) {
	b := &Broker{}
	var capErr *broker.CapabilityError
	_, err := b.PlaceStockOrder(context.Background(), broker.StockOrderRequest{Symbol: "AAPL", Side: broker.SideBuy, Qty: 1, Type: broker.OrderTypeMarket})
	require.ErrorAs(t, err, &capErr)
	_, err = b.GetStockQuote(context.Background(), "AAPL")
	require.ErrorAs(t, err, &capErr)
}

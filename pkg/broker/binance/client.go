// Package binance implements the Broker interface against the Binance
// USD-M futures REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradepilot/pkg/broker"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	defaultHTTPTimeout = 30 * time.Second
	recvWindowMillis   = 5000
)

// client coordinates signed requests against Binance futures endpoints.
type client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *log.Logger
	clock      func() time.Time
}

// ClientOption customises the Binance client.
type ClientOption func(*client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL points the client at an alternate endpoint (primarily for
// testing against httptest servers).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithLogger attaches a custom logger (defaults to log.Default()).
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func newClient(creds broker.Credentials, opts ...ClientOption) *client {
	base := mainnetBaseURL
	if creds.Paper {
		base = testnetBaseURL
	}
	c := &client{
		baseURL:    base,
		apiKey:     creds.Key,
		apiSecret:  creds.Secret,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     log.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sign computes the HMAC-SHA256 signature over the encoded query string.
func (c *client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedRequest issues an authenticated request. Binance requires the
// signature computed over the final encoded query including timestamp and
// recvWindow, appended as the signature parameter.
func (c *client) signedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.clock().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMillis))

	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("binance: build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

// publicRequest issues an unauthenticated market-data request.
func (c *client) publicRequest(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("binance: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Msg
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &broker.UpstreamError{Broker: "binance", Status: resp.StatusCode, Code: apiErr.Code, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode response: %w", err)
	}
	return nil
}

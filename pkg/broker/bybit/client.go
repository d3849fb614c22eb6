// Package bybit implements the Broker interface against the Bybit USDT
// perpetual REST API.
package bybit

import (
	"bytes"
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
	"sort"
	"strconv"
	"time"

	"tradepilot/pkg/broker"
)

const (
	mainnetBaseURL = "https://api.bybit.com"
	testnetBaseURL = "https://api-testnet.bybit.com"

	defaultHTTPTimeout = 30 * time.Second
	recvWindowMillis   = 5000
)

// client coordinates signed requests against Bybit endpoints.
type client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *log.Logger
	clock      func() time.Time
}

// ClientOption customises the Bybit client.
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

// sign computes HMAC-SHA256 over the sorted key=value parameter string,
// Bybit's v2 signing scheme.
func (c *client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write(buf.Bytes())
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}

// signedRequest issues an authenticated request. GET parameters travel in
// the query string, POST parameters as a JSON body; the signature rides
// along as the sign parameter either way.
func (c *client) signedRequest(ctx context.Context, method, path string, params map[string]string, out any) error {
	if params == nil {
		params = make(map[string]string)
	}
	params["api_key"] = c.apiKey
	params["timestamp"] = strconv.FormatInt(c.clock().UnixMilli(), 10)
	params["recv_window"] = strconv.Itoa(recvWindowMillis)
	params["sign"] = c.sign(params)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+values.Encode(), nil)
	} else {
		var body []byte
		body, err = json.Marshal(params)
		if err == nil {
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
			if req != nil {
				req.Header.Set("Content-Type", "application/json")
			}
		}
	}
	if err != nil {
		return fmt.Errorf("bybit: build request: %w", err)
	}
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
		return fmt.Errorf("bybit: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bybit: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bybit: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &broker.UpstreamError{Broker: "bybit", Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bybit: decode response: %w", err)
	}
	if env.RetCode != 0 {
		return &broker.UpstreamError{Broker: "bybit", Status: resp.StatusCode, Code: env.RetCode, Message: env.RetMsg}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("bybit: decode result: %w", err)
	}
	return nil
}

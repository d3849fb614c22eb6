package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	anthropicHTTPTimeout = 120 * time.Second

	defaultAnthropicMaxTokens = 4096
)

// apiError is a non-2xx reply from the messages endpoint.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("llm: api error (status %d): %s", e.StatusCode, e.Message)
}

// AnthropicClient speaks the Anthropic Messages wire protocol: flat tool
// declarations with input_schema, assistant turns as ordered content
// blocks, and tool results returned as user-role tool_result blocks.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	retry      *RetryHandler
	logger     Logger
}

// AnthropicOption customises the client.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicBaseURL overrides the API endpoint (for tests and proxies).
func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(c *AnthropicClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithAnthropicHTTPClient overrides the default HTTP client.
func WithAnthropicHTTPClient(httpClient *http.Client) AnthropicOption {
	return func(c *AnthropicClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAnthropicRetry overrides retry behaviour.
func WithAnthropicRetry(cfg RetryConfig) AnthropicOption {
	return func(c *AnthropicClient) {
		c.retry = NewRetryHandler(cfg)
	}
}

// WithAnthropicLogger attaches a structured logger.
func WithAnthropicLogger(logger Logger) AnthropicOption {
	return func(c *AnthropicClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewAnthropicClient constructs a Messages-protocol backend.
func NewAnthropicClient(apiKey, model string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: anthropic api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: anthropic model is required")
	}
	c := &AnthropicClient{
		baseURL:    anthropicBaseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: anthropicHTTPTimeout},
		retry:      NewRetryHandler(RetryConfig{MaxRetries: defaultMaxRetries}),
		logger:     NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Wire types for the messages endpoint.

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema Schema `json:"input_schema"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use". Input is raw JSON so a zero-argument call
	// still serializes as "input":{} — the endpoint rejects tool_use
	// blocks without an input field.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

// Complete sends the conversation and decodes the reply into a Turn.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Turn, error) {
	wire := encodeAnthropicRequest(req)
	if wire.Model == "" {
		wire.Model = c.model
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	var resp anthropicResponse
	err = c.retry.Do(ctx, func() error {
		return c.post(ctx, payload, &resp)
	})
	if err != nil {
		return nil, err
	}

	turn := decodeAnthropicResponse(&resp)
	c.logger.Debug(ctx, "anthropic completion", Fields{
		"stop_reason": turn.StopReason,
		"tool_calls":  len(turn.ToolCalls),
	})
	return turn, nil
}

func (c *AnthropicClient) post(ctx context.Context, payload []byte, out *anthropicResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm: post messages: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("llm: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var wireErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &wireErr)
		msg := wireErr.Error.Message
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &apiError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

// encodeToolInput marshals tool-call arguments, mapping nil to {} so
// every tool_use block carries an input field.
func encodeToolInput(args map[string]any) json.RawMessage {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func encodeAnthropicRequest(req *Request) *anthropicRequest {
	wire := &anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = defaultAnthropicMaxTokens
	}

	for _, tool := range req.Tools {
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Schema,
		})
	}

	for _, msg := range req.Messages {
		switch {
		case len(msg.ToolResults) > 0:
			// Tool results travel back as user-role tool_result blocks.
			blocks := make([]anthropicBlock, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				blocks = append(blocks, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: result.CallID,
					Content:   result.Content,
				})
			}
			wire.Messages = append(wire.Messages, anthropicMessage{Role: "user", Content: blocks})

		case msg.Role == RoleAssistant:
			var blocks []anthropicBlock
			if msg.Text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Text})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: encodeToolInput(call.Arguments),
				})
			}
			wire.Messages = append(wire.Messages, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			wire.Messages = append(wire.Messages, anthropicMessage{Role: "user", Content: msg.Text})
		}
	}
	return wire
}

func decodeAnthropicResponse(resp *anthropicResponse) *Turn {
	turn := &Turn{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if turn.Text != "" {
				turn.Text += "\n"
			}
			turn.Text += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	switch resp.StopReason {
	case "tool_use":
		turn.StopReason = StopToolUse
	case "max_tokens":
		turn.StopReason = StopMaxTokens
	default:
		turn.StopReason = StopEndTurn
	}
	return turn
}

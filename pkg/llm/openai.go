package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient speaks the Chat Completions wire protocol: function-typed
// tool wrappers, a tool_calls array on assistant messages, and results
// returned as role "tool" messages keyed by call id. A configurable base
// URL covers OpenAI-compatible vendors such as DeepSeek.
type OpenAIClient struct {
	client *openai.Client
	model  string
	retry  *RetryHandler
	logger Logger
}

// OpenAIOption customises the client.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	retry   RetryConfig
	logger  Logger
}

// WithOpenAIBaseURL points the client at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = baseURL
	}
}

// WithOpenAIRetry overrides retry behaviour.
func WithOpenAIRetry(cfg RetryConfig) OpenAIOption {
	return func(c *openAIConfig) {
		c.retry = cfg
	}
}

// WithOpenAILogger attaches a structured logger.
func WithOpenAILogger(logger Logger) OpenAIOption {
	return func(c *openAIConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOpenAIClient constructs a Chat Completions backend.
func NewOpenAIClient(apiKey, model string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: openai api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: openai model is required")
	}

	cfg := openAIConfig{
		retry:  RetryConfig{MaxRetries: defaultMaxRetries},
		logger: NopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		retry:  NewRetryHandler(cfg.retry),
		logger: cfg.logger,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

// Complete sends the conversation and decodes the reply into a Turn.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Turn, error) {
	wire := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: encodeOpenAIMessages(req),
		Tools:    encodeOpenAITools(req.Tools),
	}
	if wire.Model == "" {
		wire.Model = c.model
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = req.MaxTokens
	}

	var resp openai.ChatCompletionResponse
	err := c.retry.Do(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, wire)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: chat completion returned no choices")
	}

	turn := decodeOpenAIChoice(&resp.Choices[0])
	c.logger.Debug(ctx, "openai completion", Fields{
		"stop_reason": turn.StopReason,
		"tool_calls":  len(turn.ToolCalls),
	})
	return turn, nil
}

func encodeOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}
	return out
}

func encodeOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		switch {
		case len(msg.ToolResults) > 0:
			// One role "tool" message per result, keyed by call id.
			for _, result := range msg.ToolResults {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    result.Content,
					ToolCallID: result.CallID,
				})
			}

		case msg.Role == RoleAssistant:
			wireMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text,
			}
			for _, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Arguments)
				wireMsg.ToolCalls = append(wireMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, wireMsg)

		default:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text,
			})
		}
	}
	return messages
}

func decodeOpenAIChoice(choice *openai.ChatCompletionChoice) *Turn {
	turn := &Turn{Text: choice.Message.Content}
	for _, call := range choice.Message.ToolCalls {
		arguments := make(map[string]any)
		if call.Function.Arguments != "" {
			// Malformed arguments become an empty map; the executor
			// reports the missing fields.
			_ = json.Unmarshal([]byte(call.Function.Arguments), &arguments)
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}
	switch {
	case choice.FinishReason == openai.FinishReasonToolCalls || len(turn.ToolCalls) > 0:
		turn.StopReason = StopToolUse
	case choice.FinishReason == openai.FinishReasonLength:
		turn.StopReason = StopMaxTokens
	default:
		turn.StopReason = StopEndTurn
	}
	return turn
}

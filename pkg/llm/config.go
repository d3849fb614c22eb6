package llm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultLogLevel   = "info"
)

// Config holds runtime settings for the conversation backends.
type Config struct {
	// Protocol selects the wire format: "anthropic" or "openai".
	Protocol   string `yaml:"protocol"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`
	LogLevel   string `yaml:"log_level"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open llm config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read llm config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal llm config: %w", err)
	}

	cfg.Protocol = strings.ToLower(strings.TrimSpace(os.ExpandEnv(cfg.Protocol)))
	cfg.APIKey = strings.TrimSpace(os.ExpandEnv(cfg.APIKey))
	cfg.BaseURL = strings.TrimSpace(os.ExpandEnv(cfg.BaseURL))
	cfg.Model = strings.TrimSpace(os.ExpandEnv(cfg.Model))
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the protocol selection and required key material.
func (c *Config) Validate() error {
	switch c.Protocol {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm config: protocol must be anthropic or openai, got %q", c.Protocol)
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm config: api_key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("llm config: model is required")
	}
	return nil
}

// NewBackend constructs the backend the config selects.
func (c *Config) NewBackend() (Backend, error) {
	logger := NewLogger(c.LogLevel)
	retry := RetryConfig{MaxRetries: c.MaxRetries}

	switch c.Protocol {
	case "anthropic":
		opts := []AnthropicOption{
			WithAnthropicRetry(retry),
			WithAnthropicLogger(logger),
		}
		if c.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(c.BaseURL))
		}
		return NewAnthropicClient(c.APIKey, c.Model, opts...)
	case "openai":
		opts := []OpenAIOption{
			WithOpenAIRetry(retry),
			WithOpenAILogger(logger),
		}
		if c.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(c.BaseURL))
		}
		return NewOpenAIClient(c.APIKey, c.Model, opts...)
	default:
		return nil, fmt.Errorf("llm config: unsupported protocol %q", c.Protocol)
	}
}

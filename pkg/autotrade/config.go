package autotrade

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultInterval separates successful iterations.
	DefaultInterval = 60 * time.Second
	// ErrorBackoff separates iterations after an unexpected failure.
	ErrorBackoff = 30 * time.Second
	// DefaultMaxTradeAmount caps single-trade notional advice in the
	// context bundle.
	DefaultMaxTradeAmount = 100
)

// Config drives one worker. The worker swaps its config only between
// iterations, never while a run is in flight.
type Config struct {
	Interval time.Duration `yaml:"-"`
	// IntervalRaw carries the YAML form, e.g. "60s" or "5m".
	IntervalRaw    string   `yaml:"interval"`
	MaxTradeAmount float64  `yaml:"max_trade_amount"`
	Categories     []string `yaml:"categories"`
	Keywords       []string `yaml:"keywords"`
	SystemPrompt   string   `yaml:"system_prompt"`
	StrategyPrompt string   `yaml:"strategy_prompt"`
	// Signals is pre-rendered external signal content (prediction
	// markets, news digests) included verbatim in the context bundle.
	Signals string `yaml:"signals"`
}

// LoadConfig reads an autotrade section file from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open autotrade config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader, expanding
// environment references and applying defaults.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read autotrade config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal autotrade config: %w", err)
	}
	cfg.SystemPrompt = strings.TrimSpace(os.ExpandEnv(cfg.SystemPrompt))
	cfg.StrategyPrompt = strings.TrimSpace(os.ExpandEnv(cfg.StrategyPrompt))
	if raw := strings.TrimSpace(cfg.IntervalRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("autotrade config: parse interval %q: %w", raw, err)
		}
		cfg.Interval = d
	}
	cfg.normalise()
	return &cfg, nil
}

func (c *Config) normalise() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxTradeAmount <= 0 {
		c.MaxTradeAmount = DefaultMaxTradeAmount
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are an AI trading assistant."
	}
	if c.StrategyPrompt == "" {
		c.StrategyPrompt = "Execute profitable trades within the configured constraints."
	}
}

package broker

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures configuration for one or more broker adapters.
type Config struct {
	Default string                  `yaml:"default"`
	Brokers map[string]*VenueConfig `yaml:"brokers"`
}

// VenueConfig describes how to construct one broker instance. Key material
// supports ${ENV} expansion so secrets stay out of config files.
type VenueConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Paper     bool   `yaml:"paper"`
}

// LoadConfig reads broker configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open broker config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read broker config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal broker config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() {
	if c.Brokers == nil {
		c.Brokers = make(map[string]*VenueConfig)
	}
	c.Default = strings.ToLower(strings.TrimSpace(os.ExpandEnv(c.Default)))
	for name, venue := range c.Brokers {
		if venue == nil {
			venue = &VenueConfig{}
			c.Brokers[name] = venue
		}
		venue.APIKey = strings.TrimSpace(os.ExpandEnv(venue.APIKey))
		venue.APISecret = strings.TrimSpace(os.ExpandEnv(venue.APISecret))
	}
}

// Validate ensures every configured venue maps to a registered adapter.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("broker config: brokers cannot be empty")
	}
	for name := range c.Brokers {
		if _, ok := Lookup(name); !ok {
			return fmt.Errorf("broker config: %w", &UnknownBrokerError{ID: name, Valid: IDs()})
		}
	}
	if c.Default != "" {
		if _, ok := c.Brokers[c.Default]; !ok {
			return fmt.Errorf("broker config: default broker %q not defined", c.Default)
		}
	}
	return nil
}

// Build constructs all configured adapters keyed by broker id.
func (c *Config) Build() (map[string]Broker, error) {
	out := make(map[string]Broker, len(c.Brokers))
	for name, venue := range c.Brokers {
		b, err := New(name, Credentials{Key: venue.APIKey, Secret: venue.APISecret, Paper: venue.Paper})
		if err != nil {
			return nil, err
		}
		out[name] = b
	}
	return out, nil
}

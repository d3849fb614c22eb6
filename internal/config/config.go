package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/rest"

	"tradepilot/pkg/autotrade"
	"tradepilot/pkg/broker"
	"tradepilot/pkg/confkit"
	"tradepilot/pkg/llm"
)

// Config is the process configuration. The broker, LLM and autotrade
// sections live in separate YAML files referenced from the main file and
// are hydrated relative to its directory.
type Config struct {
	rest.RestConf
	// Env indicates the running environment: test | dev | prod.
	Env string `json:",default=test"`
	// MemoryPath locates the trading memory file.
	MemoryPath string `json:",default=data/trading_memory.md"`

	Broker    confkit.Section[broker.Config]    `json:",optional"`
	LLM       confkit.Section[llm.Config]       `json:",optional"`
	Autotrade confkit.Section[autotrade.Config] `json:",optional"`

	mainPath string
	baseDir  string
}

// IsTestEnv reports whether the process runs in test mode. Test mode
// forces paper endpoints on every venue.
func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

// MustLoad loads configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the main config file, validates it and hydrates the
// section files.
func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.hydrateSections(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks top-level settings.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if strings.TrimSpace(c.MemoryPath) == "" {
		return errors.New("config: memoryPath is required")
	}
	return nil
}

func (c *Config) hydrateSections() error {
	base := c.baseDir

	if err := c.Broker.Hydrate(base, broker.LoadConfig); err != nil {
		return fmt.Errorf("load broker config: %w", err)
	}
	if err := c.LLM.Hydrate(base, llm.LoadConfig); err != nil {
		return fmt.Errorf("load llm config: %w", err)
	}
	if err := c.Autotrade.Hydrate(base, autotrade.LoadConfig); err != nil {
		return fmt.Errorf("load autotrade config: %w", err)
	}
	return nil
}

// MainPath returns the absolute path of the loaded main config file.
func (c *Config) MainPath() string {
	return c.mainPath
}

// BaseDir returns the directory section files resolve against.
func (c *Config) BaseDir() string {
	return c.baseDir
}

// ResolvePath resolves a path relative to the main config directory.
func (c *Config) ResolvePath(rel string) string {
	return confkit.ResolvePath(c.baseDir, rel)
}

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
		// Alerts ships aggregated error logs to kafka.alerts_topic.
		Alerts        bool          `yaml:"alerts"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
		FlushCount    int           `yaml:"flush_count" default:"100"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Database struct {
		Path         string        `yaml:"path" default:"data/otcdesk.db"`
		MaxOpenConns int           `yaml:"max_open_conns" default:"1"`
		MaxRetries   int           `yaml:"max_retries" default:"5"`
		RetryBackoff time.Duration `yaml:"retry_backoff" default:"20ms"`
	} `yaml:"database"`
	Engine struct {
		TickInterval time.Duration  `yaml:"tick_interval" default:"1s"`
		Seed         int64          `yaml:"seed" default:"1"`
		HistorySize  int            `yaml:"history_size" default:"600"`
		Symbols      []SymbolConfig `yaml:"symbols"`
	} `yaml:"engine"`
	Settlement struct {
		SweepInterval     time.Duration `yaml:"sweep_interval" default:"5s"`
		LockTTL           time.Duration `yaml:"lock_ttl" default:"10s"`
		DefaultPayoutRate float64       `yaml:"default_payout_rate" default:"0.85"`
		EventBuffer       int           `yaml:"event_buffer" default:"1024"`
	} `yaml:"settlement"`
	Backend struct {
		// Type selects where the tick archive goes: kafka or clickhouse. Empty disables archiving.
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	} `yaml:"backend"`
	Notifications struct {
		// Backend is kafka, redis, webhook or log.
		Backend        string        `yaml:"backend" default:"log"`
		Queue          string        `yaml:"queue" default:"settlements"`
		WebhookURL     string        `yaml:"webhook_url"`
		WebhookTimeout time.Duration `yaml:"webhook_timeout" default:"5s"`
		WebhookRetries int           `yaml:"webhook_retries" default:"3"`
	} `yaml:"notifications"`
	Feed struct {
		Enabled       bool    `yaml:"enabled" default:"true"`
		PerClientRate float64 `yaml:"per_client_rate" default:"50"`
		Burst         int     `yaml:"burst" default:"100"`
	} `yaml:"feed"`
	Kafka struct {
		Enabled            bool     `yaml:"enabled"`
		Brokers            []string `yaml:"brokers"`
		TicksTopic         string   `yaml:"ticks_topic" default:"otc.ticks"`
		SettlementsTopic   string   `yaml:"settlements_topic" default:"otc.settlements"`
		InterventionsTopic string   `yaml:"interventions_topic" default:"otc.interventions"`
		TradesTopic        string   `yaml:"trades_topic" default:"otc.trades.opened"`
		AlertsTopic        string   `yaml:"alerts_topic" default:"otc.alerts"`
		RequiredAcks       int      `yaml:"required_acks" default:"1"`
		Compression        string   `yaml:"compression" default:"snappy"`
		Producer           struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"otcdesk"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"otcdesk"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"otcdesk"`
		TTL      time.Duration `yaml:"ttl" default:"24h"`
	} `yaml:"redis"`
}

// SymbolConfig describes one synthetic instrument.
type SymbolConfig struct {
	Symbol        string  `yaml:"symbol"`
	BasePrice     float64 `yaml:"base_price"`
	Volatility    float64 `yaml:"volatility" default:"0.0002"`
	Drift         float64 `yaml:"drift"`
	MeanReversion float64 `yaml:"mean_reversion" default:"0.001"`
	TickSize      float64 `yaml:"tick_size" default:"0.00001"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	// Defaults first so that explicit false/zero values in the file survive.
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range c.Engine.Symbols {
		if err := defaults.Set(&c.Engine.Symbols[i]); err != nil {
			return nil, fmt.Errorf("symbol defaults: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("OTC_SYMBOLS"); v != "" {
		c.Engine.Symbols = filterSymbols(c.Engine.Symbols, strings.Split(v, ","))
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ENGINE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ENGINE_SEED: %w", err)
		}
		c.Engine.Seed = seed
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// filterSymbols keeps only the configured instruments named in keep, in keep order.
func filterSymbols(all []SymbolConfig, keep []string) []SymbolConfig {
	byName := make(map[string]SymbolConfig, len(all))
	for _, s := range all {
		byName[s.Symbol] = s
	}
	out := make([]SymbolConfig, 0, len(keep))
	for _, name := range keep {
		if s, ok := byName[strings.TrimSpace(name)]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols cannot be empty")
	}
	seen := make(map[string]bool, len(c.Engine.Symbols))
	for _, s := range c.Engine.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("engine.symbols: symbol name is required")
		}
		if seen[s.Symbol] {
			return fmt.Errorf("engine.symbols: duplicate symbol %q", s.Symbol)
		}
		seen[s.Symbol] = true
		if !(s.BasePrice > 0) || math.IsInf(s.BasePrice, 0) {
			return fmt.Errorf("engine.symbols[%s]: base_price must be positive", s.Symbol)
		}
		if !(s.TickSize > 0) {
			return fmt.Errorf("engine.symbols[%s]: tick_size must be positive", s.Symbol)
		}
		if s.Volatility < 0 {
			return fmt.Errorf("engine.symbols[%s]: volatility cannot be negative", s.Symbol)
		}
	}
	if c.Settlement.DefaultPayoutRate < 0 {
		return fmt.Errorf("settlement.default_payout_rate cannot be negative")
	}
	switch c.Backend.Type {
	case "":
	case "kafka":
		if !c.Kafka.Enabled {
			return fmt.Errorf("backend.type 'kafka' requires kafka.enabled")
		}
	case "clickhouse":
		if !c.ClickHouse.Enabled {
			return fmt.Errorf("backend.type 'clickhouse' requires clickhouse.enabled")
		}
	default:
		return fmt.Errorf("backend.type must be 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	switch c.Notifications.Backend {
	case "log":
	case "kafka":
		if !c.Kafka.Enabled {
			return fmt.Errorf("notifications.backend 'kafka' requires kafka.enabled")
		}
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("notifications.backend 'redis' requires redis.enabled")
		}
	case "webhook":
		if c.Notifications.WebhookURL == "" {
			return fmt.Errorf("notifications.webhook_url is required for the webhook backend")
		}
	default:
		return fmt.Errorf("notifications.backend must be 'kafka', 'redis', 'webhook' or 'log', got '%s'", c.Notifications.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// Symbol returns the instrument config for name.
func (c *Config) Symbol(name string) (SymbolConfig, bool) {
	for _, s := range c.Engine.Symbols {
		if s.Symbol == name {
			return s, true
		}
	}
	return SymbolConfig{}, false
}

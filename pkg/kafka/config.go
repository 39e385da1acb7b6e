package kafka

import (
	"fmt"
	"time"
)

// Topics names every stream the desk reads or writes.
type Topics struct {
	Ticks         string // published ticks, archived by the ticks consumer
	Settlements   string // settlement events, keyed by user
	Interventions string // audit mirror, keyed by target
	Trades        string // trade.opened intake
	Alerts        string // aggregated error logs
}

// DefaultTopics returns the topic names used when config leaves them empty.
func DefaultTopics() Topics {
	return Topics{
		Ticks:         "otc.ticks",
		Settlements:   "otc.settlements",
		Interventions: "otc.interventions",
		Trades:        "otc.trades.opened",
		Alerts:        "otc.alerts",
	}
}

// Merge fills empty names from DefaultTopics.
func (t Topics) Merge() Topics {
	d := DefaultTopics()
	t.Ticks = orDefault(t.Ticks, d.Ticks)
	t.Settlements = orDefault(t.Settlements, d.Settlements)
	t.Interventions = orDefault(t.Interventions, d.Interventions)
	t.Trades = orDefault(t.Trades, d.Trades)
	t.Alerts = orDefault(t.Alerts, d.Alerts)
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Validate rejects two streams sharing one topic; consumers of the trades
// and ticks topics would decode each other's messages.
func (t Topics) Validate() error {
	seen := make(map[string]string, 5)
	for name, topic := range map[string]string{
		"ticks":         t.Ticks,
		"settlements":   t.Settlements,
		"interventions": t.Interventions,
		"trades":        t.Trades,
		"alerts":        t.Alerts,
	} {
		if topic == "" {
			return fmt.Errorf("%s topic is empty", name)
		}
		if other, dup := seen[topic]; dup {
			return fmt.Errorf("topic %q used for both %s and %s", topic, other, name)
		}
		seen[topic] = name
	}
	return nil
}

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	Async        bool
	HashByKey    bool
}

// defaultProducerConfig favours latency: settlement events and audit rows
// are small and should leave within a tick interval.
func defaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: 10 * time.Millisecond,
		HashByKey:    true,
	}
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers are required")
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	if c.RequiredAcks < -1 || c.RequiredAcks > 1 {
		return fmt.Errorf("required acks must be -1, 0 or 1, got %d", c.RequiredAcks)
	}
	return nil
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = compression }
}

// WithDelivery sets acknowledgements (-1 = all replicas) and writer retries.
func WithDelivery(acks, maxAttempts int) ProducerOption {
	return func(c *ProducerConfig) {
		c.RequiredAcks = acks
		if maxAttempts > 0 {
			c.MaxAttempts = maxAttempts
		}
	}
}

// WithBatching sets how many messages or bytes are held back, and for how
// long, before a write. Zero values keep the defaults.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if bytes > 0 {
			c.BatchBytes = bytes
		}
		if linger > 0 {
			c.BatchTimeout = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.WriteTimeout = write
		c.ReadTimeout = read
	}
}

// WithAsync makes writes fire-and-forget. Errors are then only counted.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

// WithHashByKey routes equal keys to one partition, keeping per-user and
// per-symbol order.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

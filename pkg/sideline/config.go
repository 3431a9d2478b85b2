package sideline

import (
	"errors"
	"flag"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the recognized configuration options. It follows the
// RegisterFlagsAndApplyDefaults convention used throughout the
// grafana/tempo / grafana/dskit stack: defaults are applied directly, flags
// are registered under an optional prefix, and the struct is also
// YAML-tagged for file-based configuration.
type Config struct {
	BrokerHosts []string `yaml:"broker_hosts"`
	ConsumerID  string   `yaml:"consumer_id"`
	Topic       string   `yaml:"topic"`

	NumberOfConsumers int `yaml:"number_of_consumers"`
	IndexOfConsumer   int `yaml:"index_of_consumer"`

	ConsumerStateAutoCommit           bool  `yaml:"consumer_state_auto_commit"`
	ConsumerStateAutoCommitIntervalMs int64 `yaml:"consumer_state_auto_commit_interval_ms"`

	// TupleBufferMaxSize is the capacity of the staging FIFO between fetch
	// and NextRecord. Accepted as int64 so config maps sourced from either
	// 32- or 64-bit integer inputs unmarshal without loss.
	TupleBufferMaxSize int64 `yaml:"tuple_buffer_max_size"`

	// FinishedOutOfOrderWarnThreshold: when a partition's
	// finished_out_of_order set grows past this many entries, the Consumer
	// logs a warning rather than silently dropping anything. Zero disables
	// the check.
	FinishedOutOfOrderWarnThreshold int `yaml:"finished_out_of_order_warn_threshold"`
}

const (
	defaultAutoCommitIntervalMs = 15_000
	defaultTupleBufferMaxSize   = 1000
	defaultOOOWarnThreshold     = 10_000
)

// RegisterFlagsAndApplyDefaults applies this Config's defaults and
// registers command-line flags under prefix (pass "" for a top-level flag
// set).
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.NumberOfConsumers = 1
	c.IndexOfConsumer = 0
	c.ConsumerStateAutoCommit = false
	c.ConsumerStateAutoCommitIntervalMs = defaultAutoCommitIntervalMs
	c.TupleBufferMaxSize = defaultTupleBufferMaxSize
	c.FinishedOutOfOrderWarnThreshold = defaultOOOWarnThreshold

	f.StringVar(&c.ConsumerID, prefix+"consumer-id", "", "Stable identifier for this logical consumer; persistence is keyed by this value.")
	f.StringVar(&c.Topic, prefix+"topic", "", "Source topic to consume from.")
	f.IntVar(&c.NumberOfConsumers, prefix+"number-of-consumers", 1, "Total number of peer consumers sharing this topic's partitions.")
	f.IntVar(&c.IndexOfConsumer, prefix+"index-of-consumer", 0, "This consumer's index among number-of-consumers peers.")
	f.BoolVar(&c.ConsumerStateAutoCommit, prefix+"consumer-state-auto-commit", false, "Whether to automatically flush consumer state on a timed cadence.")
	f.Int64Var(&c.ConsumerStateAutoCommitIntervalMs, prefix+"consumer-state-auto-commit-interval-ms", defaultAutoCommitIntervalMs, "Minimum interval between automatic consumer-state flushes, in milliseconds.")
	f.Int64Var(&c.TupleBufferMaxSize, prefix+"tuple-buffer-max-size", defaultTupleBufferMaxSize, "Capacity of the staging FIFO between fetch and NextRecord.")
	f.IntVar(&c.FinishedOutOfOrderWarnThreshold, prefix+"finished-out-of-order-warn-threshold", defaultOOOWarnThreshold, "Log a warning once a partition's out-of-order-finished set exceeds this size; 0 disables the check.")
}

// AutoCommitInterval returns ConsumerStateAutoCommitIntervalMs as a
// time.Duration.
func (c *Config) AutoCommitInterval() time.Duration {
	return time.Duration(c.ConsumerStateAutoCommitIntervalMs) * time.Millisecond
}

// Validate checks the subset of Config invariants that can be checked
// without contacting the broker.
func (c *Config) Validate() error {
	if c.ConsumerID == "" {
		return errors.New("consumer_id is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if c.NumberOfConsumers < 1 {
		return errors.New("number_of_consumers must be >= 1")
	}
	if c.IndexOfConsumer < 0 || c.IndexOfConsumer >= c.NumberOfConsumers {
		return errors.New("index_of_consumer must be in [0, number_of_consumers)")
	}
	if c.TupleBufferMaxSize <= 0 {
		return errors.New("tuple_buffer_max_size must be positive")
	}
	return nil
}

// MarshalYAML renders this Config as YAML, matching the "-config.dump"
// style endpoint used throughout the grafana/tempo stack to expose the
// effective running configuration.
func (c *Config) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadConfig reads and unmarshals a YAML document into a Config.
func LoadConfig(r io.Reader) (Config, error) {
	var c Config
	b, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

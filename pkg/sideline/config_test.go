package sideline

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	var c Config
	c.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.PanicOnError))
	c.ConsumerID = "c1"
	c.Topic = "orders"
	return c
}

func TestConfig_ValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing consumer id", func(c *Config) { c.ConsumerID = "" }, "consumer_id is required"},
		{"missing topic", func(c *Config) { c.Topic = "" }, "topic is required"},
		{"zero consumers", func(c *Config) { c.NumberOfConsumers = 0 }, "number_of_consumers must be >= 1"},
		{"index out of range", func(c *Config) { c.IndexOfConsumer = 2; c.NumberOfConsumers = 2 }, "index_of_consumer must be in"},
		{"non-positive buffer", func(c *Config) { c.TupleBufferMaxSize = 0 }, "tuple_buffer_max_size must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_ValidateAcceptsDefaults(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestConfig_MarshalYAMLRoundTrip(t *testing.T) {
	c := validConfig()
	c.BrokerHosts = []string{"localhost:9092"}
	c.NumberOfConsumers = 3
	c.IndexOfConsumer = 1

	out, err := c.MarshalYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "consumer_id: c1")
	assert.Contains(t, string(out), "topic: orders")

	loaded, err := LoadConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

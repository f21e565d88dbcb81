// Package config loads the kplane binary's YAML configuration.
//
// A config file looks like:
//
//	kafka:
//	  brokers: [localhost:9092]
//	  client_id: kplane
//	  request_timeout: 15s
//	  offsets_topic: __consumer_offsets
//	  native_reassign: false
//	zookeeper:
//	  servers: [localhost:2181]
//	  session_timeout: 10s
//	  connect_timeout: 10s
//	http:
//	  addr: :8080
//	groups:
//	  legacy_workers: 16
//	  fetch_timeout: 10s
//	topics:
//	  delete_verify_interval: 100ms
//	  delete_verify_tries: 10
//	log:
//	  level: info
//	  development: false
//
// Every field is optional; missing fields take the defaults above.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the full binary configuration.
type Config struct {
	Kafka     Kafka     `yaml:"kafka"`
	ZooKeeper ZooKeeper `yaml:"zookeeper"`
	HTTP      HTTP      `yaml:"http"`
	Groups    Groups    `yaml:"groups"`
	Topics    Topics    `yaml:"topics"`
	Log       Log       `yaml:"log"`
}

// Kafka configures the broker facing clients.
type Kafka struct {
	Brokers        []string      `yaml:"brokers"`
	ClientID       string        `yaml:"client_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// OffsetsTopic is tailed to build the coordinator group registry. An
	// empty topic disables the registry.
	OffsetsTopic string `yaml:"offsets_topic"`
	// NativeReassign submits reassignments with AlterPartitionAssignments
	// rather than through ZooKeeper.
	NativeReassign bool `yaml:"native_reassign"`
}

// ZooKeeper configures the coordination store.
type ZooKeeper struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// HTTP configures the admin server.
type HTTP struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Groups configures legacy group offset fetching.
type Groups struct {
	LegacyWorkers int           `yaml:"legacy_workers"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

// Topics configures topic deletion verification.
type Topics struct {
	DeleteVerifyInterval time.Duration `yaml:"delete_verify_interval"`
	DeleteVerifyTries    int           `yaml:"delete_verify_tries"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Kafka: Kafka{
			Brokers:        []string{"localhost:9092"},
			ClientID:       "kplane",
			RequestTimeout: 15 * time.Second,
			OffsetsTopic:   "__consumer_offsets",
		},
		ZooKeeper: ZooKeeper{
			Servers:        []string{"localhost:2181"},
			SessionTimeout: 10 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		HTTP: HTTP{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
		Groups: Groups{
			LegacyWorkers: 16,
			FetchTimeout:  10 * time.Second,
		},
		Topics: Topics{
			DeleteVerifyInterval: 100 * time.Millisecond,
			DeleteVerifyTries:    10,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, c.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	if err := Parse(raw, &c); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Parse decodes raw YAML into c, keeping c's values for absent fields.
// Unknown fields are rejected.
func Parse(raw []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unable to parse config: %w", err)
	}
	return nil
}

// Validate returns the first invalid field.
func (c *Config) Validate() error {
	switch {
	case len(c.Kafka.Brokers) == 0:
		return errors.New("config: kafka.brokers is required")
	case c.Kafka.RequestTimeout <= 0:
		return fmt.Errorf("config: kafka.request_timeout %v must be positive", c.Kafka.RequestTimeout)
	case len(c.ZooKeeper.Servers) == 0:
		return errors.New("config: zookeeper.servers is required")
	case c.ZooKeeper.SessionTimeout <= 0:
		return fmt.Errorf("config: zookeeper.session_timeout %v must be positive", c.ZooKeeper.SessionTimeout)
	case c.HTTP.Addr == "":
		return errors.New("config: http.addr is required")
	case c.Groups.LegacyWorkers < 1:
		return fmt.Errorf("config: groups.legacy_workers %d is less than the minimum 1", c.Groups.LegacyWorkers)
	case c.Groups.FetchTimeout <= 0:
		return fmt.Errorf("config: groups.fetch_timeout %v must be positive", c.Groups.FetchTimeout)
	case c.Topics.DeleteVerifyInterval <= 0:
		return fmt.Errorf("config: topics.delete_verify_interval %v must be positive", c.Topics.DeleteVerifyInterval)
	case c.Topics.DeleteVerifyTries < 0:
		return fmt.Errorf("config: topics.delete_verify_tries %d cannot be negative", c.Topics.DeleteVerifyTries)
	}
	if _, err := c.Log.ZapLevel(); err != nil {
		return err
	}
	return nil
}

// ZapLevel parses the log level.
func (l Log) ZapLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}

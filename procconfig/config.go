// Package procconfig loads the processor's configuration from a YAML
// file with an environment-variable overlay, using koanf's struct
// defaults, file provider, and env provider layered in that order.
package procconfig

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix environment variables must carry to override
// configuration, e.g. DOCOPS_KAFKA_BROKERS.
const EnvPrefix = "DOCOPS_"

// Config holds every setting the cmd entrypoint needs to wire the
// processor together.
type Config struct {
	// Kafka source.
	KafkaBrokers       []string `koanf:"kafka.brokers"`
	KafkaTopic         string   `koanf:"kafka.topic"`
	KafkaConsumerGroup string   `koanf:"kafka.consumer_group"`

	// Mongo operation/content stores.
	MongoURI            string `koanf:"mongo.uri"`
	MongoDatabase       string `koanf:"mongo.database"`
	OperationCollection string `koanf:"mongo.operation_collection"`
	ContentCollection   string `koanf:"mongo.content_collection"`

	// Local checkpoint cache.
	CheckpointCachePath string `koanf:"checkpoint_cache.path"`

	// Ops server.
	MetricsAddr string `koanf:"ops.metrics_addr"`

	LogLevel string `koanf:"log_level"`
}

// Default returns a Config with the processor's defaults, before any
// file or environment overlay is applied.
func Default() Config {
	return Config{
		KafkaTopic:          "sequenced-operations",
		KafkaConsumerGroup:  "docops-processor",
		MongoDatabase:       "docops",
		OperationCollection: "operations",
		ContentCollection:   "content",
		CheckpointCachePath: "docops-checkpoint.db",
		MetricsAddr:         ":9090",
		LogLevel:            "info",
	}
}

// Load reads path (if non-empty) as YAML over the defaults, then
// overlays any DOCOPS_-prefixed environment variables, and validates the
// result.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	cfg := Default()
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("procconfig: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("procconfig: load %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("procconfig: load env overlay: %w", err)
	}

	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return Config{}, fmt.Errorf("procconfig: unmarshal: %w", err)
	}

	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Validate checks that the fields the processor cannot run without are
// present.
func (c Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return &ConfigError{"kafka.brokers must be set"}
	}
	if c.KafkaTopic == "" {
		return &ConfigError{"kafka.topic must be set"}
	}
	if c.MongoURI == "" {
		return &ConfigError{"mongo.uri must be set"}
	}
	if c.MongoDatabase == "" {
		return &ConfigError{"mongo.database must be set"}
	}
	return nil
}

// ConfigError represents a configuration validation failure.
type ConfigError struct {
	message string
}

func (e *ConfigError) Error() string { return e.message }

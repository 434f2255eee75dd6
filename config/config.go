// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Kafka client implementations for the audit export.
const (
	KafkaClientSarama  = "sarama"
	KafkaClientKafkaGo = "kafka-go"
)

type Config struct {
	LogPath      string        `env:"DAGREC_LOG_PATH"      envDefault:"./history/dag_history.log"`
	NoSync       bool          `env:"DAGREC_NO_SYNC"`
	// Repair cuts the log at a damaged frame even when intact frames
	// follow it, dropping them.
	Repair       bool          `env:"DAGREC_REPAIR"`
	GRPCAddr     string        `env:"DAGREC_GRPC_ADDR"     envDefault:":50051"`
	TailInterval time.Duration `env:"DAGREC_TAIL_INTERVAL" envDefault:"250ms"`

	// OutboxDir enables the audit export when set.
	OutboxDir      string        `env:"DAGREC_OUTBOX_DIR"`
	KafkaBrokers   []string      `env:"DAGREC_KAFKA_BROKERS"    envSeparator:","`
	KafkaTopic     string        `env:"DAGREC_KAFKA_TOPIC"      envDefault:"dag-history"`
	KafkaClient    string        `env:"DAGREC_KAFKA_CLIENT"     envDefault:"sarama"`
	ExportInterval time.Duration `env:"DAGREC_EXPORT_INTERVAL"  envDefault:"250ms"`
	MaxRetries     uint32        `env:"DAGREC_EXPORT_MAX_RETRIES" envDefault:"10"`

	LogLevel slog.Level `env:"DAGREC_LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ExportEnabled reports whether committed frames are exported to Kafka.
func (c Config) ExportEnabled() bool { return c.OutboxDir != "" }

func (c Config) Validate() error {
	var errs []error
	if c.LogPath == "" {
		errs = append(errs, errors.New("DAGREC_LOG_PATH must not be empty"))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("DAGREC_GRPC_ADDR must not be empty"))
	}
	if c.TailInterval <= 0 {
		errs = append(errs, fmt.Errorf("DAGREC_TAIL_INTERVAL must be positive, got %s", c.TailInterval))
	}
	if c.ExportEnabled() {
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("DAGREC_KAFKA_BROKERS is required when DAGREC_OUTBOX_DIR is set"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("DAGREC_KAFKA_TOPIC must not be empty"))
		}
		if c.KafkaClient != KafkaClientSarama && c.KafkaClient != KafkaClientKafkaGo {
			errs = append(errs, fmt.Errorf("DAGREC_KAFKA_CLIENT must be %q or %q, got %q",
				KafkaClientSarama, KafkaClientKafkaGo, c.KafkaClient))
		}
		if c.ExportInterval <= 0 {
			errs = append(errs, fmt.Errorf("DAGREC_EXPORT_INTERVAL must be positive, got %s", c.ExportInterval))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

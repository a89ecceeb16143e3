// Package config loads service configuration from the environment and an
// optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// Config holds the configuration shared by every dynadoc service. Each
// service constructor checks the values it actually needs.
type Config struct {
	ProjectID   string `mapstructure:"project_id"`
	LogLevel    string `mapstructure:"log_level"`
	EventSource string `mapstructure:"event_source"`

	// OTLPEndpoint is the OTel Collector gRPC address; empty disables export.
	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`

	FirestoreCollection string `mapstructure:"firestore_collection"`

	ArtifactsBucket string `mapstructure:"artifacts_bucket"`
	ArtifactsPrefix string `mapstructure:"artifacts_prefix"`
	RenderTmpDir    string `mapstructure:"render_tmp_dir"`
	RenderFontPath  string `mapstructure:"render_font_path"`

	TemplatesDatabaseURL string `mapstructure:"templates_database_url"`

	TemplateRequestedTopic        string        `mapstructure:"template_requested_topic"`
	TemplateDeliveredTopic        string        `mapstructure:"template_delivered_topic"`
	TemplateRequestedSubscription string        `mapstructure:"template_requested_subscription"`
	TemplateDeliveredSubscription string        `mapstructure:"template_delivered_subscription"`
	DeadLetterTopic               string        `mapstructure:"dead_letter_topic"`
	AckDeadline                   time.Duration `mapstructure:"ack_deadline"`

	RedisAddr string        `mapstructure:"redis_addr"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`

	GenerationAttempts    int           `mapstructure:"generation_attempts"`
	GenerationBackoff     time.Duration `mapstructure:"generation_backoff"`
	GenerationConcurrency int           `mapstructure:"generation_concurrency"`

	ConsumerMaxAttempts int           `mapstructure:"consumer_max_attempts"`
	ConsumerBackoff     time.Duration `mapstructure:"consumer_backoff"`
}

var defaults = map[string]any{
	"project_id":                      "",
	"log_level":                       "info",
	"event_source":                    "dynadoc-flow",
	"otel_exporter_otlp_endpoint":     "",
	"firestore_collection":            "files",
	"artifacts_bucket":                "",
	"artifacts_prefix":                "",
	"render_tmp_dir":                  "",
	"render_font_path":                "",
	"templates_database_url":          "",
	"template_requested_topic":        models.TopicTemplateRequested,
	"template_delivered_topic":        models.TopicTemplateDelivered,
	"template_requested_subscription": models.TopicTemplateRequested + ".deliverer",
	"template_delivered_subscription": models.TopicTemplateDelivered + ".generator",
	"dead_letter_topic":               "",
	"ack_deadline":                    60 * time.Second,
	"redis_addr":                      "",
	"dedupe_ttl":                      24 * time.Hour,
	"generation_attempts":             3,
	"generation_backoff":              500 * time.Millisecond,
	"generation_concurrency":          1,
	"consumer_max_attempts":           5,
	"consumer_backoff":                10 * time.Second,
}

// Load reads the configuration. Environment variables use the upper-cased
// key (PROJECT_ID, ARTIFACTS_BUCKET, ...) and win over config.yaml.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.GenerationAttempts < 1 {
		return nil, fmt.Errorf("GENERATION_ATTEMPTS must be at least 1, got %d", cfg.GenerationAttempts)
	}
	if cfg.ConsumerMaxAttempts < 1 {
		return nil, fmt.Errorf("CONSUMER_MAX_ATTEMPTS must be at least 1, got %d", cfg.ConsumerMaxAttempts)
	}
	if cfg.GenerationConcurrency < 1 {
		cfg.GenerationConcurrency = 1
	}
	return &cfg, nil
}

// Require returns an error naming the first empty value among the given
// environment keys.
func (c *Config) Require(keys ...string) error {
	values := map[string]string{
		"PROJECT_ID":                      c.ProjectID,
		"FIRESTORE_COLLECTION":            c.FirestoreCollection,
		"ARTIFACTS_BUCKET":                c.ArtifactsBucket,
		"TEMPLATES_DATABASE_URL":          c.TemplatesDatabaseURL,
		"TEMPLATE_REQUESTED_TOPIC":        c.TemplateRequestedTopic,
		"TEMPLATE_DELIVERED_TOPIC":        c.TemplateDeliveredTopic,
		"TEMPLATE_REQUESTED_SUBSCRIPTION": c.TemplateRequestedSubscription,
		"TEMPLATE_DELIVERED_SUBSCRIPTION": c.TemplateDeliveredSubscription,
	}
	for _, key := range keys {
		value, known := values[key]
		if !known {
			return fmt.Errorf("unknown configuration key %s", key)
		}
		if value == "" {
			return fmt.Errorf("%s environment variable must be set", key)
		}
	}
	return nil
}

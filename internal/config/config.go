package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tournevent/fulfillment/pkg/units"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"80"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// ProfilesPath points at the YAML file with packaging options and
	// default addresses. Empty means no profiles.
	ProfilesPath string `envconfig:"PROFILES_PATH"`

	Units      UnitsConfig      `envconfig:"UNITS"`
	Rates      RatesConfig      `envconfig:"RATES"`
	Checkout   CheckoutConfig   `envconfig:"CHECKOUT"`
	Worker     WorkerConfig     `envconfig:"WORKER"`
	SendCloud  SendCloudConfig  `envconfig:"SENDCLOUD"`
	CanadaPost CanadaPostConfig `envconfig:"CANADAPOST"`
	Fastway    FastwayConfig    `envconfig:"FASTWAY"`
	Storage    StorageConfig    `envconfig:"STORAGE"`
	Telemetry  TelemetryConfig  `envconfig:"OTEL"`
}

// UnitsConfig names the store base units item weights and dimensions are
// expressed in.
type UnitsConfig struct {
	Weight    string `envconfig:"WEIGHT" default:"kg"`
	Dimension string `envconfig:"DIMENSION" default:"cm"`
}

// Base parses the configured keywords.
func (u UnitsConfig) Base() (units.Base, error) {
	w, err := units.ParseWeightUnit(u.Weight)
	if err != nil {
		return units.Base{}, fmt.Errorf("UNITS_WEIGHT: %w", err)
	}
	d, err := units.ParseDimensionUnit(u.Dimension)
	if err != nil {
		return units.Base{}, fmt.Errorf("UNITS_DIMENSION: %w", err)
	}
	return units.Base{Weight: w, Dimension: d}, nil
}

// RatesConfig configures the rate matching engine.
type RatesConfig struct {
	// StrictMatching hides carrier services without a rate record.
	StrictMatching bool `envconfig:"STRICT_MATCHING" default:"false"`
}

// CheckoutConfig configures option aggregation.
type CheckoutConfig struct {
	ReturnValidOptionsIfAny bool `envconfig:"RETURN_VALID_OPTIONS_IF_ANY" default:"false"`
}

// WorkerConfig configures the background fulfillment worker.
type WorkerConfig struct {
	Lease              time.Duration `envconfig:"LEASE" default:"2m"`
	LabelRetryInterval time.Duration `envconfig:"LABEL_RETRY_INTERVAL" default:"5m"`
	LabelRetryBatch    int           `envconfig:"LABEL_RETRY_BATCH" default:"50"`
}

// SendCloud
type SendCloudConfig struct {
	APIKey          string `envconfig:"API_KEY"`
	APISecret       string `envconfig:"API_SECRET"`
	BaseURL         string `envconfig:"BASE_URL" default:"https://panel.sendcloud.sc/api/v2"`
	ServicePointURL string `envconfig:"SERVICE_POINT_URL" default:"https://servicepoints.sendcloud.sc/api/v2"`
	SenderAddressID int    `envconfig:"SENDER_ADDRESS_ID"`
	Currency        string `envconfig:"CURRENCY" default:"EUR"`
	Enabled         bool   `envconfig:"ENABLED" default:"true"`
	UseMock         bool   `envconfig:"USE_MOCK" default:"false"`
}

// Canada Post
type CanadaPostConfig struct {
	APIKey          string `envconfig:"API_KEY"`
	APISecret       string `envconfig:"API_SECRET"`
	CustomerNumber  string `envconfig:"CUSTOMER_NUMBER"`
	ContractID      string `envconfig:"CONTRACT_ID"`
	BaseURL         string `envconfig:"BASE_URL" default:"https://soa-gw.canadapost.ca"`
	ManifestEnabled bool   `envconfig:"MANIFEST_ENABLED" default:"true"`
	GroupID         string `envconfig:"GROUP_ID"`
	Currency        string `envconfig:"CURRENCY" default:"CAD"`
	Enabled         bool   `envconfig:"ENABLED" default:"true"`
	UseMock         bool   `envconfig:"USE_MOCK" default:"false"`
}

// Fastway
type FastwayConfig struct {
	APIKey      string `envconfig:"API_KEY"`
	BaseURL     string `envconfig:"BASE_URL" default:"https://api.fastway.org/v6"`
	Franchise   string `envconfig:"FRANCHISE"`
	CountryCode string `envconfig:"COUNTRY_CODE" default:"AU"`
	CountryID   int    `envconfig:"COUNTRY_ID" default:"1"`
	Currency    string `envconfig:"CURRENCY" default:"AUD"`
	Enabled     bool   `envconfig:"ENABLED" default:"true"`
	UseMock     bool   `envconfig:"USE_MOCK" default:"false"`
}

// StorageConfig selects the backing stores. An empty DatabaseURL keeps
// everything in memory; empty RedisAddr disables the rate cache and empty
// KafkaBrokers disables events and queued commands.
type StorageConfig struct {
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RateCacheTTL  time.Duration `envconfig:"RATE_CACHE_TTL" default:"10m"`
	KafkaBrokers  []string      `envconfig:"KAFKA_BROKERS"`
	EventsTopic   string        `envconfig:"EVENTS_TOPIC" default:"shipment-events"`
	CommandsTopic string        `envconfig:"COMMANDS_TOPIC" default:"fulfillment-commands"`
	ConsumerGroup string        `envconfig:"CONSUMER_GROUP" default:"fulfillment-worker"`
}

// Telemetry
type TelemetryConfig struct {
	Enabled     bool   `envconfig:"ENABLED" default:"true"`
	Endpoint    string `envconfig:"ENDPOINT" default:"http://jaeger-collector.observability.svc.cluster.local:4318"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"fulfillment"`
	Version     string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.Telemetry.ServiceName),
		attribute.String("service.version", c.Telemetry.Version),
		attribute.Bool("rates.strict_matching", c.Rates.StrictMatching),
		attribute.Bool("sendcloud.enabled", c.SendCloud.Enabled),
		attribute.Bool("canadapost.enabled", c.CanadaPost.Enabled),
		attribute.Bool("fastway.enabled", c.Fastway.Enabled),
		attribute.Bool("storage.postgres", c.Storage.DatabaseURL != ""),
		attribute.Bool("storage.redis", c.Storage.RedisAddr != ""),
		attribute.Bool("storage.kafka", len(c.Storage.KafkaBrokers) > 0),
	}
}

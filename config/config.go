// Package config reads the standard OTEL_* environment variables and turns
// them into options for the otelz tracer provider and batch processor.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/zoobzio/otelz"
)

// Sampler names accepted in OTEL_TRACES_SAMPLER.
const (
	SamplerAlwaysOn                = "always_on"
	SamplerAlwaysOff               = "always_off"
	SamplerTraceIDRatio            = "traceidratio"
	SamplerParentBasedAlwaysOn     = "parentbased_always_on"
	SamplerParentBasedAlwaysOff    = "parentbased_always_off"
	SamplerParentBasedTraceIDRatio = "parentbased_traceidratio"
)

// Config holds all tracing configuration.
type Config struct {
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"unknown_service"`
	BSP         BatchConfig
	Sampler     SamplerConfig
	Limits      LimitsConfig
	Logging     LogConfig
}

// BatchConfig holds batch span processor configuration. Durations are in
// milliseconds.
type BatchConfig struct {
	MaxQueueSize       int `envconfig:"OTEL_BSP_MAX_QUEUE_SIZE" default:"2048"`
	ScheduleDelay      int `envconfig:"OTEL_BSP_SCHEDULE_DELAY" default:"5000"`
	ExportTimeout      int `envconfig:"OTEL_BSP_EXPORT_TIMEOUT" default:"30000"`
	MaxExportBatchSize int `envconfig:"OTEL_BSP_MAX_EXPORT_BATCH_SIZE" default:"512"`
}

// SamplerConfig holds sampler configuration.
type SamplerConfig struct {
	Name string `envconfig:"OTEL_TRACES_SAMPLER" default:"parentbased_always_on"`
	Arg  string `envconfig:"OTEL_TRACES_SAMPLER_ARG"`
}

// LimitsConfig holds span limit configuration.
type LimitsConfig struct {
	AttributeValueLength int `envconfig:"OTEL_SPAN_ATTRIBUTE_VALUE_LENGTH_LIMIT" default:"0"`
	AttributeCount       int `envconfig:"OTEL_SPAN_ATTRIBUTE_COUNT_LIMIT" default:"128"`
	EventCount           int `envconfig:"OTEL_SPAN_EVENT_COUNT_LIMIT" default:"128"`
	LinkCount            int `envconfig:"OTEL_SPAN_LINK_COUNT_LIMIT" default:"128"`
	EventAttributeCount  int `envconfig:"OTEL_EVENT_ATTRIBUTE_COUNT_LIMIT" default:"128"`
	LinkAttributeCount   int `envconfig:"OTEL_LINK_ATTRIBUTE_COUNT_LIMIT" default:"128"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"OTEL_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"OTEL_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		ServiceName: "unknown_service",
		BSP: BatchConfig{
			MaxQueueSize:       otelz.DefaultMaxQueueSize,
			ScheduleDelay:      int(otelz.DefaultScheduleDelay / time.Millisecond),
			ExportTimeout:      int(otelz.DefaultExportTimeout / time.Millisecond),
			MaxExportBatchSize: otelz.DefaultMaxExportBatchSize,
		},
		Sampler: SamplerConfig{
			Name: SamplerParentBasedAlwaysOn,
		},
		Limits: LimitsConfig{
			AttributeCount:      otelz.DefaultAttributeCountLimit,
			EventCount:          otelz.DefaultEventCountLimit,
			LinkCount:           otelz.DefaultLinkCountLimit,
			EventAttributeCount: otelz.DefaultAttributePerEventCountLimit,
			LinkAttributeCount:  otelz.DefaultAttributePerLinkCountLimit,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Options converts the batch configuration into processor options.
// Validation happens in otelz.NewBatchProcessor.
func (c BatchConfig) Options() []otelz.BatchOption {
	return []otelz.BatchOption{
		otelz.WithMaxQueueSize(c.MaxQueueSize),
		otelz.WithScheduleDelay(time.Duration(c.ScheduleDelay) * time.Millisecond),
		otelz.WithExportTimeout(time.Duration(c.ExportTimeout) * time.Millisecond),
		otelz.WithMaxExportBatchSize(c.MaxExportBatchSize),
	}
}

// Build returns the configured sampler. Unknown names and unusable ratios
// are errors.
func (c SamplerConfig) Build() (otelz.Sampler, error) {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	switch name {
	case SamplerAlwaysOn:
		return otelz.AlwaysOn(), nil
	case SamplerAlwaysOff:
		return otelz.AlwaysOff(), nil
	case SamplerParentBasedAlwaysOn, "":
		return otelz.ParentBased(otelz.AlwaysOn()), nil
	case SamplerParentBasedAlwaysOff:
		return otelz.ParentBased(otelz.AlwaysOff()), nil
	case SamplerTraceIDRatio, SamplerParentBasedTraceIDRatio:
		ratio, err := c.ratio()
		if err != nil {
			return nil, err
		}
		s, err := otelz.TraceIDRatioBased(ratio)
		if err != nil {
			return nil, err
		}
		if name == SamplerParentBasedTraceIDRatio {
			return otelz.ParentBased(s), nil
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown sampler %q", otelz.ErrInvalidConfig, c.Name)
	}
}

// ratio parses the sampler argument, defaulting to 1.
func (c SamplerConfig) ratio() (float64, error) {
	arg := strings.TrimSpace(c.Arg)
	if arg == "" {
		return 1, nil
	}
	ratio, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sampler argument %q: %v", otelz.ErrInvalidConfig, c.Arg, err)
	}
	return ratio, nil
}

// SpanLimits converts the limits configuration.
func (c LimitsConfig) SpanLimits() otelz.SpanLimits {
	return otelz.SpanLimits{
		AttributeValueLengthLimit:   c.AttributeValueLength,
		AttributeCountLimit:         c.AttributeCount,
		EventCountLimit:             c.EventCount,
		LinkCountLimit:              c.LinkCount,
		AttributePerEventCountLimit: c.EventAttributeCount,
		AttributePerLinkCountLimit:  c.LinkAttributeCount,
	}
}

// ProviderOptions returns the provider options described by the
// configuration: sampler, limits, service resource and logger.
func (c *Config) ProviderOptions(logger *zap.Logger) ([]otelz.ProviderOption, error) {
	sampler, err := c.Sampler.Build()
	if err != nil {
		return nil, err
	}
	limits := c.Limits.SpanLimits()
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return []otelz.ProviderOption{
		otelz.WithSampler(sampler),
		otelz.WithSpanLimits(limits),
		otelz.WithResource(otelz.String("service.name", c.ServiceName)),
		otelz.WithLogger(logger),
	}, nil
}

// NewBatchProcessor builds a batch processor for exporter from the
// configuration.
func (c *Config) NewBatchProcessor(exporter otelz.SpanExporter, logger *zap.Logger, extra ...otelz.BatchOption) (*otelz.BatchProcessor, error) {
	opts := append(c.BSP.Options(), otelz.WithBatchLogger(logger))
	opts = append(opts, extra...)
	return otelz.NewBatchProcessor(exporter, opts...)
}

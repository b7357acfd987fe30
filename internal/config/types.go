// Package config provides configuration loading for heavengate using Viper.
// Configuration is a single flat, environment-sourced record, per the
// external interface the gateway exposes to its operators.
//
// Environment variables use the HEAVENGATE_ prefix and underscore-separated
// keys, e.g. HEAVENGATE_DNS_LISTEN maps to dns_listen.
package config

import "time"

// Config is the root configuration structure.
//
// Field groupings exist only for readability; the wire format (env vars,
// optional YAML) is flat, matching the external interface's option table.
type Config struct {
	// DNS listener
	DNSListen      string        `mapstructure:"dns_listen"`
	DNSBindRetry   time.Duration `mapstructure:"-"`
	DNSBindRetryMs int           `mapstructure:"dns_bind_retry_ms"`
	DNSBindRetries int           `mapstructure:"dns_bind_retries"`

	// Upstream recursive resolver
	UpstreamDNS string `mapstructure:"upstream_dns"`

	// Telemetry HMAC
	HMACSecret string `mapstructure:"hmac_secret"`

	// Private TLD ("heaven")
	PrivateTLD       string `mapstructure:"private_tld"`
	HeavenAPIURL     string `mapstructure:"heaven_api_url"`
	HeavenDNSSecret  string `mapstructure:"heaven_dns_secret"`
	HeavenGatewayIP  string `mapstructure:"heaven_gateway_ip"`

	// Telemetry ingestion
	TelemetryEndpoint      string        `mapstructure:"telemetry_endpoint"`
	TelemetryToken         string        `mapstructure:"telemetry_token"`
	TelemetryBatchSize     int           `mapstructure:"telemetry_batch_size"`
	TelemetryFlushInterval time.Duration `mapstructure:"-"`
	TelemetryFlushMs       int           `mapstructure:"telemetry_flush_interval_ms"`

	// Durable store
	DatabaseURL string `mapstructure:"database_url"`

	// Control plane
	APIListen string `mapstructure:"api_listen"`
	APIKey    string `mapstructure:"api_key"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

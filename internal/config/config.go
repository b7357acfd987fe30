// Package config provides configuration loading and validation for heavengate.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/heavengate/main.go)
//  2. Environment variables (HEAVENGATE_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HEAVENGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("dns_listen", "0.0.0.0:53")
	v.SetDefault("dns_bind_retry_ms", 1000)
	v.SetDefault("dns_bind_retries", 0) // 0 = retry forever

	v.SetDefault("upstream_dns", "8.8.8.8:53")

	v.SetDefault("hmac_secret", "")

	v.SetDefault("private_tld", "heaven")
	v.SetDefault("heaven_api_url", "")
	v.SetDefault("heaven_dns_secret", "")
	v.SetDefault("heaven_gateway_ip", "127.0.0.1")

	v.SetDefault("telemetry_endpoint", "")
	v.SetDefault("telemetry_token", "")
	v.SetDefault("telemetry_batch_size", 1000)
	v.SetDefault("telemetry_flush_interval_ms", 5000)

	v.SetDefault("database_url", "heavengate.db")

	v.SetDefault("api_listen", "127.0.0.1:8080")
	v.SetDefault("api_key", "")

	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_json", false)
}

// Load loads configuration from an optional YAML file with environment
// variable overrides. This is the main entry point for loading configuration.
func Load(path string) (*Config, error) {
	v, err := initConfig(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DNSListen:          v.GetString("dns_listen"),
		DNSBindRetryMs:     v.GetInt("dns_bind_retry_ms"),
		DNSBindRetries:     v.GetInt("dns_bind_retries"),
		UpstreamDNS:        v.GetString("upstream_dns"),
		HMACSecret:         v.GetString("hmac_secret"),
		PrivateTLD:         strings.ToLower(strings.TrimSpace(v.GetString("private_tld"))),
		HeavenAPIURL:       strings.TrimRight(v.GetString("heaven_api_url"), "/"),
		HeavenDNSSecret:    v.GetString("heaven_dns_secret"),
		HeavenGatewayIP:    v.GetString("heaven_gateway_ip"),
		TelemetryEndpoint:  strings.TrimRight(v.GetString("telemetry_endpoint"), "/"),
		TelemetryToken:     v.GetString("telemetry_token"),
		TelemetryBatchSize: v.GetInt("telemetry_batch_size"),
		TelemetryFlushMs:   v.GetInt("telemetry_flush_interval_ms"),
		DatabaseURL:        v.GetString("database_url"),
		APIListen:          v.GetString("api_listen"),
		APIKey:             v.GetString("api_key"),
		LogLevel:           strings.ToUpper(v.GetString("log_level")),
		LogJSON:            v.GetBool("log_json"),
	}

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalizeConfig validates and derives computed fields.
func normalizeConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.DNSListen) == "" {
		return errors.New("dns_listen must not be empty")
	}
	if strings.TrimSpace(cfg.UpstreamDNS) == "" {
		return errors.New("upstream_dns must not be empty")
	}
	if cfg.DNSBindRetryMs <= 0 {
		cfg.DNSBindRetryMs = 1000
	}
	if cfg.DNSBindRetries < 0 {
		cfg.DNSBindRetries = 0
	}
	cfg.DNSBindRetry = time.Duration(cfg.DNSBindRetryMs) * time.Millisecond

	if cfg.TelemetryBatchSize <= 0 {
		cfg.TelemetryBatchSize = 1000
	}
	if cfg.TelemetryFlushMs <= 0 {
		cfg.TelemetryFlushMs = 5000
	}
	cfg.TelemetryFlushInterval = time.Duration(cfg.TelemetryFlushMs) * time.Millisecond

	if cfg.PrivateTLD == "" {
		cfg.PrivateTLD = "heaven"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}

	return nil
}

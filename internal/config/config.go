// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the livedemo runtime configuration. Precedence is
// environment over YAML file over built-in defaults; Load validates the
// merged result before it reaches any constructor.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the fully merged, validated runtime configuration.
type AppConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	BrokerURL    string        `yaml:"broker_url"`
	CatalogURL   string        `yaml:"catalog_url"`
	PushURL      string        `yaml:"push_url"`
	Category     string        `yaml:"category"`
	AutoStart    bool          `yaml:"auto_start"`
	FrameWidth   int           `yaml:"frame_width"`
	FrameHeight  int           `yaml:"frame_height"`
	RequestLimit int           `yaml:"request_limit"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`

	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitReset     time.Duration `yaml:"circuit_reset"`

	LogLevel string `yaml:"log_level"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPProtocol string `yaml:"otlp_protocol"`
}

// fileConfig mirrors AppConfig with pointer fields so absent YAML keys are
// distinguishable from zero values when merging.
type fileConfig struct {
	ListenAddr       *string        `yaml:"listen_addr"`
	MetricsAddr      *string        `yaml:"metrics_addr"`
	BrokerURL        *string        `yaml:"broker_url"`
	CatalogURL       *string        `yaml:"catalog_url"`
	PushURL          *string        `yaml:"push_url"`
	Category         *string        `yaml:"category"`
	AutoStart        *bool          `yaml:"auto_start"`
	FrameWidth       *int           `yaml:"frame_width"`
	FrameHeight      *int           `yaml:"frame_height"`
	RequestLimit     *int           `yaml:"request_limit"`
	HTTPTimeout      *time.Duration `yaml:"http_timeout"`
	CircuitThreshold *int           `yaml:"circuit_threshold"`
	CircuitReset     *time.Duration `yaml:"circuit_reset"`
	LogLevel         *string        `yaml:"log_level"`
	OTLPEndpoint     *string        `yaml:"otlp_endpoint"`
	OTLPProtocol     *string        `yaml:"otlp_protocol"`
}

func defaults() AppConfig {
	return AppConfig{
		ListenAddr:       ":8080",
		MetricsAddr:      ":9090",
		BrokerURL:        "http://localhost:9400",
		CatalogURL:       "http://localhost:9400",
		Category:         "people_count",
		AutoStart:        true,
		FrameWidth:       1280,
		FrameHeight:      720,
		RequestLimit:     60,
		HTTPTimeout:      10 * time.Second,
		CircuitThreshold: 5,
		CircuitReset:     30 * time.Second,
		LogLevel:         "info",
		OTLPProtocol:     "grpc",
	}
}

// Load builds the runtime configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides, then
// validation.
func Load(path string) (*AppConfig, error) {
	cfg := defaults()

	if path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		mergeFile(&cfg, fc)
	}

	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func mergeFile(cfg *AppConfig, fc *fileConfig) {
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.BrokerURL, fc.BrokerURL)
	setString(&cfg.CatalogURL, fc.CatalogURL)
	setString(&cfg.PushURL, fc.PushURL)
	setString(&cfg.Category, fc.Category)
	if fc.AutoStart != nil {
		cfg.AutoStart = *fc.AutoStart
	}
	setInt(&cfg.FrameWidth, fc.FrameWidth)
	setInt(&cfg.FrameHeight, fc.FrameHeight)
	setInt(&cfg.RequestLimit, fc.RequestLimit)
	if fc.HTTPTimeout != nil {
		cfg.HTTPTimeout = *fc.HTTPTimeout
	}
	setInt(&cfg.CircuitThreshold, fc.CircuitThreshold)
	if fc.CircuitReset != nil {
		cfg.CircuitReset = *fc.CircuitReset
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.OTLPEndpoint, fc.OTLPEndpoint)
	setString(&cfg.OTLPProtocol, fc.OTLPProtocol)
}

func mergeEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("LIVEDEMO_LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = ParseString("LIVEDEMO_METRICS_LISTEN", cfg.MetricsAddr)
	cfg.BrokerURL = ParseString("LIVEDEMO_BROKER_URL", cfg.BrokerURL)
	cfg.CatalogURL = ParseString("LIVEDEMO_CATALOG_URL", cfg.CatalogURL)
	cfg.PushURL = ParseString("LIVEDEMO_PUSH_URL", cfg.PushURL)
	cfg.Category = ParseString("LIVEDEMO_CATEGORY", cfg.Category)
	cfg.AutoStart = ParseBool("LIVEDEMO_AUTO_START", cfg.AutoStart)
	cfg.FrameWidth = ParseInt("LIVEDEMO_FRAME_WIDTH", cfg.FrameWidth)
	cfg.FrameHeight = ParseInt("LIVEDEMO_FRAME_HEIGHT", cfg.FrameHeight)
	cfg.RequestLimit = ParseInt("LIVEDEMO_REQUEST_LIMIT", cfg.RequestLimit)
	cfg.HTTPTimeout = ParseDuration("LIVEDEMO_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.CircuitThreshold = ParseInt("LIVEDEMO_CIRCUIT_THRESHOLD", cfg.CircuitThreshold)
	cfg.CircuitReset = ParseDuration("LIVEDEMO_CIRCUIT_RESET", cfg.CircuitReset)
	cfg.LogLevel = ParseString("LIVEDEMO_LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = ParseString("LIVEDEMO_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.OTLPProtocol = ParseString("LIVEDEMO_OTLP_PROTOCOL", cfg.OTLPProtocol)
}

// Validate rejects configurations that no component could run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if err := validateHTTPURL("broker_url", c.BrokerURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateHTTPURL("catalog_url", c.CatalogURL); err != nil {
		errs = append(errs, err)
	}
	if c.PushURL != "" {
		u, err := url.Parse(c.PushURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("push_url must be a ws:// or wss:// URL, got %q", c.PushURL))
		}
	}
	if c.Category == "" {
		errs = append(errs, errors.New("category must not be empty"))
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		errs = append(errs, fmt.Errorf("frame size %dx%d must be positive", c.FrameWidth, c.FrameHeight))
	}
	if c.RequestLimit <= 0 {
		errs = append(errs, errors.New("request_limit must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}
	if c.CircuitThreshold <= 0 {
		errs = append(errs, errors.New("circuit_threshold must be positive"))
	}
	if c.CircuitReset <= 0 {
		errs = append(errs, errors.New("circuit_reset must be positive"))
	}
	switch c.OTLPProtocol {
	case "grpc", "http", "":
	default:
		errs = append(errs, fmt.Errorf("otlp_protocol %q must be grpc or http", c.OTLPProtocol))
	}
	return errors.Join(errs...)
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the HDMI matrix bridge.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
)

const (
	// MinPort and MaxPort bound the physical port numbers of the 8x8 crossbar.
	MinPort = 1
	MaxPort = 8
)

// Config represents the application configuration
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ZoneConfig names a physical output port
type ZoneConfig struct {
	Name string `yaml:"name" validate:"required"`
}

// SourceConfig names a physical input port
type SourceConfig struct {
	Name string `yaml:"name" validate:"required"`
}

// MatrixConfig holds matrix connection and naming settings. It is built once
// at startup and treated as immutable afterwards; hot reload never touches
// the zone and source tables.
type MatrixConfig struct {
	Host                  string               `yaml:"host" validate:"required,hostname|ip|hostname_port"`
	Timeout               time.Duration        `yaml:"timeout"`
	PollInterval          time.Duration        `yaml:"poll_interval"`
	Zones                 map[int]ZoneConfig   `yaml:"zones" validate:"dive"`
	Sources               map[int]SourceConfig `yaml:"sources" validate:"dive"`
	EventsChannelSize     int                  `yaml:"events_channel_size"`
	AvailabilityThreshold int                  `yaml:"availability_threshold"`
}

// MQTTConfig holds MQTT broker settings for the entity bridge
type MQTTConfig struct {
	Broker          string `yaml:"broker" validate:"omitempty,uri"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Enabled reports whether the MQTT bridge is configured
func (m *MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// InfluxDBConfig holds InfluxDB connection settings for the event recorder
type InfluxDBConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	Token        string        `yaml:"token"`
	Organization string        `yaml:"organization"`
	Bucket       string        `yaml:"bucket"`
	SpoolDir     string        `yaml:"spool_dir"`
	SpoolMaxSize int64         `yaml:"spool_max_size"`
	SpoolMaxAge  time.Duration `yaml:"spool_max_age"`
}

// Enabled reports whether event recording is configured
func (i *InfluxDBConfig) Enabled() bool {
	return i.URL != ""
}

// DiscoveryConfig holds mDNS lookup settings, used only when matrix.host is
// left empty
type DiscoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceType string        `yaml:"service_type"`
	Domain      string        `yaml:"domain"`
	Match       string        `yaml:"match"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

var validate = validator.New()

// Load reads configuration from a YAML file and applies environment variable
// overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if host := os.Getenv("MATRIX_HOST"); host != "" {
		c.Matrix.Host = host
	}
	if interval := os.Getenv("MATRIX_POLL_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.Matrix.PollInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse MATRIX_POLL_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
	if timeout := os.Getenv("MATRIX_TIMEOUT"); timeout != "" {
		duration, parseErr := time.ParseDuration(timeout)
		if parseErr == nil {
			c.Matrix.Timeout = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse MATRIX_TIMEOUT '%s': %v\n", timeout, parseErr)
		}
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
	if user := os.Getenv("MQTT_USERNAME"); user != "" {
		c.MQTT.Username = user
	}
	if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
		c.MQTT.Password = pass
	}
	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		c.InfluxDB.URL = url
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.InfluxDB.Organization = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.InfluxDB.Bucket = bucket
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Matrix.Host == "" && !c.Discovery.Enabled {
		c.Matrix.Host = "127.0.0.1"
	}
	if c.Matrix.Timeout == 0 {
		c.Matrix.Timeout = 5 * time.Second
	}
	if c.Matrix.PollInterval == 0 {
		c.Matrix.PollInterval = 10 * time.Second
	}
	if c.Matrix.EventsChannelSize == 0 {
		c.Matrix.EventsChannelSize = 64
	}
	if c.Matrix.AvailabilityThreshold == 0 {
		c.Matrix.AvailabilityThreshold = 3
	}
	// The earliest integration variant shipped without a naming table and
	// exposed the raw port numbers as Output1..8 / Input1..8.
	if len(c.Matrix.Zones) == 0 {
		c.Matrix.Zones = make(map[int]ZoneConfig, MaxPort)
		for id := MinPort; id <= MaxPort; id++ {
			c.Matrix.Zones[id] = ZoneConfig{Name: fmt.Sprintf("Output%d", id)}
		}
	}
	if len(c.Matrix.Sources) == 0 {
		c.Matrix.Sources = make(map[int]SourceConfig, MaxPort)
		for id := MinPort; id <= MaxPort; id++ {
			c.Matrix.Sources[id] = SourceConfig{Name: fmt.Sprintf("Input%d", id)}
		}
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "hdmi-matrix-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "hdmi_matrix"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.InfluxDB.SpoolDir == "" {
		c.InfluxDB.SpoolDir = "/var/cache/hdmi-matrix-bridge"
	}
	if c.InfluxDB.SpoolMaxSize <= 0 {
		c.InfluxDB.SpoolMaxSize = 10 * 1024 * 1024
	}
	if c.InfluxDB.SpoolMaxAge == 0 {
		c.InfluxDB.SpoolMaxAge = 7 * 24 * time.Hour
	}
	if c.Discovery.ServiceType == "" {
		c.Discovery.ServiceType = "_http._tcp"
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = "local."
	}
	if c.Discovery.Match == "" {
		c.Discovery.Match = "hdmi-matrix"
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Matrix.Host == "" && c.Discovery.Enabled {
		// Host resolved later via mDNS; skip the struct-level host check by
		// validating against a copy with a placeholder.
		cc := *c
		cc.Matrix.Host = "placeholder.local"
		if err := validate.Struct(&cc); err != nil {
			return err
		}
	} else {
		if err := validate.Struct(c); err != nil {
			return err
		}
	}

	if validateErr := c.validateMatrix(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateInfluxDB(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateLogging(); validateErr != nil {
		return validateErr
	}

	return nil
}

// validateMatrix validates the matrix configuration
func (c *Config) validateMatrix() error {
	if c.Matrix.Timeout < 100*time.Millisecond {
		return apperrors.NewConfigError("matrix.timeout", c.Matrix.Timeout.String(),
			fmt.Errorf("%w: must be at least 100ms", apperrors.ErrInvalidConfig))
	}
	if c.Matrix.Timeout > 30*time.Second {
		return apperrors.NewConfigError("matrix.timeout", c.Matrix.Timeout.String(),
			fmt.Errorf("%w: must not exceed 30 seconds", apperrors.ErrInvalidConfig))
	}
	if c.Matrix.PollInterval < time.Second {
		return apperrors.NewConfigError("matrix.poll_interval", c.Matrix.PollInterval.String(),
			fmt.Errorf("%w: must be at least 1 second", apperrors.ErrInvalidConfig))
	}
	if c.Matrix.PollInterval > time.Hour {
		return apperrors.NewConfigError("matrix.poll_interval", c.Matrix.PollInterval.String(),
			fmt.Errorf("%w: must not exceed 1 hour", apperrors.ErrInvalidConfig))
	}

	if err := validatePortTable("matrix.zones", zoneNames(c.Matrix.Zones)); err != nil {
		return err
	}
	if err := validatePortTable("matrix.sources", sourceNames(c.Matrix.Sources)); err != nil {
		return err
	}

	return nil
}

func zoneNames(zones map[int]ZoneConfig) map[int]string {
	names := make(map[int]string, len(zones))
	for id, zone := range zones {
		names[id] = zone.Name
	}
	return names
}

func sourceNames(sources map[int]SourceConfig) map[int]string {
	names := make(map[int]string, len(sources))
	for id, source := range sources {
		names[id] = source.Name
	}
	return names
}

// validatePortTable checks a port naming table: ids within 1..8, every entry
// named, no duplicate names.
func validatePortTable(field string, names map[int]string) error {
	seen := make(map[string]int, len(names))
	ids := make([]int, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if id < MinPort || id > MaxPort {
			return apperrors.NewConfigError(field, "",
				fmt.Errorf("%w: port %d out of range %d..%d", apperrors.ErrInvalidConfig, id, MinPort, MaxPort))
		}
		name := names[id]
		if name == "" {
			return apperrors.NewConfigError(field, "",
				fmt.Errorf("%w: port %d has an empty name", apperrors.ErrInvalidConfig, id))
		}
		if prev, dup := seen[name]; dup {
			return apperrors.NewConfigError(field, name,
				fmt.Errorf("%w: name used for both port %d and port %d", apperrors.ErrInvalidConfig, prev, id))
		}
		seen[name] = id
	}
	return nil
}

// validateInfluxDB validates the InfluxDB configuration when enabled
func (c *Config) validateInfluxDB() error {
	if !c.InfluxDB.Enabled() {
		return nil
	}
	if c.InfluxDB.Token == "" {
		return apperrors.NewConfigError("influxdb.token", "",
			fmt.Errorf("%w: required when influxdb.url is set", apperrors.ErrInvalidConfig))
	}
	if len(c.InfluxDB.Token) < 8 {
		return apperrors.NewConfigError("influxdb.token", "",
			fmt.Errorf("%w: must be at least 8 characters long", apperrors.ErrInvalidConfig))
	}
	if c.InfluxDB.Organization == "" {
		return apperrors.NewConfigError("influxdb.organization", "",
			fmt.Errorf("%w: required when influxdb.url is set", apperrors.ErrInvalidConfig))
	}
	if c.InfluxDB.Bucket == "" {
		return apperrors.NewConfigError("influxdb.bucket", "",
			fmt.Errorf("%w: required when influxdb.url is set", apperrors.ErrInvalidConfig))
	}
	return nil
}

// validateLogging validates the logging configuration
func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return apperrors.NewConfigError("logging.level", c.Logging.Level,
			fmt.Errorf("%w: must be one of: debug, info, warn, error, fatal, panic", apperrors.ErrInvalidConfig))
	}

	return nil
}

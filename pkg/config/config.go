// Package config loads and resolves the application's configuration file:
// parsing, ${VAR} interpolation, and JSON Schema validation. It is a thin
// boundary the rest of the pipeline depends on only through the typed
// AppConfig it returns.
package config

import (
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/connection"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/filter"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/sink"
)

// ReconnectConfig mirrors connection.ReconnectConfig in wire/JSON form.
type ReconnectConfig struct {
	InitialDelayMs    int     `json:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs        int     `json:"max_delay_ms" yaml:"max_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	JitterPct         float64 `json:"jitter_pct" yaml:"jitter_pct"`
}

// PolarisConfig holds the connection settings for the subscription API.
type PolarisConfig struct {
	APIURL       string          `json:"api_url" yaml:"api_url"`
	APIKey       string          `json:"api_key" yaml:"api_key"`
	Subscription string          `json:"subscription" yaml:"subscription"`
	Reconnect    ReconnectConfig `json:"reconnect" yaml:"reconnect"`
}

// RotationConfig holds file rotation thresholds.
type RotationConfig struct {
	IntervalSeconds int   `json:"interval_seconds" yaml:"interval_seconds"`
	MaxSizeBytes    int64 `json:"max_size_bytes" yaml:"max_size_bytes"`
}

// FlushConfig holds file flush thresholds.
type FlushConfig struct {
	IntervalMs   int `json:"interval_ms" yaml:"interval_ms"`
	EveryNEvents int `json:"every_n_events" yaml:"every_n_events"`
}

// FileOutputConfig holds file-mode sink settings.
type FileOutputConfig struct {
	OutputDir  string         `json:"output_dir" yaml:"output_dir"`
	FilePrefix string         `json:"file_prefix" yaml:"file_prefix"`
	Rotation   RotationConfig `json:"rotation" yaml:"rotation"`
	Flush      FlushConfig    `json:"flush" yaml:"flush"`
}

// OutputConfig is the output section wrapper.
type OutputConfig struct {
	File FileOutputConfig `json:"file" yaml:"file"`
}

// FilterConfig holds the event filtering rules.
type FilterConfig struct {
	DropStates    []string `json:"drop_states" yaml:"drop_states"`
	DropDeviceIDs []string `json:"drop_device_ids" yaml:"drop_device_ids"`
	KeepDeviceIDs []string `json:"keep_device_ids" yaml:"keep_device_ids"`
}

// LogFileConfig holds optional log-file output settings.
type LogFileConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Path         string `json:"path" yaml:"path"`
	MaxSizeBytes int64  `json:"max_size_bytes" yaml:"max_size_bytes"`
	BackupCount  int    `json:"backup_count" yaml:"backup_count"`
}

// LoggingConfig holds the application's logging settings.
type LoggingConfig struct {
	Level          string        `json:"level" yaml:"level"`
	Format         string        `json:"format" yaml:"format"`
	Output         string        `json:"output" yaml:"output"`
	File           LogFileConfig `json:"file" yaml:"file"`
	RedactPatterns []string      `json:"redact_patterns" yaml:"redact_patterns"`
}

// AppConfig is the fully resolved, top-level application configuration.
type AppConfig struct {
	InstanceID string        `json:"instance_id" yaml:"instance_id"`
	Polaris    PolarisConfig `json:"polaris" yaml:"polaris"`
	Filter     FilterConfig  `json:"filter" yaml:"filter"`
	Output     OutputConfig  `json:"output" yaml:"output"`
	Logging    LoggingConfig `json:"logging" yaml:"logging"`
}

// Default returns the built-in defaults, matching the reference client.
func Default() AppConfig {
	return AppConfig{
		InstanceID: "writer-01",
		Polaris: PolarisConfig{
			APIURL:       "wss://graphql.pointonenav.com/subscriptions",
			Subscription: "devices",
			Reconnect: ReconnectConfig{
				InitialDelayMs:    1000,
				MaxDelayMs:        60000,
				BackoffMultiplier: 2,
				JitterPct:         20,
			},
		},
		Filter: FilterConfig{
			DropStates: []string{"undefined", "error"},
		},
		Output: OutputConfig{
			File: FileOutputConfig{
				OutputDir:  "/var/lib/polaris/data",
				FilePrefix: "events",
				Rotation:   RotationConfig{IntervalSeconds: 600, MaxSizeBytes: 52428800},
				Flush:      FlushConfig{IntervalMs: 1000, EveryNEvents: 50},
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stderr",
			RedactPatterns: []string{"*key*", "*token*", "*secret*", "*password*"},
		},
	}
}

// ConnectionConfig projects the Polaris section into connection.Config.
func (c AppConfig) ConnectionConfig() connection.Config {
	return connection.Config{
		APIURL: c.Polaris.APIURL,
		APIKey: c.Polaris.APIKey,
		Reconnect: connection.ReconnectConfig{
			InitialDelayMs:    c.Polaris.Reconnect.InitialDelayMs,
			BackoffMultiplier: c.Polaris.Reconnect.BackoffMultiplier,
			MaxDelayMs:        c.Polaris.Reconnect.MaxDelayMs,
			JitterPct:         c.Polaris.Reconnect.JitterPct,
		},
	}
}

// FilterFilterConfig projects the Filter section into filter.Config.
func (c AppConfig) FilterFilterConfig() filter.Config {
	return filter.Config{
		DropStates:    c.Filter.DropStates,
		DropDeviceIDs: c.Filter.DropDeviceIDs,
		KeepDeviceIDs: c.Filter.KeepDeviceIDs,
	}
}

// SinkFileConfig projects the Output section into sink.FileConfig.
func (c AppConfig) SinkFileConfig() sink.FileConfig {
	f := c.Output.File
	return sink.FileConfig{
		OutputDir:       f.OutputDir,
		Prefix:          f.FilePrefix,
		InstanceID:      c.InstanceID,
		RotationSeconds: f.Rotation.IntervalSeconds,
		RotationBytes:   f.Rotation.MaxSizeBytes,
		FlushEveryN:     f.Flush.EveryNEvents,
		FlushIntervalMs: f.Flush.IntervalMs,
	}
}

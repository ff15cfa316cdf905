// Package config loads acquisition settings from JSON or YAML files. Every
// field is optional; the Get* methods supply defaults for anything omitted.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/encoderlog/internal/serialport"
)

// Defaults for an acquisition run.
const (
	DefaultPort         = "/dev/ttyUSB0"
	DefaultDuration     = 600 * time.Second
	DefaultLogDir       = "encoder_logs"
	DefaultBaseName     = "encoder_log"
	DefaultSamplePeriod = time.Millisecond
	DefaultReadSize     = 4096
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// AcquisitionConfig is the root configuration for a collection run.
type AcquisitionConfig struct {
	Port   *string                 `json:"port,omitempty" yaml:"port,omitempty"`
	Serial *serialport.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`

	// Durations are strings like "10m" or "100ms".
	Duration    *string `json:"duration,omitempty" yaml:"duration,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	ReadSize    *int    `json:"read_size,omitempty" yaml:"read_size,omitempty"`

	// Output
	LogDir      *string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	BaseName    *string `json:"base_name,omitempty" yaml:"base_name,omitempty"`
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CapturePath *string `json:"capture_path,omitempty" yaml:"capture_path,omitempty"`

	// Debug server and logging
	Listen  *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Analysis
	SamplePeriod *string `json:"sample_period,omitempty" yaml:"sample_period,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyAcquisitionConfig returns a config with all fields unset.
func EmptyAcquisitionConfig() *AcquisitionConfig {
	return &AcquisitionConfig{}
}

// LoadAcquisitionConfig loads a config from a .json, .yaml or .yml file.
// Fields omitted from the file keep their defaults, so partial configs are
// safe.
func LoadAcquisitionConfig(path string) (*AcquisitionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAcquisitionConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *AcquisitionConfig) Validate() error {
	if err := validDuration("duration", c.Duration); err != nil {
		return err
	}
	if err := validDuration("read_timeout", c.ReadTimeout); err != nil {
		return err
	}
	if err := validDuration("sample_period", c.SamplePeriod); err != nil {
		return err
	}
	if c.ReadSize != nil && *c.ReadSize <= 0 {
		return fmt.Errorf("read_size must be positive, got %d", *c.ReadSize)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if c.BaseName != nil && strings.ContainsAny(*c.BaseName, `/\`) {
		return fmt.Errorf("base_name must not contain path separators, got %q", *c.BaseName)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetPort returns the serial device path or the default.
func (c *AcquisitionConfig) GetPort() string {
	return stringOr(c.Port, DefaultPort)
}

// GetPortOptions returns the normalized serial line settings.
func (c *AcquisitionConfig) GetPortOptions() serialport.PortOptions {
	var opts serialport.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = serialport.PortOptions{}.Normalize()
	}
	return normalized
}

// GetDuration returns the sampling duration or the default (10 minutes).
func (c *AcquisitionConfig) GetDuration() time.Duration {
	return durationOr(c.Duration, DefaultDuration)
}

// GetReadTimeout returns the per-read timeout or the default.
func (c *AcquisitionConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, serialport.DefaultReadTimeout)
}

// GetReadSize returns the maximum bytes per read or the default.
func (c *AcquisitionConfig) GetReadSize() int {
	if c.ReadSize == nil || *c.ReadSize <= 0 {
		return DefaultReadSize
	}
	return *c.ReadSize
}

// GetLogDir returns the CSV log directory or the default.
func (c *AcquisitionConfig) GetLogDir() string {
	return stringOr(c.LogDir, DefaultLogDir)
}

// GetBaseName returns the CSV file name prefix or the default.
func (c *AcquisitionConfig) GetBaseName() string {
	return stringOr(c.BaseName, DefaultBaseName)
}

// GetDBPath returns the SQLite path; empty disables the store.
func (c *AcquisitionConfig) GetDBPath() string {
	return stringOr(c.DBPath, "")
}

// GetCapturePath returns the raw capture path; empty disables capture.
func (c *AcquisitionConfig) GetCapturePath() string {
	return stringOr(c.CapturePath, "")
}

// GetListen returns the debug server address; empty disables it.
func (c *AcquisitionConfig) GetListen() string {
	return stringOr(c.Listen, "")
}

// GetVerbose returns whether per-frame logging is on.
func (c *AcquisitionConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetSamplePeriod returns the time between frames assumed by analysis.
func (c *AcquisitionConfig) GetSamplePeriod() time.Duration {
	return durationOr(c.SamplePeriod, DefaultSamplePeriod)
}

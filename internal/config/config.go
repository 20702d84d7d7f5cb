package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SerialConfig describes the serial link to the drive.
type SerialConfig struct {
	Port        string `yaml:"port"`          // e.g., "/dev/ttyS1"
	Baud        int    `yaml:"baud"`          // line speed (drive default: 9600)
	CheckEcho   bool   `yaml:"check_echo"`    // verify the drive echoes each typed character
	Mock        bool   `yaml:"mock"`          // use a loopback port (true=dev/test, false=real drive)
	CharDelayMs int    `yaml:"char_delay_ms"` // pause between typed characters (ms)
}

// MotorConfig holds the motor constants needed for unit conversion.
// They mirror the DMEPIT and ERES settings on the drive.
type MotorConfig struct {
	ElectricalPitchMm float64 `yaml:"electrical_pitch_mm"` // electrical pitch (DMEPIT)
	EncoderResolution int     `yaml:"encoder_resolution"`  // counts per pitch (ERES)
	DistanceUnit      string  `yaml:"distance_unit"`       // "m", "cm" or "mm"
}

// DefaultsConfig contains generic parameters (timeouts, etc.).
type DefaultsConfig struct {
	DebugLevel       int `yaml:"debug_level"`        // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	CommandTimeoutMs int `yaml:"command_timeout_ms"` // per-command response timeout (ms)
	RunTimeoutMs     int `yaml:"run_timeout_ms"`     // extra margin added to estimated run time (ms)
	MaxRetries       int `yaml:"max_retries"`        // command retries before giving up
	ProgramNumber    int `yaml:"program_number"`     // stored program/profile slot to use
}

// Config aggregates all application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Motor    MotorConfig    `yaml:"motor"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Serial.Port == "" && !cfg.Serial.Mock {
		return nil, fmt.Errorf("serial.port is required")
	}
	if cfg.Serial.Baud <= 0 {
		cfg.Serial.Baud = 9600 // drive factory default
	}
	if cfg.Serial.CharDelayMs <= 0 {
		cfg.Serial.CharDelayMs = 10
	}
	if cfg.Motor.ElectricalPitchMm <= 0 {
		return nil, fmt.Errorf("motor.electrical_pitch_mm must be > 0, got %.2f", cfg.Motor.ElectricalPitchMm)
	}
	if cfg.Motor.EncoderResolution <= 0 {
		return nil, fmt.Errorf("motor.encoder_resolution must be > 0, got %d", cfg.Motor.EncoderResolution)
	}
	switch cfg.Motor.DistanceUnit {
	case "":
		cfg.Motor.DistanceUnit = "m"
	case "m", "cm", "mm":
	default:
		return nil, fmt.Errorf("motor.distance_unit must be m, cm or mm, got %q", cfg.Motor.DistanceUnit)
	}
	if cfg.Defaults.CommandTimeoutMs <= 0 {
		cfg.Defaults.CommandTimeoutMs = 1000
	}
	if cfg.Defaults.RunTimeoutMs <= 0 {
		cfg.Defaults.RunTimeoutMs = 5000
	}
	if cfg.Defaults.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0, got %d", cfg.Defaults.MaxRetries)
	}
	if cfg.Defaults.ProgramNumber <= 0 {
		cfg.Defaults.ProgramNumber = 1
	}

	return &cfg, nil
}

// MetersPerUnit returns the conversion factor for the configured
// distance unit.
func (c *Config) MetersPerUnit() float64 {
	switch c.Motor.DistanceUnit {
	case "cm":
		return 0.01
	case "mm":
		return 0.001
	default:
		return 1.0
	}
}

// CharDelay returns the pause between typed characters.
func (c *Config) CharDelay() time.Duration {
	return time.Duration(c.Serial.CharDelayMs) * time.Millisecond
}

// CommandTimeout returns the per-command response timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Defaults.CommandTimeoutMs) * time.Millisecond
}

// RunMargin returns the extra time allowed beyond the estimated run
// time of a stored program.
func (c *Config) RunMargin() time.Duration {
	return time.Duration(c.Defaults.RunTimeoutMs) * time.Millisecond
}

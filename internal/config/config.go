// Package config loads the bridge configuration from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/verdant-data/greenhouse.report/internal/calibration"
	"github.com/verdant-data/greenhouse.report/internal/serialmux"
)

// Config is the root configuration for the bridge.
type Config struct {
	// SerialPath is the device path of the greenhouse node, e.g.
	// /dev/ttyACM0.
	SerialPath string `json:"serial_path,omitempty"`
	// Serial holds the port parameters (9600 8N1 by default).
	Serial serialmux.PortOptions `json:"serial,omitempty"`

	// DBPath is where the SQLite history lives.
	DBPath string `json:"db_path,omitempty"`

	// ListenAddr is the HTTP bind address for the dashboard and API.
	ListenAddr string `json:"listen_addr,omitempty"`

	// Calibration holds the sensor conversion constants. These must match
	// the hardware on the node; change them only when the probe or divider
	// resistor changes.
	Calibration calibration.Constants `json:"calibration,omitempty"`

	// LDRThreshold is the raw ADC threshold pushed with every setpoint
	// batch; the node turns the grow light on below it.
	LDRThreshold int `json:"ldr_threshold,omitempty"`

	// PhotoperiodOnHour and PhotoperiodOffHour bound the daily window in
	// which the scheduler enables photoperiod control on the node.
	PhotoperiodOnHour  int `json:"photoperiod_on_hour,omitempty"`
	PhotoperiodOffHour int `json:"photoperiod_off_hour,omitempty"`

	// AdvisoryModel is the generative model used for plant setpoint
	// suggestions. The API key comes from the GEMINI_API_KEY environment
	// variable, never from this file.
	AdvisoryModel string `json:"advisory_model,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	serialOpts, _ := serialmux.PortOptions{}.Normalize()
	return Config{
		SerialPath:         "/dev/ttyACM0",
		Serial:             serialOpts,
		DBPath:             "greenhouse.db",
		ListenAddr:         ":8080",
		Calibration:        calibration.Default(),
		LDRThreshold:       2000,
		PhotoperiodOnHour:  1,
		PhotoperiodOffHour: 23,
		AdvisoryModel:      "gemini-2.0-flash",
	}
}

// Load reads the config file at path, layering it over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded values for internal consistency.
func (c *Config) Validate() error {
	if c.SerialPath == "" {
		return fmt.Errorf("serial_path must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if c.LDRThreshold < 0 || c.LDRThreshold > calibration.ADCCodeMax {
		return fmt.Errorf("ldr_threshold %d out of range [0, %d]", c.LDRThreshold, calibration.ADCCodeMax)
	}
	if c.PhotoperiodOnHour < 0 || c.PhotoperiodOnHour > 23 {
		return fmt.Errorf("photoperiod_on_hour %d out of range [0, 23]", c.PhotoperiodOnHour)
	}
	if c.PhotoperiodOffHour < 0 || c.PhotoperiodOffHour > 23 {
		return fmt.Errorf("photoperiod_off_hour %d out of range [0, 23]", c.PhotoperiodOffHour)
	}
	if c.PhotoperiodOnHour >= c.PhotoperiodOffHour {
		return fmt.Errorf("photoperiod window is empty: on hour %d >= off hour %d",
			c.PhotoperiodOnHour, c.PhotoperiodOffHour)
	}
	serialOpts, err := c.Serial.Normalize()
	if err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	c.Serial = serialOpts
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	UseSynthetic bool            `yaml:"use_synthetic"`
	Distance     DistanceConfig  `yaml:"distance"`
	Probe        ProbeConfig     `yaml:"probe"`
	Synthetic    SyntheticConfig `yaml:"synthetic"`
	Window       WindowConfig    `yaml:"window"`
	TickInterval time.Duration   `yaml:"tick_interval"`
	Log          LogConfig       `yaml:"log"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Redis        RedisConfig     `yaml:"redis"`
}

// DistanceConfig contains the serial rangefinder settings.
type DistanceConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	DataBits    int           `yaml:"data_bits"`
	Parity      string        `yaml:"parity"`
	StopBits    int           `yaml:"stop_bits"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Scale       float64       `yaml:"scale"`   // 1 or 10 depending on the datalogger firmware
	Ceiling     float64       `yaml:"ceiling"` // after scaling: 9999 or 120 depending on the deployment
	Offset      float64       `yaml:"offset"`  // cm
	Polarity    int           `yaml:"polarity"`
	MaxLines    int           `yaml:"max_lines"`
	FlushInput  bool          `yaml:"flush_input"`
}

// ProbeConfig contains the Modbus RTU probe settings.
type ProbeConfig struct {
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	DataBits     int           `yaml:"data_bits"`
	Parity       string        `yaml:"parity"`
	StopBits     int           `yaml:"stop_bits"`
	SlaveAddress int           `yaml:"slave_address"`
	BaseRegister int           `yaml:"base_register"`
	FunctionCode int           `yaml:"function_code"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SyntheticConfig contains the ranges of generated test data.
type SyntheticConfig struct {
	DistanceMin     float64 `yaml:"distance_min"` // raw distance before the offset
	DistanceMax     float64 `yaml:"distance_max"`
	TemperatureMin  float64 `yaml:"temperature_min"`
	TemperatureMax  float64 `yaml:"temperature_max"`
	ConductivityMin float64 `yaml:"conductivity_min"`
	ConductivityMax float64 `yaml:"conductivity_max"`
	Seed            int64   `yaml:"seed"` // 0 seeds from the clock
}

// WindowConfig contains the telemetry window settings.
type WindowConfig struct {
	Capacity int `yaml:"capacity"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig contains the Prometheus exposition settings.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the listener
}

// RedisConfig contains the sample fan-out settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// ChannelConfig is the part of the configuration the acquisition scheduler
// reads on every tick. It is replaced as a whole.
type ChannelConfig struct {
	UseSynthetic bool
	Distance     DistanceConfig
	Probe        ProbeConfig
	Synthetic    SyntheticConfig
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		UseSynthetic: true,
		Distance: DistanceConfig{
			Port:        "COM10", // "/dev/ttyUSB0" on Linux
			BaudRate:    9600,
			DataBits:    8,
			Parity:      "N",
			StopBits:    1,
			ReadTimeout: time.Second,
			Scale:       1,
			Ceiling:     9999,
			Offset:      40,
			Polarity:    -1,
			MaxLines:    20,
			FlushInput:  true,
		},
		Probe: ProbeConfig{
			Port:         "COM9",
			BaudRate:     9600,
			DataBits:     8,
			Parity:       "E",
			StopBits:     1,
			SlaveAddress: 128,
			BaseRegister: 256,
			FunctionCode: 4,
			Timeout:      time.Second,
		},
		Synthetic: SyntheticConfig{
			DistanceMin:     -20,
			DistanceMax:     20,
			TemperatureMin:  12,
			TemperatureMax:  23,
			ConductivityMin: 0,
			ConductivityMax: 5,
		},
		Window: WindowConfig{
			Capacity: 50,
		},
		TickInterval: 5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "hydromon:samples",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. Environment overrides are
// applied last.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ensureDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Channels returns the acquisition part of the configuration.
func (c *Config) Channels() ChannelConfig {
	return ChannelConfig{
		UseSynthetic: c.UseSynthetic,
		Distance:     c.Distance,
		Probe:        c.Probe,
		Synthetic:    c.Synthetic,
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if err := c.Channels().Validate(); err != nil {
		return err
	}
	if c.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if c.Window.Capacity <= 0 {
		return errors.New("window.capacity must be positive")
	}
	return nil
}

// Validate checks the acquisition settings.
func (c ChannelConfig) Validate() error {
	if c.Distance.Polarity != -1 && c.Distance.Polarity != 1 {
		return fmt.Errorf("distance.polarity must be -1 or 1, got %d", c.Distance.Polarity)
	}
	if c.Distance.Scale <= 0 {
		return fmt.Errorf("distance.scale must be positive, got %g", c.Distance.Scale)
	}
	if c.Distance.Ceiling <= 0 {
		return fmt.Errorf("distance.ceiling must be positive, got %g", c.Distance.Ceiling)
	}
	if c.Distance.MaxLines < 0 {
		return fmt.Errorf("distance.max_lines must not be negative, got %d", c.Distance.MaxLines)
	}
	if c.Probe.FunctionCode != 3 && c.Probe.FunctionCode != 4 {
		return fmt.Errorf("probe.function_code must be 3 or 4, got %d", c.Probe.FunctionCode)
	}
	if c.Probe.SlaveAddress < 1 || c.Probe.SlaveAddress > 247 {
		return fmt.Errorf("probe.slave_address must be within 1..247, got %d", c.Probe.SlaveAddress)
	}
	if c.Probe.BaseRegister < 0 || c.Probe.BaseRegister > 0xFFFF {
		return fmt.Errorf("probe.base_register out of range: %d", c.Probe.BaseRegister)
	}
	if c.Synthetic.DistanceMin > c.Synthetic.DistanceMax ||
		c.Synthetic.TemperatureMin > c.Synthetic.TemperatureMax ||
		c.Synthetic.ConductivityMin > c.Synthetic.ConductivityMax {
		return errors.New("synthetic ranges must have min <= max")
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Distance.Port == "" {
		c.Distance.Port = def.Distance.Port
	}
	if c.Distance.BaudRate == 0 {
		c.Distance.BaudRate = def.Distance.BaudRate
	}
	if c.Distance.DataBits == 0 {
		c.Distance.DataBits = def.Distance.DataBits
	}
	if c.Distance.Parity == "" {
		c.Distance.Parity = def.Distance.Parity
	}
	if c.Distance.StopBits == 0 {
		c.Distance.StopBits = def.Distance.StopBits
	}
	if c.Distance.ReadTimeout == 0 {
		c.Distance.ReadTimeout = def.Distance.ReadTimeout
	}
	if c.Distance.Scale == 0 {
		c.Distance.Scale = def.Distance.Scale
	}
	if c.Distance.Ceiling == 0 {
		c.Distance.Ceiling = def.Distance.Ceiling
	}
	if c.Distance.Polarity == 0 {
		c.Distance.Polarity = def.Distance.Polarity
	}
	if c.Distance.MaxLines == 0 {
		c.Distance.MaxLines = def.Distance.MaxLines
	}

	if c.Probe.Port == "" {
		c.Probe.Port = def.Probe.Port
	}
	if c.Probe.BaudRate == 0 {
		c.Probe.BaudRate = def.Probe.BaudRate
	}
	if c.Probe.DataBits == 0 {
		c.Probe.DataBits = def.Probe.DataBits
	}
	if c.Probe.Parity == "" {
		c.Probe.Parity = def.Probe.Parity
	}
	if c.Probe.StopBits == 0 {
		c.Probe.StopBits = def.Probe.StopBits
	}
	if c.Probe.SlaveAddress == 0 {
		c.Probe.SlaveAddress = def.Probe.SlaveAddress
	}
	if c.Probe.FunctionCode == 0 {
		c.Probe.FunctionCode = def.Probe.FunctionCode
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = def.Probe.Timeout
	}

	if c.Window.Capacity == 0 {
		c.Window.Capacity = def.Window.Capacity
	}
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = def.Redis.Channel
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: HYDROMON_SYNTHETIC, HYDROMON_DISTANCE_PORT, HYDROMON_PROBE_PORT,
// HYDROMON_PROBE_ADDRESS, HYDROMON_OFFSET, HYDROMON_TICK, HYDROMON_LOG_LEVEL,
// HYDROMON_METRICS_ADDR, HYDROMON_REDIS_ADDR
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("HYDROMON_SYNTHETIC"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HYDROMON_SYNTHETIC: %w", err)
		}
		c.UseSynthetic = b
	}
	if v := os.Getenv("HYDROMON_DISTANCE_PORT"); v != "" {
		c.Distance.Port = v
	}
	if v := os.Getenv("HYDROMON_PROBE_PORT"); v != "" {
		c.Probe.Port = v
	}
	if v := os.Getenv("HYDROMON_PROBE_ADDRESS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HYDROMON_PROBE_ADDRESS: %w", err)
		}
		c.Probe.SlaveAddress = n
	}
	if v := os.Getenv("HYDROMON_OFFSET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("HYDROMON_OFFSET: %w", err)
		}
		c.Distance.Offset = f
	}
	if v := os.Getenv("HYDROMON_TICK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HYDROMON_TICK: %w", err)
		}
		c.TickInterval = d
	}
	if v := os.Getenv("HYDROMON_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HYDROMON_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
	if v := os.Getenv("HYDROMON_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	return nil
}

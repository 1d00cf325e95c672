package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	IMU       IMUConfig       `yaml:"imu"`
	Movement  MovementConfig  `yaml:"movement"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Network   NetworkConfig   `yaml:"network"`
}

type IMUConfig struct {
	// Driver is "icm20948" or "mpu6050".
	Driver string `yaml:"driver"`
	// Backend is "dev" (/dev/i2c-*) or "periph".
	Backend string `yaml:"backend"`
	Bus     string `yaml:"bus"`
	// Address 0 selects the driver default.
	Address uint16 `yaml:"address"`

	SampleInterval time.Duration `yaml:"sample_interval"`
	HistorySize    int           `yaml:"history_size"`

	CalibrateOnStart bool   `yaml:"calibrate_on_start"`
	OffsetsPath      string `yaml:"offsets_path"`
}

type MovementConfig struct {
	MinimumSamples int     `yaml:"minimum_samples"`
	Interval       float64 `yaml:"interval"`
}

type IndicatorConfig struct {
	Enable       bool          `yaml:"enable"`
	Pin          int           `yaml:"pin"`
	ActiveLow    bool          `yaml:"active_low"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type NetworkConfig struct {
	Enable    bool          `yaml:"enable"`
	SSID      string        `yaml:"ssid"`
	Password  string        `yaml:"password"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

const (
	DriverICM20948 = "icm20948"
	DriverMPU6050  = "mpu6050"
)

// Default returns the configuration used for keys absent from the file.
// minimum_samples and interval are prefilled rather than defaulted after
// decoding because 0 is a meaningful minimum_samples value.
func Default() Config {
	return Config{
		IMU: IMUConfig{
			Driver:         DriverICM20948,
			Backend:        "dev",
			SampleInterval: time.Second,
			HistorySize:    100,
		},
		Movement: MovementConfig{
			MinimumSamples: 3,
			Interval:       0.1,
		},
		Indicator: IndicatorConfig{
			Pin:          2,
			PollInterval: 100 * time.Millisecond,
		},
		Network: NetworkConfig{
			Interface: "wlan0",
			Timeout:   30 * time.Second,
		},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	switch cfg.IMU.Driver {
	case DriverICM20948, DriverMPU6050:
	default:
		return Config{}, fmt.Errorf("imu.driver must be %s or %s (got %q)", DriverICM20948, DriverMPU6050, cfg.IMU.Driver)
	}
	switch cfg.IMU.Backend {
	case "dev":
		if cfg.IMU.Bus == "" {
			cfg.IMU.Bus = "/dev/i2c-1"
		}
	case "periph":
		if cfg.IMU.Bus == "" {
			cfg.IMU.Bus = "1"
		}
	default:
		return Config{}, fmt.Errorf("imu.backend must be dev or periph (got %q)", cfg.IMU.Backend)
	}
	if cfg.IMU.Address > 0x7F {
		return Config{}, fmt.Errorf("imu.address must be a 7-bit address (got 0x%X)", cfg.IMU.Address)
	}
	if cfg.IMU.SampleInterval <= 0 {
		return Config{}, fmt.Errorf("imu.sample_interval must be > 0")
	}
	if cfg.IMU.HistorySize <= 0 {
		return Config{}, fmt.Errorf("imu.history_size must be > 0")
	}

	if cfg.Movement.MinimumSamples < 0 {
		return Config{}, fmt.Errorf("movement.minimum_samples must be >= 0")
	}
	if !(cfg.Movement.Interval > 0 && cfg.Movement.Interval < 1) {
		return Config{}, fmt.Errorf("movement.interval must be in (0,1)")
	}

	if cfg.Indicator.Enable && cfg.Indicator.Pin <= 0 {
		return Config{}, fmt.Errorf("indicator.pin must be > 0 when indicator.enable is true")
	}
	if cfg.Indicator.PollInterval <= 0 {
		return Config{}, fmt.Errorf("indicator.poll_interval must be > 0")
	}

	if cfg.Network.Enable && cfg.Network.SSID == "" {
		return Config{}, fmt.Errorf("network.ssid is required when network.enable is true")
	}
	if cfg.Network.Interface == "" {
		cfg.Network.Interface = "wlan0"
	}
	if cfg.Network.Timeout <= 0 {
		return Config{}, fmt.Errorf("network.timeout must be > 0")
	}

	return cfg, nil
}

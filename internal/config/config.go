package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	API           APIConfig           `yaml:"api"`
	StatusChannel StatusChannelConfig `yaml:"status_channel"`
	Telephony     TelephonyConfig     `yaml:"telephony"`
	Placement     PlacementConfig     `yaml:"placement"`
	Database      DatabaseConfig      `yaml:"database"`
	Engine        EngineConfig        `yaml:"engine"`
	Log           LogConfig           `yaml:"log"`
}

type APIConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

type StatusChannelConfig struct {
	URL               string `yaml:"url"`
	OperatorID        string `yaml:"operator_id"`
	JoinTimeoutSec    int    `yaml:"join_timeout"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
}

type TelephonyConfig struct {
	RegistrarURL string `yaml:"registrar_url"`
	DeviceID     string `yaml:"device_id"`
}

type PlacementConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type EngineConfig struct {
	Mode            string `yaml:"mode"`              // single, parallel, advanced
	MaxRingSeconds  int    `yaml:"max_ring_seconds"`  // watchdog ring timeout
	WatchdogSeconds int    `yaml:"watchdog_interval"` // watchdog sweep interval
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from a YAML file, with environment
// variable overrides for secrets and endpoints.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	overrideWithEnv(&cfg)

	return &cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("POWERDIAL_STATUS_URL"); v != "" {
		cfg.StatusChannel.URL = v
	}
	if v := os.Getenv("POWERDIAL_OPERATOR_ID"); v != "" {
		cfg.StatusChannel.OperatorID = v
	}
	if v := os.Getenv("POWERDIAL_PLACEMENT_URL"); v != "" {
		cfg.Placement.BaseURL = v
	}
	if v := os.Getenv("POWERDIAL_PLACEMENT_TOKEN"); v != "" {
		cfg.Placement.Token = v
	}
	if v := os.Getenv("POWERDIAL_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("POWERDIAL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POWERDIAL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POWERDIAL_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
}

// Address returns the API server bind address.
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DSN returns the MySQL data source name.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

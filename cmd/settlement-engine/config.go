package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/engine"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/flags"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/notify"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/storage"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement/evm"
)

// Config is the settlement engine's process configuration.
type Config struct {
	// PollInterval is how often the queue cycle runs
	PollInterval time.Duration `yaml:"poll_interval"`

	Database DatabaseConfig `yaml:"database"`
	Redis    flags.Config   `yaml:"redis"`
	Nats     NatsConfig     `yaml:"nats"`
	Engine   engine.Config  `yaml:"engine"`
	Evm      evm.Config     `yaml:"evm"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// NatsConfig gates and configures settlement notifications.
type NatsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Client  notify.Config `yaml:"client"`
}

func (c DatabaseConfig) storageConfig() storage.Config {
	return storage.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
		SSLMode:  c.SSLMode,
	}
}

// LoadConfig loads configuration from a YAML file over defaults.
func LoadConfig(path string) (*Config, error) {
	dbDefaults := storage.DefaultConfig()
	cfg := &Config{
		PollInterval: 15 * time.Second,
		Database: DatabaseConfig{
			Host:     dbDefaults.Host,
			Port:     dbDefaults.Port,
			User:     dbDefaults.User,
			Password: dbDefaults.Password,
			Database: dbDefaults.Database,
			SSLMode:  dbDefaults.SSLMode,
		},
		Redis:  flags.Config{Addr: "localhost:6379"},
		Nats:   NatsConfig{Client: notify.DefaultConfig()},
		Engine: engine.DefaultConfig(),
		Evm:    evm.DefaultConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if key := os.Getenv("SETTLEMENT_EVM_PRIVATE_KEY"); key != "" {
		cfg.Evm.PrivateKey = key
	}

	if cfg.Evm.Enabled && cfg.Evm.RPCURL == "" {
		return nil, fmt.Errorf("evm.rpc_url is required when the EVM rail is enabled")
	}
	if cfg.Evm.Enabled && cfg.Evm.PrivateKey == "" {
		return nil, fmt.Errorf("signer private key is required when the EVM rail is enabled")
	}

	return cfg, nil
}

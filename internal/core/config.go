package core

import (
	"fmt"
	"os"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

const (
	NotificationsNone   = "none"
	NotificationsMemory = "memory"
	NotificationsRedis  = "redis"

	defaultPort            = 8080
	defaultUploadRoot      = "upload-dir"
	defaultPageSize        = 20
	defaultDatabaseType    = "sqlite"
	defaultConnection      = ":memory:"
	defaultRedisChannelPfx = "imagestore:"
)

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite mysql badger"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Redis struct {
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db" validate:"min=0"`
	ChannelPrefix string `yaml:"channelPrefix"`
}

type Notifications struct {
	Type  string `yaml:"type" validate:"required,oneof=none memory redis"`
	Redis Redis  `yaml:"redis"`
}

type ServiceConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	UploadRoot      string        `yaml:"uploadRoot" validate:"required"`
	DefaultPageSize int           `yaml:"defaultPageSize" validate:"min=1,max=1000"`
	Seed            *bool         `yaml:"seed"`
	Database        Database      `yaml:"database"`
	Notifications   Notifications `yaml:"notifications"`
}

// SeedOnStart reports whether demo data is loaded at startup; it defaults to true.
func (c *ServiceConfig) SeedOnStart() bool {
	return c.Seed == nil || *c.Seed
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *ServiceConfig {
	config := &ServiceConfig{}
	config.applyDefaults()
	return config
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.UploadRoot == "" {
		c.UploadRoot = defaultUploadRoot
	}
	if c.DefaultPageSize == 0 {
		c.DefaultPageSize = defaultPageSize
	}
	if c.Database.Type == "" {
		c.Database.Type = defaultDatabaseType
	}
	if c.Database.ConnectionString == "" && c.Database.Type != "mysql" {
		c.Database.ConnectionString = defaultConnection
	}
	if c.Notifications.Type == "" {
		c.Notifications.Type = NotificationsMemory
	}
	if c.Notifications.Redis.ChannelPrefix == "" {
		c.Notifications.Redis.ChannelPrefix = defaultRedisChannelPfx
	}
}

// Validate checks field constraints and the rules that span fields.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Notifications.Type == NotificationsRedis && c.Notifications.Redis.Address == "" {
		return fmt.Errorf("notifications.redis.address is required when notifications.type is %s", NotificationsRedis)
	}
	return nil
}

package config

import (
	"time"

	"github.com/vietddude/harvester/internal/harvesting/recovery"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Sources  []source.Config    `yaml:"sources"`
	Schedule []ScheduleConfig   `yaml:"schedule"`
	Recovery recovery.Config    `yaml:"recovery"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP and gRPC health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ScheduleConfig describes a recurring query import.
type ScheduleConfig struct {
	Source   string        `yaml:"source"`
	Query    string        `yaml:"query"`
	Every    time.Duration `yaml:"every"`
	Cron     string        `yaml:"cron"` // used when every is unset
	PageSize int           `yaml:"page_size"`
	Limit    int           `yaml:"limit"` // 0 = all results
}

// Source returns the configuration of the named source.
func (c *AppConfig) Source(name string) (source.Config, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return source.Config{}, false
}

// SourceNames returns the configured source names in order.
func (c *AppConfig) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/harvester/internal/infra/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${ENV} references, filling
// defaults and validating the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalStrict([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Recovery.Interval == 0 {
		c.Recovery.Interval = 10 * time.Second
	}

	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Type == "" {
			s.Type = "http"
		}
		if s.Timeout == 0 {
			s.Timeout = 30 * time.Second
		}
		// An omitted retry block gets the default policy.
		if s.Retry == (retry.Policy{}) {
			s.Retry = retry.DefaultPolicy
		}
	}

	for i := range c.Schedule {
		if c.Schedule[i].PageSize == 0 {
			c.Schedule[i].PageSize = 50
		}
	}
}

// Validate checks the configuration for consistency.
func (c *AppConfig) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		if s.URL == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: url is required", i))
		}
		switch s.Type {
		case "http":
		case "grpc":
			if s.Method == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: grpc sources need a method", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unknown type %q", i, s.Type))
		}
		if s.Retry.MaxAttempts < 0 || s.Retry.MinInterval < 0 || s.Retry.PostAttemptDelay < 0 {
			errs = append(errs, fmt.Errorf("sources[%d]: retry values must not be negative", i))
		}
		if s.DailyQuota < 0 {
			errs = append(errs, fmt.Errorf("sources[%d]: daily_quota must not be negative", i))
		}
	}

	if c.Recovery.Retention < 0 {
		errs = append(errs, errors.New("recovery.retention must not be negative"))
	}

	for i, sc := range c.Schedule {
		if !seen[sc.Source] {
			errs = append(errs, fmt.Errorf("schedule[%d]: unknown source %q", i, sc.Source))
		}
		if sc.Query == "" {
			errs = append(errs, fmt.Errorf("schedule[%d]: query is required", i))
		}
		if sc.Every <= 0 && sc.Cron == "" {
			errs = append(errs, fmt.Errorf("schedule[%d]: every or cron is required", i))
		}
	}

	return errors.Join(errs...)
}

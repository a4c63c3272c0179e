package actioncore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sk-go/actioncore/service/approval"
	"github.com/sk-go/actioncore/service/queue"
)

// Mirror backends supported out of the box.
const (
	MirrorNone  = ""
	MirrorRedis = "redis"
	MirrorFs    = "fs"
)

// RetryConfig controls how failed executions are retried. Delays grow
// exponentially from BackoffBase and never exceed BackoffCap.
type RetryConfig struct {
	MaxRetries  int           `json:"maxRetries" yaml:"maxRetries"`
	BackoffBase time.Duration `json:"backoffBase" yaml:"backoffBase"`
	BackoffCap  time.Duration `json:"backoffCap" yaml:"backoffCap"`
}

// MirrorConfig selects the durable store behind the snapshot mirror. Kind
// "redis" connects using DSN (a redis URL); kind "fs" writes JSON envelopes
// under BaseURL (any afs-supported scheme). An empty kind disables
// mirroring.
type MirrorConfig struct {
	Kind    string `json:"kind,omitempty" yaml:"kind,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// Config is a serialisable representation of the core configuration. It can
// be populated from JSON or YAML; the zero-value is not useful on its own,
// start from DefaultConfig.
type Config struct {
	ServiceName string          `json:"serviceName" yaml:"serviceName"`
	Version     string          `json:"version" yaml:"version"`
	Queue       queue.Config    `json:"queue" yaml:"queue"`
	Approval    approval.Config `json:"approval" yaml:"approval"`
	Retry       RetryConfig     `json:"retry" yaml:"retry"`
	Mirror      MirrorConfig    `json:"mirror" yaml:"mirror"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "actioncore",
		Version:     "0.1.0",
		Queue:       queue.DefaultConfig(),
		Approval:    approval.DefaultConfig(),
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
		},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must be >= 0")
	}
	if c.Retry.BackoffBase <= 0 {
		return fmt.Errorf("retry.backoffBase must be > 0")
	}
	if c.Retry.BackoffCap < c.Retry.BackoffBase {
		return fmt.Errorf("retry.backoffCap must be >= retry.backoffBase")
	}
	if c.Approval.MaxEscalations < 0 {
		return fmt.Errorf("approval.maxEscalations must be >= 0")
	}
	switch c.Mirror.Kind {
	case MirrorNone:
	case MirrorRedis:
		if c.Mirror.DSN == "" {
			return fmt.Errorf("mirror.dsn is required for the redis mirror")
		}
	case MirrorFs:
		if c.Mirror.BaseURL == "" {
			return fmt.Errorf("mirror.baseURL is required for the fs mirror")
		}
	default:
		return fmt.Errorf("unknown mirror.kind: %s", c.Mirror.Kind)
	}
	return nil
}

// LoadConfig reads a YAML configuration file layered over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

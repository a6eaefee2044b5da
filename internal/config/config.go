package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models goalflow.yml.
type Config struct {
	Agent   Agent   `yaml:"agent" json:"agent"`
	LLM     LLM     `yaml:"llm" json:"llm"`
	Store   Store   `yaml:"store" json:"store"`
	Cache   Cache   `yaml:"cache" json:"cache"`
	Audit   Audit   `yaml:"audit" json:"audit"`
	Logging Logging `yaml:"logging" json:"logging"`
	Server  Server  `yaml:"server" json:"server"`
}

type Agent struct {
	MaxRetries           int `yaml:"max_retries" json:"max_retries"`
	MinRequestLength     int `yaml:"min_request_length" json:"min_request_length"`
	MaxRequestLength     int `yaml:"max_request_length" json:"max_request_length"`
	ContextRequestLength int `yaml:"context_request_length" json:"context_request_length"`
}

type LLM struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Model       string        `yaml:"model" json:"model"`
	APIKeyEnv   string        `yaml:"api_key_env" json:"api_key_env"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Breaker     Breaker       `yaml:"breaker" json:"breaker"`
}

// APIKey reads the key from the configured environment variable.
func (l LLM) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

type Breaker struct {
	MaxFailures int           `yaml:"max_failures" json:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store selects the version-history backend. An empty DSN with the sqlite
// driver means the workspace database.
type Store struct {
	Driver   string `yaml:"driver" json:"driver"`
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

type Cache struct {
	MaxCostBytes int64         `yaml:"max_cost_bytes" json:"max_cost_bytes"`
	TTL          time.Duration `yaml:"ttl" json:"ttl"`
}

// Audit configures where agent audit entries go besides the local database.
type Audit struct {
	RedisURL string `yaml:"redis_url" json:"redis_url"`
	Stream   string `yaml:"stream" json:"stream"`
}

type Logging struct {
	Level   string `yaml:"level" json:"level"`
	Format  string `yaml:"format" json:"format"`
	Service string `yaml:"service" json:"service"`
}

type Server struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("config.agent.max_retries must not be negative")
	}
	if c.Agent.MinRequestLength < 1 {
		return fmt.Errorf("config.agent.min_request_length must be at least 1")
	}
	if c.Agent.MaxRequestLength < c.Agent.MinRequestLength {
		return fmt.Errorf("config.agent.max_request_length must be >= min_request_length")
	}
	if c.Agent.ContextRequestLength < 1 {
		return fmt.Errorf("config.agent.context_request_length must be at least 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config.llm.temperature must be between 0 and 2")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("config.llm.timeout must not be negative")
	}
	if c.LLM.Breaker.MaxFailures < 0 {
		return fmt.Errorf("config.llm.breaker.max_failures must not be negative")
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if c.Cache.MaxCostBytes < 0 {
		return fmt.Errorf("config.cache.max_cost_bytes must not be negative")
	}
	if c.Audit.RedisURL != "" && c.Audit.Stream == "" {
		return fmt.Errorf("config.audit.stream is required when redis_url is set")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config.logging.format must be json or text")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not a level", c.Logging.Level)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "goalflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the config described by the default template.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `agent:
  max_retries: 2
  min_request_length: 5
  max_request_length: 1000
  context_request_length: 500

llm:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  temperature: 0.2
  max_tokens: 2048
  timeout: 60s
  breaker:
    max_failures: 5
    open_timeout: 30s

store:
  driver: sqlite
  dsn: ""

cache:
  max_cost_bytes: 33554432
  ttl: 10m

audit:
  redis_url: ""
  stream: goalflow_audit

logging:
  level: info
  format: json
  service: goalflow

server:
  addr: ":8080"
  base_path: /v1
`

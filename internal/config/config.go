package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig     BasicConfig               `json:"basic_config" yaml:"basic_config" toml:"basic_config"`
	Databases       map[string]DatabaseConfig `json:"databases" yaml:"databases" toml:"databases"`
	Redis           RedisConfig               `json:"redis" yaml:"redis" toml:"redis"`
	Speech          SpeechConfig              `json:"speech" yaml:"speech" toml:"speech"`
	Providers       map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	MinutesProvider string                    `json:"minutes_provider" yaml:"minutes_provider" toml:"minutes_provider"`
	Log             LogConfig                 `json:"log" yaml:"log" toml:"log"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address" toml:"server_address"`
	DatabaseType      string `json:"database_type" yaml:"database_type" toml:"database_type"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers" toml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers" toml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout" toml:"worker_idle_timeout"` // minutes
	SweepInterval     int    `json:"sweep_interval" yaml:"sweep_interval" toml:"sweep_interval"`                // minutes
	StuckAfter        int    `json:"stuck_after" yaml:"stuck_after" toml:"stuck_after"`                         // minutes
	TokenTTL          int    `json:"token_ttl" yaml:"token_ttl" toml:"token_ttl"`                               // hours
	BlobDir           string `json:"blob_dir" yaml:"blob_dir" toml:"blob_dir"`
	PublicBaseURL     string `json:"public_base_url" yaml:"public_base_url" toml:"public_base_url"`
	TemplatePath      string `json:"template_path" yaml:"template_path" toml:"template_path"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" toml:"dsn"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DBName   string `json:"db_name" yaml:"db_name" toml:"db_name"`
	Params   string `json:"params" yaml:"params" toml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type SpeechConfig struct {
	BaseURL             string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey              string `json:"api_key" yaml:"api_key" toml:"api_key"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	MaxPollAttempts     int    `json:"max_poll_attempts" yaml:"max_poll_attempts" toml:"max_poll_attempts"`
	MaxWaitMinutes      int    `json:"max_wait_minutes" yaml:"max_wait_minutes" toml:"max_wait_minutes"`
	MaxUnknownStatus    int    `json:"max_unknown_status" yaml:"max_unknown_status" toml:"max_unknown_status"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" toml:"level"`
	JSON  bool   `json:"json" yaml:"json" toml:"json"`
}

const (
	DefaultConfigPath      = "config.json"
	DefaultSpeechBaseURL   = "https://api.gladia.io"
	DefaultMinutesProvider = "groq"
	DefaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	DefaultGroqModel       = "llama-3.3-70b-versatile"
)

// Default returns a configuration that runs a single sqlite-backed process.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// The decoder is picked from the file extension: .json, .yaml/.yml or .toml.
// When no path is given and config.json does not exist, defaults plus
// environment overrides are returned.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	if err := decodeFile(absPath, &cfg); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg = Config{}
			absPath = ""
		} else {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if absPath != "" {
		cfg.resolvePaths(filepath.Dir(absPath))
	}
	return &cfg, nil
}

func decodeFile(absPath string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".toml":
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("open config %s: %w", absPath, err)
		}
		if _, err := toml.DecodeFile(absPath, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	case ".yaml", ".yml":
		file, err := os.Open(absPath)
		if err != nil {
			return fmt.Errorf("open config %s: %w", absPath, err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		file, err := os.Open(absPath)
		if err != nil {
			return fmt.Errorf("open config %s: %w", absPath, err)
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GLADIA_API_KEY"); v != "" {
		c.Speech.APIKey = v
	}
	if v := os.Getenv("AISECRETARY_DB"); v != "" {
		c.BasicConfig.DatabaseType = v
	}
	if v := os.Getenv("AISECRETARY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	keys := map[string]string{
		"groq":   "GROQ_API_KEY",
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GEMINI_API_KEY",
	}
	for provider, env := range keys {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers[provider]
		p.APIKey = v
		c.Providers[provider] = p
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.DatabaseType == "" {
		b.DatabaseType = "sqlite3"
	}
	if b.MinWorkers == 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers == 0 {
		b.MaxWorkers = 8
	}
	if b.QueueSize == 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout == 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.SweepInterval == 0 {
		b.SweepInterval = 5
	}
	if b.StuckAfter == 0 {
		b.StuckAfter = 60
	}
	if b.TokenTTL == 0 {
		b.TokenTTL = 24
	}
	if b.BlobDir == "" {
		b.BlobDir = "./data/blobs"
	}
	if b.PublicBaseURL == "" {
		b.PublicBaseURL = "http://localhost" + b.ServerAddress
	}
	if b.TemplatePath == "" {
		b.TemplatePath = "./templates/minutes_template.docx"
	}

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if db, ok := c.Databases["sqlite3"]; !ok || db.DSN == "" {
		db.DSN = "./data/ai-secretary.db"
		c.Databases["sqlite3"] = db
	}

	s := &c.Speech
	if s.BaseURL == "" {
		s.BaseURL = DefaultSpeechBaseURL
	}
	if s.PollIntervalSeconds == 0 {
		s.PollIntervalSeconds = 3
	}
	if s.MaxPollAttempts == 0 {
		s.MaxPollAttempts = 400
	}
	if s.MaxWaitMinutes == 0 {
		s.MaxWaitMinutes = 20
	}
	if s.MaxUnknownStatus == 0 {
		s.MaxUnknownStatus = 3
	}

	if c.MinutesProvider == "" {
		c.MinutesProvider = DefaultMinutesProvider
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	groq := c.Providers["groq"]
	if groq.BaseURL == "" {
		groq.BaseURL = DefaultGroqBaseURL
	}
	if groq.Model == "" {
		groq.Model = DefaultGroqModel
	}
	c.Providers["groq"] = groq

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings that cannot run.
func (c *Config) Validate() error {
	b := c.BasicConfig
	if b.MinWorkers < 0 || b.MaxWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	if b.MaxWorkers < b.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", b.MaxWorkers, b.MinWorkers)
	}
	if b.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if b.SweepInterval < 0 || b.StuckAfter < 0 || b.WorkerIdleTimeout < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	s := c.Speech
	if s.PollIntervalSeconds < 0 || s.MaxPollAttempts < 0 || s.MaxWaitMinutes < 0 || s.MaxUnknownStatus < 0 {
		return fmt.Errorf("speech poll settings must not be negative")
	}
	if _, ok := c.Providers[c.MinutesProvider]; !ok {
		return fmt.Errorf("minutes_provider %q has no provider entry", c.MinutesProvider)
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	if db, ok := c.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(base, db.DSN)
		c.Databases["sqlite3"] = db
	}
	if !filepath.IsAbs(c.BasicConfig.BlobDir) {
		c.BasicConfig.BlobDir = filepath.Join(base, c.BasicConfig.BlobDir)
	}
	if !filepath.IsAbs(c.BasicConfig.TemplatePath) {
		c.BasicConfig.TemplatePath = filepath.Join(base, c.BasicConfig.TemplatePath)
	}
}

// MinutesProviderConfig returns the provider entry used for minutes generation.
func (c *Config) MinutesProviderConfig() ProviderConfig {
	return c.Providers[c.MinutesProvider]
}

func (b BasicConfig) IdleTimeout() time.Duration {
	return time.Duration(b.WorkerIdleTimeout) * time.Minute
}

func (b BasicConfig) SweepEvery() time.Duration {
	return time.Duration(b.SweepInterval) * time.Minute
}

func (b BasicConfig) StuckThreshold() time.Duration {
	return time.Duration(b.StuckAfter) * time.Minute
}

func (b BasicConfig) TokenLifetime() time.Duration {
	return time.Duration(b.TokenTTL) * time.Hour
}

func (s SpeechConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SpeechConfig) MaxWait() time.Duration {
	return time.Duration(s.MaxWaitMinutes) * time.Minute
}

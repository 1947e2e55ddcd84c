package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vantris/erpagent/checkpoint"
	"github.com/vantris/erpagent/erp"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server" env:"SERVER"`
	Engine      EngineConfig       `yaml:"engine" env:"ENGINE"`
	LLM         LLMConfig          `yaml:"llm" env:"LLM"`
	ERP         erp.Config         `yaml:"erp" env:"ERP"`
	Checkpoint  CheckpointConfig   `yaml:"checkpoint" env:"CHECKPOINT"`
	Redis       RedisConfig        `yaml:"redis" env:"REDIS"`
	Auth        AuthConfig         `yaml:"auth" env:"AUTH"`
	Log         LogConfig          `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	Specialists []SpecialistConfig `yaml:"specialists" env:"-"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MaxConns caps concurrently accepted connections; 0 means no cap.
	MaxConns       int     `yaml:"max_conns" env:"MAX_CONNS"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// EngineConfig tunes the orchestration loop.
type EngineConfig struct {
	MaxIterations         int           `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	MaxConcurrent         int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxCorrectionAttempts int           `yaml:"max_correction_attempts" env:"MAX_CORRECTION_ATTEMPTS"`
	SpecialistTimeout     time.Duration `yaml:"specialist_timeout" env:"SPECIALIST_TIMEOUT"`
	SpecialistToolBudget  int           `yaml:"specialist_tool_budget" env:"SPECIALIST_TOOL_BUDGET"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	// Provider selects the completion backend, e.g. "openai-compat".
	Provider string        `yaml:"provider" env:"PROVIDER"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Model    string        `yaml:"model" env:"MODEL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CheckpointConfig selects and configures the state store backend.
type CheckpointConfig struct {
	// Type is one of memory, file, redis, database, mongo.
	Type    string `yaml:"type" env:"TYPE"`
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// Driver is one of sqlite, postgres, mysql for the database type.
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
	// MongoURI etc. apply to the mongo type.
	MongoURI        string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase   string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	MongoCollection string `yaml:"mongo_collection" env:"MONGO_COLLECTION"`
}

// RedisConfig is shared by the redis checkpoint backend and the
// interrupt signal channel.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AuthConfig configures bearer-token authentication on the API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format       string   `yaml:"format" env:"FORMAT"`
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// SpecialistConfig declares one specialist in the catalog.
type SpecialistConfig struct {
	Name       string        `yaml:"name"`
	Capability string        `yaml:"capability"`
	Tools      []string      `yaml:"tools"`
	ToolBudget int           `yaml:"tool_budget"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CheckpointStoreConfig maps the flat YAML section onto the checkpoint
// package's config shape.
func (c *Config) CheckpointStoreConfig() checkpoint.Config {
	cfg := checkpoint.DefaultConfig()
	if c.Checkpoint.Type != "" {
		cfg.Type = checkpoint.StoreType(c.Checkpoint.Type)
	}
	if c.Checkpoint.BaseDir != "" {
		cfg.BaseDir = c.Checkpoint.BaseDir
	}
	cfg.Database = checkpoint.DatabaseConfig{
		Driver: c.Checkpoint.Driver,
		DSN:    c.Checkpoint.DSN,
	}
	cfg.Mongo = checkpoint.MongoConfig{
		URI:        c.Checkpoint.MongoURI,
		Database:   c.Checkpoint.MongoDatabase,
		Collection: c.Checkpoint.MongoCollection,
	}
	cfg.Redis = checkpoint.RedisConfig{
		Addr:      c.Redis.Addr,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		PoolSize:  c.Redis.PoolSize,
		KeyPrefix: c.Redis.KeyPrefix,
	}
	return cfg
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the ERPAGENT env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ERPAGENT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an
// error; defaults and environment still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then YAML, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads configuration or panics. Initialization use only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Engine.MaxIterations <= 0 {
		errs = append(errs, "engine max_iterations must be positive")
	}
	if c.Engine.MaxConcurrent <= 0 {
		errs = append(errs, "engine max_concurrent must be positive")
	}
	switch c.Checkpoint.Type {
	case "memory", "file", "redis", "database", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("unknown checkpoint type %q", c.Checkpoint.Type))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth enabled but jwt_secret is empty")
	}
	seen := map[string]bool{}
	for _, s := range c.Specialists {
		if s.Name == "" {
			errs = append(errs, "specialist with empty name")
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("duplicate specialist %q", s.Name))
		}
		seen[s.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

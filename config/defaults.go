package config

import (
	"time"

	"github.com/vantris/erpagent/erp"
)

// DefaultConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Engine:     DefaultEngineConfig(),
		LLM:        DefaultLLMConfig(),
		ERP:        DefaultERPConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Redis:      DefaultRedisConfig(),
		Auth:       DefaultAuthConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns HTTP server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        1024,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultEngineConfig returns orchestration loop defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:         8,
		MaxConcurrent:         4,
		MaxCorrectionAttempts: 2,
		SpecialistTimeout:     2 * time.Minute,
		SpecialistToolBudget:  5,
	}
}

// DefaultLLMConfig returns completion backend defaults. The API key
// has no default and must come from the file or environment.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "openai-compat",
		BaseURL:  "https://api.openai.com/v1",
		Model:    "gpt-4o-mini",
		Timeout:  60 * time.Second,
	}
}

// DefaultERPConfig returns ERP connection defaults.
func DefaultERPConfig() erp.Config {
	return erp.Config{
		Timeout: 30 * time.Second,
	}
}

// DefaultCheckpointConfig returns state store defaults.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Type:            "memory",
		BaseDir:         "./data",
		Driver:          "sqlite",
		MongoDatabase:   "erpagent",
		MongoCollection: "checkpoints",
	}
}

// DefaultRedisConfig returns redis defaults shared by the checkpoint
// backend and the interrupt signal channel.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "erpagent:",
	}
}

// DefaultAuthConfig returns authentication defaults. Auth is off by
// default so a fresh checkout runs without secrets.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
		Issuer:  "erpagent",
	}
}

// DefaultLogConfig returns logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns trace export defaults.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "erpagent",
		SampleRate:   1.0,
	}
}

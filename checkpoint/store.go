// Package checkpoint provides durable latest-wins storage for per-thread
// execution state.
//
// The contract is deliberately small: Get returns ErrNotFound for unknown
// threads (callers treat that as start-of-conversation, not a failure),
// Put atomically replaces the latest snapshot for a thread, and Delete is
// the explicit administrative removal path. No history is retained.
//
// Supported backends:
//   - Memory: development and testing (default)
//   - File: single-node deployments (atomic tmp+rename writes)
//   - Redis: distributed deployments
//   - Database: relational deployments via GORM (sqlite/postgres/mysql)
//   - Mongo: document-store deployments
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/vantris/erpagent/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("checkpoint not found")
	ErrInvalidThread = errors.New("invalid thread id")
	ErrStoreClosed   = errors.New("store is closed")
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
	StoreTypeMongo    StoreType = "mongo"
)

// Store is the checkpoint persistence boundary. A corrupt or
// undeserializable snapshot on Get is reported as ErrNotFound so callers
// degrade to a fresh thread instead of failing the conversation.
type Store interface {
	// Get retrieves the latest execution state for a thread.
	Get(ctx context.Context, threadID string) (*types.ExecutionState, error)

	// Put atomically replaces the latest execution state for a thread.
	// Last writer wins; a write is never partially visible.
	Put(ctx context.Context, state *types.ExecutionState) error

	// Delete removes a thread's state. Explicit administrative action.
	Delete(ctx context.Context, threadID string) error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DatabaseConfig configures the relational backend.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// MongoConfig configures the document-store backend.
type MongoConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

// Config is the base configuration for all store implementations.
type Config struct {
	// Type is the storage backend type.
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage.
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// ConnectTimeout bounds backend connection attempts.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Mongo    MongoConfig    `json:"mongo" yaml:"mongo"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:           StoreTypeMemory,
		BaseDir:        "./data",
		ConnectTimeout: 5 * time.Second,
	}
}

package checkpoint

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates a Store based on the configuration.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(cfg.BaseDir, logger)
	case StoreTypeRedis:
		return NewRedisStore(cfg, logger)
	case StoreTypeDatabase:
		return NewGormStore(cfg, logger)
	case StoreTypeMongo:
		return NewMongoStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}

// MustNew creates a Store or panics on error.
//
// WARNING: initialization use only (main/init); runtime creation should
// go through New.
func MustNew(cfg Config, logger *zap.Logger) Store {
	store, err := New(cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create checkpoint store: %v", err))
	}
	return store
}

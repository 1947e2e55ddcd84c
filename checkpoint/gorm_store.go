package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vantris/erpagent/types"
)

// checkpointRecord is the single-table relational schema: one row per
// thread holding the serialized latest snapshot.
type checkpointRecord struct {
	ThreadID  string    `gorm:"column:thread_id;primaryKey;size:128"`
	Data      []byte    `gorm:"column:data;not null"`
	WrittenAt time.Time `gorm:"column:written_at;not null"`
}

func (checkpointRecord) TableName() string {
	return "checkpoints"
}

// GormStore is a relational Store built on GORM. The driver (sqlite,
// postgres, mysql) is selected by configuration, matching the deployment
// modes the factory exposes.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens the configured database and migrates the schema.
func NewGormStore(cfg Config, zlog *zap.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Database.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewGormStoreFromDB(db, zlog)
}

// NewGormStoreFromDB wraps an existing GORM handle. Used by tests.
func NewGormStoreFromDB(db *gorm.DB, zlog *zap.Logger) (*GormStore, error) {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: zlog.With(zap.String("component", "gorm_checkpoint_store")),
	}, nil
}

func (s *GormStore) Get(ctx context.Context, threadID string) (*types.ExecutionState, error) {
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	var rec checkpointRecord
	err := s.db.WithContext(ctx).First(&rec, "thread_id = ?", threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	state, uerr := types.UnmarshalExecutionState(rec.Data)
	if uerr != nil {
		s.logger.Warn("corrupt checkpoint, treating as new thread",
			zap.String("thread_id", threadID),
			zap.Error(uerr),
		)
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *GormStore) Put(ctx context.Context, state *types.ExecutionState) error {
	if state == nil || state.ThreadID == "" {
		return ErrInvalidThread
	}

	data, err := state.Marshal()
	if err != nil {
		return err
	}

	rec := checkpointRecord{
		ThreadID:  state.ThreadID,
		Data:      data,
		WrittenAt: time.Now(),
	}
	// Upsert keeps last-writer-wins atomic at the row level.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "written_at"}),
	}).Create(&rec).Error
}

func (s *GormStore) Delete(ctx context.Context, threadID string) error {
	res := s.db.WithContext(ctx).Delete(&checkpointRecord{}, "thread_id = ?", threadID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*GormStore)(nil)

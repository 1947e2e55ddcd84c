package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// FileStore is a file-based Store. Suitable for single-node deployments.
// One JSON file per thread; writes go through a temp file and rename so a
// snapshot is never partially visible.
type FileStore struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a new file-based checkpoint store.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(baseDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{
		baseDir: dir,
		logger:  logger.With(zap.String("component", "file_checkpoint_store")),
	}, nil
}

// threadPath maps a thread id to its snapshot file. Path separators in ids
// are flattened so an id cannot escape the base directory.
func (s *FileStore) threadPath(threadID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(threadID)
	return filepath.Join(s.baseDir, safe+".json")
}

func (s *FileStore) Get(ctx context.Context, threadID string) (*types.ExecutionState, error) {
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.threadPath(threadID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	state, uerr := types.UnmarshalExecutionState(data)
	if uerr != nil {
		// Corrupt snapshot degrades to new-thread rather than failing the
		// conversation.
		s.logger.Warn("corrupt checkpoint, treating as new thread",
			zap.String("thread_id", threadID),
			zap.Error(uerr),
		)
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *FileStore) Put(ctx context.Context, state *types.ExecutionState) error {
	if state == nil || state.ThreadID == "" {
		return ErrInvalidThread
	}

	data, err := state.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	// Atomic write: temp file then rename.
	path := s.threadPath(state.ThreadID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return os.Rename(tempPath, path)
}

func (s *FileStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.threadPath(threadID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*FileStore)(nil)

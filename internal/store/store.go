// Package store provides crash-safe task context persistence using JSON
// files.
//
// Each task's context is stored as a separate file: task_<task_id>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The strategy layer
// calls SaveTask after every state transition, and the supervisor calls
// LoadAll on startup to rehydrate in-flight tasks after a crash.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

const (
	filePrefix = "task_"
	fileSuffix = ".json"
)

// Store persists task contexts to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveTask atomically persists ctx. It writes to a .tmp file first, then
// renames over the target so the file is never left in a partial state
// (crash-safe). Satisfies strategy.ContextStore.
func (s *Store) SaveTask(ctx *types.TaskContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	path := s.pathFor(ctx.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write task context: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadTask restores one task's context from disk. Returns nil, nil if no
// saved context exists for taskID.
func (s *Store) LoadTask(taskID string) (*types.TaskContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task context: %w", err)
	}

	var ctx types.TaskContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("unmarshal task context: %w", err)
	}
	return &ctx, nil
}

// LoadAll restores every persisted task context found in the store
// directory, used on startup to rehydrate tasks that survive a crash.
// A context whose StateName is already terminal (Completed, Cancelled) is
// skipped — there is nothing left to recover.
func (s *Store) LoadAll() ([]*types.TaskContext, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var contexts []*types.TaskContext
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		taskID := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		ctx, err := s.LoadTask(taskID)
		if err != nil {
			return nil, fmt.Errorf("load task %q: %w", taskID, err)
		}
		if ctx == nil || ctx.StateName.IsTerminal() {
			continue
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

// DeleteTask removes a task's persisted context, e.g. once it reaches a
// terminal state and its record no longer needs to survive a restart.
func (s *Store) DeleteTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete task context: %w", err)
	}
	return nil
}

func (s *Store) pathFor(taskID string) string {
	return filepath.Join(s.dir, filePrefix+taskID+fileSuffix)
}

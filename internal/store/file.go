package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seantiz/stoker/internal/model"
)

// Compile-time interface satisfaction checks.
var (
	_ TaskStore    = (*FileStore)(nil)
	_ AccountStore = (*FileStore)(nil)
)

// FileStore persists tasks and accounts as flat JSON files. Writes are
// whole-blob and mutex-guarded; concurrent writers race with last-write-wins
// semantics, never a partial merge.
type FileStore struct {
	mu           sync.Mutex
	tasksPath    string
	accountsPath string
}

// NewFileStore creates a store over the given task and account file paths.
// The files are created on first write.
func NewFileStore(tasksPath, accountsPath string) *FileStore {
	return &FileStore{
		tasksPath:    tasksPath,
		accountsPath: accountsPath,
	}
}

// LoadTasks reads the task file, dropping tasks that have expired. A missing
// file yields an empty set.
func (s *FileStore) LoadTasks(ctx context.Context) (map[string]*model.KeepaliveTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTasksLocked()
}

func (s *FileStore) loadTasksLocked() (map[string]*model.KeepaliveTask, error) {
	tasks := make(map[string]*model.KeepaliveTask)
	raw, err := os.ReadFile(s.tasksPath)
	if os.IsNotExist(err) {
		return tasks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}
	return filterExpired(tasks, time.Now()), nil
}

// SaveTasks replaces the task file with the given set.
func (s *FileStore) SaveTasks(ctx context.Context, tasks map[string]*model.KeepaliveTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.tasksPath, tasks)
}

// PutTask writes a single task, replacing any record under the same key.
func (s *FileStore) PutTask(ctx context.Context, task *model.KeepaliveTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadTasksLocked()
	if err != nil {
		return err
	}
	tasks[task.Key()] = task
	return writeJSONFile(s.tasksPath, tasks)
}

// DeleteTask removes the task under key. Missing keys are a no-op.
func (s *FileStore) DeleteTask(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadTasksLocked()
	if err != nil {
		return err
	}
	if _, ok := tasks[key]; !ok {
		return nil
	}
	delete(tasks, key)
	return writeJSONFile(s.tasksPath, tasks)
}

// LoadAccounts reads the accounts file. A missing file yields an empty map.
func (s *FileStore) LoadAccounts(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make(map[string]string)
	raw, err := os.ReadFile(s.accountsPath)
	if os.IsNotExist(err) {
		return accounts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return accounts, nil
}

// SaveAccounts replaces the accounts file with the given mapping.
func (s *FileStore) SaveAccounts(ctx context.Context, accounts map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.accountsPath, accounts)
}

// writeJSONFile writes v as indented JSON via a temp file and rename, so a
// crashed write never leaves a truncated blob behind.
func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

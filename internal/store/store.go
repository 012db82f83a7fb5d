package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/stoker/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TaskStore persists keepalive tasks keyed by model.TaskKey. Semantics are
// last-write-wins: SaveTasks replaces the whole set and PutTask replaces any
// record under the same key. Deleting a missing key is a no-op. LoadTasks
// drops tasks whose keepalive duration has already elapsed.
type TaskStore interface {
	LoadTasks(ctx context.Context) (map[string]*model.KeepaliveTask, error)
	SaveTasks(ctx context.Context, tasks map[string]*model.KeepaliveTask) error
	PutTask(ctx context.Context, task *model.KeepaliveTask) error
	DeleteTask(ctx context.Context, key string) error
}

// AccountStore persists the account name to token mapping added through the
// API. Secrets-file accounts are never written here.
type AccountStore interface {
	LoadAccounts(ctx context.Context) (map[string]string, error)
	SaveAccounts(ctx context.Context, accounts map[string]string) error
}

// filterExpired returns tasks that are still within their keepalive window.
func filterExpired(tasks map[string]*model.KeepaliveTask, now time.Time) map[string]*model.KeepaliveTask {
	active := make(map[string]*model.KeepaliveTask, len(tasks))
	for key, task := range tasks {
		if !task.Expired(now) {
			active[key] = task
		}
	}
	return active
}

package model

import (
	"fmt"
	"time"
)

// Keepalive duration bounds in hours, enforced when registering a task.
const (
	MinKeepaliveHours = 0.5
	MaxKeepaliveHours = 24.0
)

// KeepaliveTask is one scheduled keepalive: a codespace on a specific account
// that should be restarted whenever it idles out, until the requested duration
// has elapsed. JSON field names match the persisted task blob.
type KeepaliveTask struct {
	AccountName    string     `json:"account_name"`
	CodespaceName  string     `json:"cs_name"`
	StartTime      time.Time  `json:"start_time"`
	KeepaliveHours float64    `json:"keepalive_hours"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	NextCheckAt    *time.Time `json:"next_check_time,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TaskKey builds the composite key identifying a keepalive task. Keys are
// unique per (account, codespace); a later write for the same key replaces
// the earlier record.
func TaskKey(account, codespace string) string {
	return fmt.Sprintf("%s_%s", account, codespace)
}

// Key returns the task's composite key.
func (t *KeepaliveTask) Key() string {
	return TaskKey(t.AccountName, t.CodespaceName)
}

// ElapsedHours returns the hours elapsed since the task was started.
func (t *KeepaliveTask) ElapsedHours(now time.Time) float64 {
	return now.Sub(t.StartTime).Hours()
}

// Expired reports whether the requested keepalive duration has elapsed.
func (t *KeepaliveTask) Expired(now time.Time) bool {
	return t.ElapsedHours(now) >= t.KeepaliveHours
}

// RemainingHours returns the hours left before the task expires, floored at 0.
func (t *KeepaliveTask) RemainingHours(now time.Time) float64 {
	remaining := t.KeepaliveHours - t.ElapsedHours(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ValidKeepaliveHours reports whether the requested duration is within bounds.
func ValidKeepaliveHours(hours float64) bool {
	return hours >= MinKeepaliveHours && hours <= MaxKeepaliveHours
}

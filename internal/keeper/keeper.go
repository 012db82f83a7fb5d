package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/stoker/internal/accounts"
	"github.com/seantiz/stoker/internal/codespaces"
	"github.com/seantiz/stoker/internal/model"
	"github.com/seantiz/stoker/internal/store"
)

// pollTimeout bounds one poll cycle, including the restart settle wait.
const pollTimeout = 2 * time.Minute

// Keeper tracks keepalive tasks and drives their poll cycles.
type Keeper struct {
	store    store.TaskStore
	registry *accounts.Registry
	logger   *slog.Logger
	broker   *EventBroker

	checkBuffer time.Duration
	settleDelay time.Duration
	retryDelay  time.Duration

	// now and sleep are swapped in tests.
	now   func() time.Time
	sleep func(time.Duration)

	mu     sync.Mutex
	tasks  map[string]*model.KeepaliveTask
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// Options carry the poll timing knobs.
type Options struct {
	// CheckBuffer is how long after a codespace's last-used time the next
	// check fires. It sits just under the provider's 30-minute idle timeout.
	CheckBuffer time.Duration
	// SettleDelay is the wait after issuing a restart before re-reading state.
	SettleDelay time.Duration
	// RetryDelay is the backoff after a failed provider call.
	RetryDelay time.Duration
}

// New creates a keeper. Call Start to load persisted tasks and arm timers.
func New(s store.TaskStore, reg *accounts.Registry, opts Options, logger *slog.Logger) *Keeper {
	return &Keeper{
		store:       s,
		registry:    reg,
		logger:      logger,
		broker:      NewEventBroker(),
		checkBuffer: opts.CheckBuffer,
		settleDelay: opts.SettleDelay,
		retryDelay:  opts.RetryDelay,
		now:         time.Now,
		sleep:       time.Sleep,
		tasks:       make(map[string]*model.KeepaliveTask),
		timers:      make(map[string]*time.Timer),
	}
}

// Broker returns the keeper's event broker for SSE subscription.
func (k *Keeper) Broker() *EventBroker {
	return k.broker
}

// Start loads persisted tasks and arms a timer for each. Tasks whose next
// check time has already passed are polled immediately.
func (k *Keeper) Start(ctx context.Context) error {
	tasks, err := k.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	k.mu.Lock()
	for key, task := range tasks {
		k.tasks[key] = task
		next := k.now()
		if task.NextCheckAt != nil {
			next = *task.NextCheckAt
		}
		k.armLocked(key, next)
	}
	activeTasks.Set(float64(len(k.tasks)))
	k.mu.Unlock()

	k.logger.Info("keeper started", "tasks", len(tasks))
	return nil
}

// Track registers a new keepalive task, persists it, and arms its first
// check. An existing task under the same key is replaced.
func (k *Keeper) Track(ctx context.Context, task *model.KeepaliveTask) error {
	if !model.ValidKeepaliveHours(task.KeepaliveHours) {
		return fmt.Errorf("keepalive hours %.2f out of range [%.1f, %.1f]",
			task.KeepaliveHours, model.MinKeepaliveHours, model.MaxKeepaliveHours)
	}

	now := k.now().UTC()
	if task.StartTime.IsZero() {
		task.StartTime = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.NextCheckAt == nil {
		// First check fires immediately so a stopped codespace is caught
		// without waiting a full buffer.
		task.NextCheckAt = &now
	}

	if err := k.store.PutTask(ctx, task); err != nil {
		return fmt.Errorf("persist task: %w", err)
	}

	key := task.Key()
	k.broker.Reset(key)
	k.publish(key, EventTracked, fmt.Sprintf("keepalive for %.1fh", task.KeepaliveHours))

	k.mu.Lock()
	k.tasks[key] = task
	k.armLocked(key, *task.NextCheckAt)
	activeTasks.Set(float64(len(k.tasks)))
	k.mu.Unlock()

	k.logger.Info("task tracked", "task", key, "hours", task.KeepaliveHours)
	return nil
}

// Cancel stops tracking a task and removes it from the store. Unknown keys
// are a no-op.
func (k *Keeper) Cancel(ctx context.Context, key string) error {
	k.mu.Lock()
	_, known := k.tasks[key]
	if known {
		delete(k.tasks, key)
		if timer, ok := k.timers[key]; ok {
			timer.Stop()
			delete(k.timers, key)
		}
		activeTasks.Set(float64(len(k.tasks)))
	}
	k.mu.Unlock()

	if !known {
		return nil
	}

	if err := k.store.DeleteTask(ctx, key); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	k.publish(key, EventRemoved, "keepalive cancelled")
	k.broker.Close(key)
	k.logger.Info("task cancelled", "task", key)
	return nil
}

// Task returns a copy of the tracked task under key.
func (k *Keeper) Task(key string) (*model.KeepaliveTask, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	task, ok := k.tasks[key]
	if !ok {
		return nil, false
	}
	copied := *task
	return &copied, true
}

// Tasks returns copies of all tracked tasks, sorted by key.
func (k *Keeper) Tasks() []*model.KeepaliveTask {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]*model.KeepaliveTask, 0, len(k.tasks))
	for _, task := range k.tasks {
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Stop cancels all timers and waits for in-flight polls to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	k.closed = true
	for key, timer := range k.timers {
		timer.Stop()
		delete(k.timers, key)
	}
	k.mu.Unlock()

	k.wg.Wait()
	k.logger.Info("keeper stopped")
}

// armLocked schedules the next poll for key at the given time. Callers hold mu.
func (k *Keeper) armLocked(key string, at time.Time) {
	if k.closed {
		return
	}
	if timer, ok := k.timers[key]; ok {
		timer.Stop()
	}

	delay := at.Sub(k.now())
	if delay < 0 {
		delay = 0
	}
	k.timers[key] = time.AfterFunc(delay, func() {
		k.mu.Lock()
		if k.closed {
			k.mu.Unlock()
			return
		}
		delete(k.timers, key)
		k.wg.Add(1)
		k.mu.Unlock()
		defer k.wg.Done()

		k.poll(key)
	})
}

// poll runs one check cycle for the task under key.
func (k *Keeper) poll(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	k.mu.Lock()
	tracked, ok := k.tasks[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	task := *tracked
	k.mu.Unlock()

	now := k.now().UTC()

	if task.Expired(now) {
		expiredTotal.Inc()
		pollsTotal.WithLabelValues("expired").Inc()
		k.drop(ctx, key, EventExpired, "keepalive window elapsed")
		return
	}

	client, err := k.registry.Client(task.AccountName)
	if err != nil {
		pollsTotal.WithLabelValues("removed").Inc()
		k.drop(ctx, key, EventRemoved, "account no longer registered")
		return
	}

	cs, err := client.Get(ctx, task.CodespaceName)
	if codespaces.IsNotFound(err) {
		pollsTotal.WithLabelValues("removed").Inc()
		k.drop(ctx, key, EventRemoved, "codespace no longer exists")
		return
	}
	if err != nil {
		k.retry(ctx, key, err)
		return
	}

	restarted := false
	priorState := cs.State
	if model.Restartable(cs.State) {
		if _, err := client.Start(ctx, task.CodespaceName); err != nil {
			k.retry(ctx, key, err)
			return
		}
		restarted = true

		// Give the codespace time to come up before reading last_used_at;
		// immediately after a start the provider still reports stale state.
		k.sleep(k.settleDelay)
		if fresh, err := client.Get(ctx, task.CodespaceName); err == nil {
			cs = fresh
		}
	}

	lastUsed := now
	if cs.LastUsedAt != nil {
		lastUsed = *cs.LastUsedAt
	}
	next := lastUsed.Add(k.checkBuffer)
	if !next.After(now) {
		// Stale last-used timestamp; fall back to a short recheck so the
		// loop keeps making progress.
		next = now.Add(k.retryDelay)
	}

	k.mu.Lock()
	current, ok := k.tasks[key]
	if !ok || k.closed {
		k.mu.Unlock()
		return
	}
	current.LastUsedAt = &lastUsed
	current.NextCheckAt = &next
	task = *current
	k.armLocked(key, next)
	k.mu.Unlock()

	if err := k.store.PutTask(ctx, &task); err != nil {
		k.logger.Error("persist task after poll", "task", key, "error", err)
	}

	if restarted {
		restartsTotal.Inc()
		pollsTotal.WithLabelValues("restarted").Inc()
		k.publish(key, EventRestarted, fmt.Sprintf("restarted from state %s", priorState))
		k.logger.Info("codespace restarted", "task", key, "next_check", next)
	} else {
		pollsTotal.WithLabelValues("checked").Inc()
		k.publish(key, EventChecked, fmt.Sprintf("state %s", cs.State))
	}
	k.publish(key, EventRescheduled, fmt.Sprintf("next check at %s", next.UTC().Format(time.RFC3339)))
}

// drop removes the task from tracking and storage, publishing ev as the
// final event on its topic.
func (k *Keeper) drop(ctx context.Context, key, evType, msg string) {
	k.mu.Lock()
	delete(k.tasks, key)
	if timer, ok := k.timers[key]; ok {
		timer.Stop()
		delete(k.timers, key)
	}
	activeTasks.Set(float64(len(k.tasks)))
	k.mu.Unlock()

	if err := k.store.DeleteTask(ctx, key); err != nil {
		k.logger.Error("delete task", "task", key, "error", err)
	}
	k.publish(key, evType, msg)
	k.broker.Close(key)
	k.logger.Info("task dropped", "task", key, "reason", evType)
}

// retry reschedules the task after a provider error.
func (k *Keeper) retry(ctx context.Context, key string, cause error) {
	pollsTotal.WithLabelValues("error").Inc()
	next := k.now().UTC().Add(k.retryDelay)

	k.mu.Lock()
	current, ok := k.tasks[key]
	if !ok || k.closed {
		k.mu.Unlock()
		return
	}
	current.NextCheckAt = &next
	task := *current
	k.armLocked(key, next)
	k.mu.Unlock()

	if err := k.store.PutTask(ctx, &task); err != nil {
		k.logger.Error("persist task after error", "task", key, "error", err)
	}
	k.publish(key, EventError, cause.Error())
	k.logger.Warn("poll failed, rescheduled", "task", key, "next_check", next, "error", cause)
}

func (k *Keeper) publish(key, evType, msg string) {
	k.broker.Publish(key, Event{
		Type:    evType,
		TaskKey: key,
		Message: msg,
		Time:    k.now().UTC(),
	})
}

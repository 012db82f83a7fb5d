package keeper

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/stoker/internal/accounts"
	"github.com/seantiz/stoker/internal/model"
	"github.com/seantiz/stoker/internal/store"
)

// fakeProvider emulates the codespace endpoints the keeper touches.
type fakeProvider struct {
	mu         sync.Mutex
	codespaces map[string]*model.Codespace
	starts     map[string]int
	failGets   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		codespaces: make(map[string]*model.Codespace),
		starts:     make(map[string]int),
	}
}

func (f *fakeProvider) add(name, state string, lastUsed time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codespaces[name] = &model.Codespace{Name: name, State: state, LastUsedAt: &lastUsed}
}

func (f *fakeProvider) startCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[name]
}

func (f *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		name := strings.TrimPrefix(r.URL.Path, "/user/codespaces/")
		if r.Method == http.MethodPost && strings.HasSuffix(name, "/start") {
			name = strings.TrimSuffix(name, "/start")
			cs, ok := f.codespaces[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
				return
			}
			f.starts[name]++
			cs.State = model.StateAvailable
			now := time.Now().UTC()
			cs.LastUsedAt = &now
			json.NewEncoder(w).Encode(cs)
			return
		}

		if f.failGets > 0 {
			f.failGets--
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"message": "server error"})
			return
		}
		if r.URL.Path == "/user" {
			json.NewEncoder(w).Encode(model.User{Login: "octocat"})
			return
		}

		cs, ok := f.codespaces[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
			return
		}
		json.NewEncoder(w).Encode(cs)
	}
}

func newTestKeeper(t *testing.T, fake *fakeProvider) (*Keeper, *store.FileStore) {
	t.Helper()

	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	fs := store.NewFileStore(
		filepath.Join(dir, "keepalive_tasks.json"),
		filepath.Join(dir, "accounts.json"),
	)

	reg := accounts.NewRegistryWithBaseURL(fs, ts.URL)
	if err := reg.Load(context.Background(), map[string]string{"work": "ghp_tok"}); err != nil {
		t.Fatalf("registry Load: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	k := New(fs, reg, Options{
		CheckBuffer: 1818 * time.Second,
		SettleDelay: 30 * time.Second,
		RetryDelay:  120 * time.Second,
	}, logger)
	k.sleep = func(time.Duration) {}
	t.Cleanup(k.Stop)

	return k, fs
}

func makeTask(cs string, hours float64) *model.KeepaliveTask {
	return &model.KeepaliveTask{
		AccountName:    "work",
		CodespaceName:  cs,
		KeepaliveHours: hours,
		CreatedBy:      "admin",
	}
}

// waitEvent consumes events until one of the given type arrives, the topic
// closes, or the timeout passes.
func waitEvent(t *testing.T, ch <-chan Event, evType string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("topic closed before %q event", evType)
			}
			if ev.Type == evType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", evType)
		}
	}
}

// waitClosed consumes remaining events until the topic closes.
func waitClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for topic close")
		}
	}
}

func TestTrackRejectsInvalidHours(t *testing.T) {
	k, _ := newTestKeeper(t, newFakeProvider())

	for _, hours := range []float64{0, 0.4, 24.5, -1} {
		if err := k.Track(context.Background(), makeTask("cs-one", hours)); err == nil {
			t.Errorf("Track(%v hours): expected error", hours)
		}
	}
}

func TestPollChecksRunningCodespace(t *testing.T) {
	fake := newFakeProvider()
	lastUsed := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	fake.add("cs-one", model.StateAvailable, lastUsed)

	k, fs := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	if err := k.Track(context.Background(), makeTask("cs-one", 4)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	waitEvent(t, ch, EventChecked)
	waitEvent(t, ch, EventRescheduled)

	if fake.startCount("cs-one") != 0 {
		t.Errorf("starts = %d, want 0 for a running codespace", fake.startCount("cs-one"))
	}

	task, ok := k.Task(key)
	if !ok {
		t.Fatal("task not tracked after poll")
	}
	wantNext := lastUsed.Add(1818 * time.Second)
	if task.NextCheckAt == nil || !task.NextCheckAt.Equal(wantNext) {
		t.Errorf("NextCheckAt = %v, want %v", task.NextCheckAt, wantNext)
	}

	persisted, err := fs.LoadTasks(context.Background())
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	if persisted[key] == nil || persisted[key].NextCheckAt == nil {
		t.Fatal("updated task not persisted")
	}
}

func TestPollRestartsStoppedCodespace(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateStopped, time.Now().UTC().Add(-time.Hour))

	k, _ := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	if err := k.Track(context.Background(), makeTask("cs-one", 4)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	ev := waitEvent(t, ch, EventRestarted)
	if !strings.Contains(ev.Message, model.StateStopped) {
		t.Errorf("restart message = %q, want prior state mentioned", ev.Message)
	}
	if fake.startCount("cs-one") != 1 {
		t.Errorf("starts = %d, want 1", fake.startCount("cs-one"))
	}
}

func TestPollRestartsShutdownCodespace(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateShutdown, time.Now().UTC().Add(-time.Hour))

	k, _ := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	if err := k.Track(context.Background(), makeTask("cs-one", 4)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	waitEvent(t, ch, EventRestarted)
	if fake.startCount("cs-one") != 1 {
		t.Errorf("starts = %d, want 1", fake.startCount("cs-one"))
	}
}

func TestPollDropsExpiredTask(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateAvailable, time.Now().UTC())

	k, fs := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	task := makeTask("cs-one", 1)
	task.StartTime = time.Now().UTC().Add(-2 * time.Hour)
	if err := k.Track(context.Background(), task); err != nil {
		t.Fatalf("Track: %v", err)
	}

	waitEvent(t, ch, EventExpired)
	waitClosed(t, ch)

	if _, ok := k.Task(key); ok {
		t.Error("expired task still tracked")
	}
	persisted, _ := fs.LoadTasks(context.Background())
	if len(persisted) != 0 {
		t.Errorf("persisted = %v, want empty", persisted)
	}
}

func TestPollRemovesWhenCodespaceGone(t *testing.T) {
	fake := newFakeProvider() // no codespaces registered

	k, fs := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-ghost")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	if err := k.Track(context.Background(), makeTask("cs-ghost", 4)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	ev := waitEvent(t, ch, EventRemoved)
	if !strings.Contains(ev.Message, "codespace") {
		t.Errorf("message = %q", ev.Message)
	}
	waitClosed(t, ch)

	persisted, _ := fs.LoadTasks(context.Background())
	if len(persisted) != 0 {
		t.Errorf("persisted = %v, want empty", persisted)
	}
}

func TestPollRemovesWhenAccountGone(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateAvailable, time.Now().UTC())

	k, _ := newTestKeeper(t, fake)
	key := model.TaskKey("ghost", "cs-one")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	task := makeTask("cs-one", 4)
	task.AccountName = "ghost"
	if err := k.Track(context.Background(), task); err != nil {
		t.Fatalf("Track: %v", err)
	}

	ev := waitEvent(t, ch, EventRemoved)
	if !strings.Contains(ev.Message, "account") {
		t.Errorf("message = %q", ev.Message)
	}
	if _, ok := k.Task(key); ok {
		t.Error("task still tracked after account removal")
	}
}

func TestPollReschedulesOnProviderError(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateAvailable, time.Now().UTC())
	fake.failGets = 1

	k, _ := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")
	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	before := time.Now().UTC()
	if err := k.Track(context.Background(), makeTask("cs-one", 4)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	waitEvent(t, ch, EventError)

	task, ok := k.Task(key)
	if !ok {
		t.Fatal("task dropped after transient error")
	}
	if task.NextCheckAt == nil {
		t.Fatal("NextCheckAt = nil")
	}
	delay := task.NextCheckAt.Sub(before)
	if delay < 100*time.Second || delay > 140*time.Second {
		t.Errorf("retry delay = %v, want ~120s", delay)
	}
}

func TestCancel(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateAvailable, time.Now().UTC())

	k, fs := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")

	far := time.Now().UTC().Add(time.Hour)
	task := makeTask("cs-one", 4)
	task.NextCheckAt = &far
	if err := k.Track(context.Background(), task); err != nil {
		t.Fatalf("Track: %v", err)
	}

	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	if err := k.Cancel(context.Background(), key); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitEvent(t, ch, EventRemoved)
	waitClosed(t, ch)

	if _, ok := k.Task(key); ok {
		t.Error("task still tracked after Cancel")
	}
	persisted, _ := fs.LoadTasks(context.Background())
	if len(persisted) != 0 {
		t.Errorf("persisted = %v, want empty", persisted)
	}

	if err := k.Cancel(context.Background(), "ghost"); err != nil {
		t.Errorf("Cancel unknown key: %v", err)
	}
}

func TestStartArmsPersistedTasks(t *testing.T) {
	fake := newFakeProvider()
	fake.add("cs-one", model.StateStopped, time.Now().UTC().Add(-time.Hour))

	k, fs := newTestKeeper(t, fake)
	key := model.TaskKey("work", "cs-one")

	// Seed the store directly, as if a previous process wrote it.
	past := time.Now().UTC().Add(-time.Minute)
	seeded := makeTask("cs-one", 4)
	seeded.StartTime = time.Now().UTC()
	seeded.CreatedAt = seeded.StartTime
	seeded.NextCheckAt = &past
	if err := fs.PutTask(context.Background(), seeded); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	ch, unsub := k.Broker().Subscribe(key)
	defer unsub()

	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitEvent(t, ch, EventRestarted)
	if fake.startCount("cs-one") != 1 {
		t.Errorf("starts = %d, want 1", fake.startCount("cs-one"))
	}
}

func TestTasksSortedSnapshot(t *testing.T) {
	fake := newFakeProvider()
	k, _ := newTestKeeper(t, fake)

	far := time.Now().UTC().Add(time.Hour)
	for _, cs := range []string{"cs-zeta", "cs-alpha"} {
		task := makeTask(cs, 4)
		task.NextCheckAt = &far
		if err := k.Track(context.Background(), task); err != nil {
			t.Fatalf("Track %s: %v", cs, err)
		}
	}

	tasks := k.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	if tasks[0].CodespaceName != "cs-alpha" || tasks[1].CodespaceName != "cs-zeta" {
		t.Errorf("order = %s, %s", tasks[0].CodespaceName, tasks[1].CodespaceName)
	}

	// Snapshot copies are isolated from keeper state.
	tasks[0].KeepaliveHours = 99
	fresh, _ := k.Task(tasks[0].Key())
	if fresh.KeepaliveHours == 99 {
		t.Error("snapshot mutation leaked into keeper state")
	}
}

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/seantiz/stoker/internal/model"
)

type codespacesListResponse struct {
	Codespaces []codespaceView `json:"codespaces"`
}

func TestListCodespacesAnnotatesKeepalive(t *testing.T) {
	env := newTestEnv(t)
	lastUsed := time.Now().UTC()
	env.fake.add(model.Codespace{
		Name:       "cs-one",
		State:      model.StateAvailable,
		Repository: model.Repository{FullName: "octocat/hello-world"},
		GitStatus:  model.GitStatus{Ref: "main"},
		LastUsedAt: &lastUsed,
	})
	env.fake.add(model.Codespace{Name: "cs-two", State: model.StateShutdown})

	resp := env.do(http.MethodPost, "/v1/keepalives", createKeepaliveRequest{
		AccountName:    "work",
		CodespaceName:  "cs-one",
		KeepaliveHours: 2,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create keepalive status = %d", resp.StatusCode)
	}

	var out codespacesListResponse
	env.do(http.MethodGet, "/v1/accounts/work/codespaces", nil, &out)
	if len(out.Codespaces) != 2 {
		t.Fatalf("len(codespaces) = %d, want 2", len(out.Codespaces))
	}

	byName := make(map[string]codespaceView)
	for _, cs := range out.Codespaces {
		byName[cs.Name] = cs
	}
	if byName["cs-one"].Keepalive == nil {
		t.Error("cs-one missing keepalive annotation")
	} else if byName["cs-one"].Keepalive.KeepaliveHours != 2 {
		t.Errorf("KeepaliveHours = %v, want 2", byName["cs-one"].Keepalive.KeepaliveHours)
	}
	if byName["cs-two"].Keepalive != nil {
		t.Error("cs-two has unexpected keepalive annotation")
	}
	if byName["cs-one"].Repository != "octocat/hello-world" || byName["cs-one"].Branch != "main" {
		t.Errorf("cs-one view = %+v", byName["cs-one"])
	}
}

func TestListCodespacesUnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/accounts/ghost/codespaces", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateCodespaceAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)

	var created codespaceView
	resp := env.do(http.MethodPost, "/v1/accounts/work/codespaces", createCodespaceRequest{
		Repository: "octocat/hello-world",
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if created.Name != "fresh-cs" {
		t.Errorf("Name = %q", created.Name)
	}

	body := env.fake.createBody
	if body["ref"] != "main" {
		t.Errorf("ref = %v, want main", body["ref"])
	}
	if body["machine"] != "basicLinux32gb" {
		t.Errorf("machine = %v, want basicLinux32gb", body["machine"])
	}
	if body["location"] != "WestUs2" {
		t.Errorf("location = %v, want WestUs2", body["location"])
	}
	if body["idle_timeout_minutes"] != float64(30) {
		t.Errorf("idle_timeout_minutes = %v, want 30", body["idle_timeout_minutes"])
	}
}

func TestCreateCodespaceRequiresRepository(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/accounts/work/codespaces", createCodespaceRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartCodespaceWithKeepalive(t *testing.T) {
	env := newTestEnv(t)
	env.fake.add(model.Codespace{Name: "cs-one", State: model.StateStopped})

	var started codespaceView
	resp := env.do(http.MethodPost, "/v1/accounts/work/codespaces/cs-one/start",
		startCodespaceRequest{KeepaliveHours: 3}, &started)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if started.State != model.StateAvailable {
		t.Errorf("State = %q, want %q", started.State, model.StateAvailable)
	}

	task, ok := env.kp.Task(model.TaskKey("work", "cs-one"))
	if !ok {
		t.Fatal("keepalive task not tracked after start")
	}
	if task.KeepaliveHours != 3 {
		t.Errorf("KeepaliveHours = %v, want 3", task.KeepaliveHours)
	}
	if task.CreatedBy != "admin" {
		t.Errorf("CreatedBy = %q, want admin", task.CreatedBy)
	}
}

func TestStartCodespaceWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	env.fake.add(model.Codespace{Name: "cs-one", State: model.StateStopped})

	resp := env.do(http.MethodPost, "/v1/accounts/work/codespaces/cs-one/start", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, ok := env.kp.Task(model.TaskKey("work", "cs-one")); ok {
		t.Error("unexpected keepalive task without keepalive_hours")
	}
}

func TestStopCodespaceCancelsKeepalive(t *testing.T) {
	env := newTestEnv(t)
	env.fake.add(model.Codespace{Name: "cs-one", State: model.StateAvailable})

	env.do(http.MethodPost, "/v1/keepalives", createKeepaliveRequest{
		AccountName:   "work",
		CodespaceName: "cs-one",
	}, nil)

	resp := env.do(http.MethodPost, "/v1/accounts/work/codespaces/cs-one/stop", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if _, ok := env.kp.Task(model.TaskKey("work", "cs-one")); ok {
		t.Error("keepalive survived a deliberate stop")
	}
}

func TestDeleteCodespaceCancelsKeepalive(t *testing.T) {
	env := newTestEnv(t)
	env.fake.add(model.Codespace{Name: "cs-one", State: model.StateAvailable})

	env.do(http.MethodPost, "/v1/keepalives", createKeepaliveRequest{
		AccountName:   "work",
		CodespaceName: "cs-one",
	}, nil)

	resp := env.do(http.MethodDelete, "/v1/accounts/work/codespaces/cs-one", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if _, ok := env.kp.Task(model.TaskKey("work", "cs-one")); ok {
		t.Error("keepalive survived codespace deletion")
	}

	resp = env.do(http.MethodGet, "/v1/accounts/work/codespaces/cs-one", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestListMachines(t *testing.T) {
	env := newTestEnv(t)

	var out struct {
		Machines []model.Machine `json:"machines"`
	}
	resp := env.do(http.MethodGet, "/v1/accounts/work/codespaces/machines?repository=octocat/hello-world", nil, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(out.Machines) != 1 || out.Machines[0].Name != "basicLinux32gb" {
		t.Errorf("machines = %+v", out.Machines)
	}
}

func TestListMachinesRequiresRepository(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/accounts/work/codespaces/machines", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

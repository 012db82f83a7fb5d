package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/stoker/internal/codespaces"
	"github.com/seantiz/stoker/internal/config"
	"github.com/seantiz/stoker/internal/model"
	"github.com/seantiz/stoker/internal/timefmt"
)

// codespaceView is one codespace in API responses, annotated with its
// keepalive task when one is tracked. Timestamps are rendered in the
// configured display timezone.
type codespaceView struct {
	Name               string         `json:"name"`
	State              string         `json:"state"`
	Repository         string         `json:"repository,omitempty"`
	Branch             string         `json:"branch,omitempty"`
	Machine            string         `json:"machine,omitempty"`
	Location           string         `json:"location,omitempty"`
	LastUsedAt         string         `json:"last_used_at,omitempty"`
	CreatedAt          string         `json:"created_at,omitempty"`
	WebURL             string         `json:"web_url,omitempty"`
	IdleTimeoutMinutes int            `json:"idle_timeout_minutes,omitempty"`
	Keepalive          *keepaliveView `json:"keepalive,omitempty"`
}

type createCodespaceRequest struct {
	Repository         string `json:"repository"`
	Ref                string `json:"ref"`
	Machine            string `json:"machine"`
	Location           string `json:"location"`
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes"`
}

type startCodespaceRequest struct {
	KeepaliveHours float64 `json:"keepalive_hours"`
}

func (s *Server) handleListCodespaces(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	list, err := client.List(r.Context())
	if err != nil {
		s.providerError(w, "list codespaces", err)
		return
	}

	views := make([]codespaceView, len(list))
	for i := range list {
		views[i] = s.codespaceView(account, &list[i])
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"codespaces": views})
}

func (s *Server) handleGetCodespace(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	name := chi.URLParam(r, "name")

	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	cs, err := client.Get(r.Context(), name)
	if codespaces.IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, "codespace not found")
		return
	}
	if err != nil {
		s.providerError(w, "get codespace", err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.codespaceView(account, cs))
}

func (s *Server) handleCreateCodespace(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	var req createCodespaceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Repository == "" {
		s.writeError(w, http.StatusBadRequest, "repository is required")
		return
	}

	opts := codespaces.CreateOptions{
		Repository:         req.Repository,
		Ref:                req.Ref,
		Machine:            req.Machine,
		Location:           req.Location,
		IdleTimeoutMinutes: req.IdleTimeoutMinutes,
	}
	if opts.Ref == "" {
		opts.Ref = config.DefaultRef
	}
	if opts.Machine == "" {
		opts.Machine = config.DefaultMachine
	}
	if opts.Location == "" {
		opts.Location = config.DefaultLocation
	}
	if opts.IdleTimeoutMinutes == 0 {
		opts.IdleTimeoutMinutes = config.DefaultIdleTimeoutMinutes
	}

	cs, err := client.Create(r.Context(), opts)
	if err != nil {
		s.providerError(w, "create codespace", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.codespaceView(account, cs))
}

func (s *Server) handleStartCodespace(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	name := chi.URLParam(r, "name")

	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	// The body is optional; an empty body means start without a keepalive.
	var req startCodespaceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cs, err := client.Start(r.Context(), name)
	if codespaces.IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, "codespace not found")
		return
	}
	if err != nil {
		s.providerError(w, "start codespace", err)
		return
	}

	if req.KeepaliveHours > 0 {
		task := &model.KeepaliveTask{
			AccountName:    account,
			CodespaceName:  name,
			KeepaliveHours: req.KeepaliveHours,
			CreatedBy:      currentUser(r),
		}
		if err := s.keeper.Track(r.Context(), task); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.writeJSON(w, http.StatusOK, s.codespaceView(account, cs))
}

func (s *Server) handleStopCodespace(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	name := chi.URLParam(r, "name")

	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	cs, err := client.Stop(r.Context(), name)
	if codespaces.IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, "codespace not found")
		return
	}
	if err != nil {
		s.providerError(w, "stop codespace", err)
		return
	}

	// A deliberate stop also ends any keepalive, or the keeper would restart
	// the codespace on its next check.
	if err := s.keeper.Cancel(r.Context(), model.TaskKey(account, name)); err != nil {
		s.logger.Error("cancel keepalive on stop", "account", account, "codespace", name, "error", err)
	}

	s.writeJSON(w, http.StatusOK, s.codespaceView(account, cs))
}

func (s *Server) handleDeleteCodespace(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	name := chi.URLParam(r, "name")

	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := client.Delete(r.Context(), name); err != nil {
		if codespaces.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "codespace not found")
			return
		}
		s.providerError(w, "delete codespace", err)
		return
	}

	if err := s.keeper.Cancel(r.Context(), model.TaskKey(account, name)); err != nil {
		s.logger.Error("cancel keepalive on delete", "account", account, "codespace", name, "error", err)
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	client, err := s.registry.Client(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	repository := r.URL.Query().Get("repository")
	if repository == "" {
		s.writeError(w, http.StatusBadRequest, "repository query parameter is required")
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = config.DefaultRef
	}

	machines, err := client.Machines(r.Context(), repository, ref)
	if err != nil {
		s.providerError(w, "list machines", err)
		return
	}
	if machines == nil {
		machines = []model.Machine{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"machines": machines})
}

// codespaceView renders a codespace with display-zone timestamps and its
// keepalive annotation.
func (s *Server) codespaceView(account string, cs *model.Codespace) codespaceView {
	view := codespaceView{
		Name:               cs.Name,
		State:              cs.State,
		Repository:         cs.Repository.FullName,
		Branch:             cs.GitStatus.Ref,
		Machine:            cs.Machine.DisplayName,
		Location:           cs.Location,
		WebURL:             cs.WebURL,
		IdleTimeoutMinutes: cs.IdleTimeoutMinutes,
	}
	if cs.LastUsedAt != nil {
		view.LastUsedAt = timefmt.Format(*cs.LastUsedAt, s.cfg.DisplayZone)
	}
	if cs.CreatedAt != nil {
		view.CreatedAt = timefmt.Format(*cs.CreatedAt, s.cfg.DisplayZone)
	}
	if task, ok := s.keeper.Task(model.TaskKey(account, cs.Name)); ok {
		kv := s.keepaliveView(task, time.Now())
		view.Keepalive = &kv
	}
	return view
}

// providerError maps an upstream API failure to a 502, anything else to a 500.
func (s *Server) providerError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	var apiErr *codespaces.APIError
	if errors.As(err, &apiErr) {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, "failed to "+op)
}
